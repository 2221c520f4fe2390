package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mediaforge/mediaforge/config"
	"github.com/mediaforge/mediaforge/internal/adapter/artifact/local"
	"github.com/mediaforge/mediaforge/internal/adapter/artifact/s3"
	"github.com/mediaforge/mediaforge/internal/adapter/encoder/ffmpeg"
	HTTPAdapter "github.com/mediaforge/mediaforge/internal/adapter/http"
	redisqueue "github.com/mediaforge/mediaforge/internal/adapter/queue/redis"
	sqlitestore "github.com/mediaforge/mediaforge/internal/adapter/storage/sqlite"
	"github.com/mediaforge/mediaforge/internal/infrastructure/logger"
	"github.com/mediaforge/mediaforge/internal/port"
	"github.com/mediaforge/mediaforge/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger.Info.Printf("starting mediaforge on port %d, queue=%s artifacts=%s",
		cfg.Port, cfg.QueueDriver, cfg.ArtifactDriver)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error.Printf("failed to create data directory: %v", err)
		os.Exit(1)
	}

	store, err := sqlitestore.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error.Printf("failed to create store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	queue, closeQueue, err := buildQueue(cfg, store)
	if err != nil {
		logger.Error.Printf("failed to create job queue: %v", err)
		os.Exit(1)
	}
	defer closeQueue()

	artifacts, err := buildArtifactStore(cfg)
	if err != nil {
		logger.Error.Printf("failed to create artifact store: %v", err)
		os.Exit(1)
	}

	eventBus := service.NewEventBus()
	builder := ffmpeg.NewBuilder(cfg.FFmpegPath, cfg.FFprobePath)
	executor := ffmpeg.NewExecutor(cfg.InvocationTimeout)

	workDir := filepath.Join(cfg.DataDir, "work")
	runner := service.NewRunner(store, artifacts, builder, executor, eventBus, workDir, cfg.InvocationTimeout)
	jobSvc := service.NewJobService(store, queue, artifacts, eventBus)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	workerPool := service.NewWorkerPool(queue, runner, cfg.Concurrency)
	workerPool.Start(workerCtx)

	server := HTTPAdapter.NewServer(jobSvc)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info.Printf("received %s, shutting down", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("http shutdown: %v", err)
		}

		// Stop claiming new tasks; in-flight invocations are killed by
		// their process-group reaper when the context is cancelled.
		workerCancel()
	}()

	logger.Info.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error.Printf("http server: %v", err)
		os.Exit(1)
	}

	workerPool.Wait()
	logger.Info.Printf("shutdown complete")
}

func buildQueue(cfg *config.Config, store *sqlitestore.Store) (port.JobQueue, func(), error) {
	switch cfg.QueueDriver {
	case "redis":
		q, err := redisqueue.NewJobQueue(context.Background(), cfg.RedisAddr, cfg.RedisDB, cfg.MaxTaskAttempts)
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	case "", "sqlite":
		return sqlitestore.NewJobQueue(store, cfg.MaxTaskAttempts), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

func buildArtifactStore(cfg *config.Config) (port.ArtifactStore, error) {
	switch cfg.ArtifactDriver {
	case "s3":
		return s3.NewStore(context.Background(), s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		}, filepath.Join(cfg.DataDir, "scratch"))
	case "", "local":
		return local.NewStore(filepath.Join(cfg.DataDir, "artifacts"))
	default:
		return nil, fmt.Errorf("unknown artifact driver %q", cfg.ArtifactDriver)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/infrastructure/logger"
	"github.com/mediaforge/mediaforge/internal/port"
)

// EventPublisher is the slice of the event bus the runner needs.
type EventPublisher interface {
	Publish(event domain.ProgressEvent)
}

// cancelPollInterval is how often an in-flight invocation checks whether the
// job was cancelled externally.
const cancelPollInterval = 2 * time.Second

// Runner drives one job execution: state transitions, encoder invocations,
// progress mapping and the terminal write. Execution failures are finalized
// on the job and absorbed; only infrastructure errors (store unreachable,
// artifact plumbing) escape to the caller so the queue can redeliver.
type Runner struct {
	store     port.JobStore
	artifacts port.ArtifactStore
	builder   port.InvocationBuilder
	executor  port.Executor
	bus       EventPublisher
	workDir   string
	timeout   time.Duration
}

func NewRunner(
	store port.JobStore,
	artifacts port.ArtifactStore,
	builder port.InvocationBuilder,
	executor port.Executor,
	bus EventPublisher,
	workDir string,
	timeout time.Duration,
) *Runner {
	return &Runner{
		store:     store,
		artifacts: artifacts,
		builder:   builder,
		executor:  executor,
		bus:       bus,
		workDir:   workDir,
		timeout:   timeout,
	}
}

func (r *Runner) Run(ctx context.Context, task *domain.Task) error {
	var job *domain.Job
	err := r.withRetry(ctx, func() error {
		var err error
		job, err = r.store.MarkProcessing(task.JobID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Job deleted while the task sat in the queue.
		logger.Info.Printf("job %s no longer exists, dropping task %s", task.JobID, task.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	// Redelivered task for a job that already finished: nothing to do,
	// and nothing may be overwritten.
	if job.IsTerminal() {
		logger.Info.Printf("job %s already %s, ignoring redelivery", job.ID, job.Status)
		return nil
	}

	r.bus.Publish(domain.ProgressEvent{
		JobID:     job.ID,
		Status:    domain.JobStatusProcessing,
		Progress:  job.Progress,
		Timestamp: time.Now(),
	})

	inputPath, cleanupInput, err := r.artifacts.ResolveInput(ctx, job.InputRef)
	if err != nil {
		return r.failJob(ctx, job.ID, fmt.Sprintf("resolve input: %v", err))
	}
	defer cleanupInput()

	scratchDir := filepath.Join(r.workDir, job.ID)
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratchDir) }()

	plan, err := r.builder.Build(ctx, port.BuildRequest{
		Kind:      job.Kind,
		JobID:     job.ID,
		InputPath: inputPath,
		OutputDir: scratchDir,
		Params:    job.Params,
	})
	if err != nil {
		return r.failJob(ctx, job.ID, fmt.Sprintf("build invocation: %v", err))
	}
	if len(plan.Invocations) == 0 {
		return r.failJob(ctx, job.ID, "nothing to execute")
	}

	tracker := newProgressTracker(job.ID, r.store, r.bus)

	for _, inv := range plan.Invocations {
		tracker.beginPhase(inv.Phase, inv.Weight)

		res, cancelled := r.runInvocation(ctx, job.ID, inv, tracker)
		if cancelled {
			// The cancel path already wrote the terminal state and
			// published its event; just stop.
			logger.Info.Printf("job %s cancelled mid-invocation", job.ID)
			return nil
		}
		if !res.Success {
			msg := "encoder failed"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			return r.failJob(ctx, job.ID, msg)
		}

		if inv.OutputPath != "" {
			if err := verifyOutputArtifact(inv.OutputPath); err != nil {
				return r.failJob(ctx, job.ID, fmt.Sprintf("%s: %v", inv.Phase, err))
			}
		}
		tracker.finishPhase()
	}

	if err := verifyOutputArtifact(plan.ResultPath); err != nil {
		return r.failJob(ctx, job.ID, err.Error())
	}

	outputRef, outputSize, err := r.artifacts.StoreOutput(ctx, plan.ResultPath, job.ID)
	if err != nil {
		return fmt.Errorf("store output: %w", err)
	}

	var applied bool
	err = r.withRetry(ctx, func() error {
		var err error
		applied, err = r.store.MarkCompleted(job.ID, outputRef, outputSize)
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !applied {
		// Lost the race against a duplicate delivery or an external
		// cancel; the artifact must not dangle.
		logger.Warn.Printf("job %s terminal write discarded, already finished", job.ID)
		_ = r.artifacts.Remove(ctx, outputRef)
		return nil
	}

	r.bus.Publish(domain.ProgressEvent{
		JobID:      job.ID,
		Status:     domain.JobStatusCompleted,
		Progress:   100,
		OutputRef:  outputRef,
		OutputSize: outputSize,
		Timestamp:  time.Now(),
	})
	return nil
}

// runInvocation drives a single encoder process, feeding parsed progress to
// the tracker and watching for external cancellation. The second return is
// true when the job was cancelled and the child killed.
func (r *Runner) runInvocation(ctx context.Context, jobID string, inv port.Invocation, tracker *progressTracker) (port.ExecResult, bool) {
	proc, err := r.executor.Start(ctx, inv, port.ExecOptions{
		Timeout:    r.timeout,
		OnProgress: tracker.Local,
		OnLog: func(line string) {
			logger.Debug.Printf("job %s [%s]: %s", jobID, inv.Phase, logger.SanitizeForLog(line))
		},
	})
	if err != nil {
		return port.ExecResult{Err: err}, false
	}

	// Cancellation is a store-level status flip; the runner is the one
	// that has to notice and put the child down.
	watchDone := make(chan struct{})
	cancelled := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchDone:
				return
			case <-ticker.C:
				current, err := r.store.Get(jobID)
				if err != nil {
					continue
				}
				if current.IsCancelled() {
					close(cancelled)
					proc.Kill()
					return
				}
			}
		}
	}()

	res := proc.Wait()
	close(watchDone)

	select {
	case <-cancelled:
		return res, true
	default:
		return res, false
	}
}

// failJob performs the terminal failed transition and publishes the terminal
// event. Returns an infrastructure error only when the store stayed
// unreachable through retries.
func (r *Runner) failJob(ctx context.Context, jobID, msg string) error {
	var applied bool
	err := r.withRetry(ctx, func() error {
		var err error
		applied, err = r.store.MarkFailed(jobID, msg)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	if !applied {
		logger.Warn.Printf("job %s failure write discarded, already finished: %s", jobID, logger.SanitizeForLog(msg))
		return nil
	}

	logger.Error.Printf("job %s failed: %s", jobID, logger.SanitizeForLog(msg))
	r.bus.Publish(domain.ProgressEvent{
		JobID:     jobID,
		Status:    domain.JobStatusFailed,
		Error:     msg,
		Timestamp: time.Now(),
	})
	return nil
}

// withRetry runs op with exponential backoff for transient infrastructure
// errors. Not-found is never transient.
func (r *Runner) withRetry(ctx context.Context, op func() error) error {
	backoff := retry.WithMaxRetries(4, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op()
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// verifyOutputArtifact enforces the post-condition that a successful encoder
// run actually produced something: a non-empty file, or a directory with at
// least one entry.
func verifyOutputArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrNoOutput, filepath.Base(path))
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil || len(entries) == 0 {
			return fmt.Errorf("%w: %s is empty", domain.ErrNoOutput, filepath.Base(path))
		}
		return nil
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", domain.ErrNoOutput, filepath.Base(path))
	}
	return nil
}

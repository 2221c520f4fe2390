package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mediaforge/mediaforge/internal/domain"
)

type Config struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	// QueueDriver selects the durable task queue: "sqlite" (default) or
	// "redis".
	QueueDriver string `yaml:"queue_driver"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`

	// ArtifactDriver selects where outputs are stored: "local" (default)
	// or "s3".
	ArtifactDriver string `yaml:"artifact_driver"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3UseSSL       bool   `yaml:"s3_use_ssl"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	// InvocationTimeout is the wall clock limit per encoder invocation,
	// not per job; multi-invocation jobs restart it for each invocation.
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`

	// MaxTaskAttempts bounds queue redeliveries before a task is failed
	// for good.
	MaxTaskAttempts int `yaml:"max_task_attempts"`

	// Concurrency is the worker count per job kind. Heavy kinds default
	// lower than lightweight ones.
	Concurrency map[domain.JobKind]int `yaml:"concurrency"`
}

func defaultConcurrency() map[domain.JobKind]int {
	return map[domain.JobKind]int{
		domain.JobKindCompress:     2,
		domain.JobKindConvert:      2,
		domain.JobKindTrim:         2,
		domain.JobKindGif:          2,
		domain.JobKindThumbnail:    3,
		domain.JobKindFrameExtract: 3,
	}
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              7891,
		DataDir:           "/data",
		QueueDriver:       "sqlite",
		RedisAddr:         "localhost:6379",
		ArtifactDriver:    "local",
		S3Endpoint:        "localhost:9000",
		S3Bucket:          "mediaforge",
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		InvocationTimeout: time.Hour,
		MaxTaskAttempts:   3,
		Concurrency:       defaultConcurrency(),
	}

	// A YAML file, when present, overrides the built-in defaults but not
	// explicit environment variables, which are applied afterwards.
	if path := configFilePath(); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	setEnv(&cfg.DataDir, "DATA_DIR")
	setEnv(&cfg.QueueDriver, "QUEUE_DRIVER")
	setEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setEnv(&cfg.ArtifactDriver, "ARTIFACT_DRIVER")
	setEnv(&cfg.S3Endpoint, "S3_ENDPOINT")
	setEnv(&cfg.S3AccessKey, "S3_ACCESS_KEY")
	setEnv(&cfg.S3SecretKey, "S3_SECRET_KEY")
	setEnv(&cfg.S3Bucket, "S3_BUCKET")
	setEnv(&cfg.FFmpegPath, "FFMPEG_PATH")
	setEnv(&cfg.FFprobePath, "FFPROBE_PATH")
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		cfg.S3UseSSL = v == "true"
	}

	port, err := strconv.Atoi(getEnv("PORT", strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	cfg.Port = port

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}

	if v := os.Getenv("INVOCATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid INVOCATION_TIMEOUT: %w", err)
		}
		cfg.InvocationTimeout = d
	}

	if v := os.Getenv("MAX_TASK_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_TASK_ATTEMPTS: %q", v)
		}
		cfg.MaxTaskAttempts = n
	}

	for kind, def := range defaultConcurrency() {
		if _, ok := cfg.Concurrency[kind]; !ok {
			cfg.Concurrency[kind] = def
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setEnv(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

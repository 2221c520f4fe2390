// Package redis provides a Redis-backed implementation of the durable task
// queue, for deployments that want the queue off the SQLite file. Pending
// tasks live in one list per job kind; a claimed task is moved to a
// processing list so a crashed worker's tasks can be requeued at startup.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/port"
)

const keyPrefix = "mediaforge:tasks"

type envelope struct {
	ID       string         `json:"id"`
	JobID    string         `json:"job_id"`
	Kind     domain.JobKind `json:"kind"`
	Attempts int64          `json:"attempts"`
	Created  time.Time      `json:"created_at"`
}

type JobQueue struct {
	client      *redis.Client
	maxAttempts int64
}

func NewJobQueue(ctx context.Context, addr string, db int, maxAttempts int) (*JobQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &JobQueue{client: client, maxAttempts: int64(maxAttempts)}, nil
}

func (q *JobQueue) Close() error {
	return q.client.Close()
}

func pendingKey(kind domain.JobKind) string {
	return fmt.Sprintf("%s:%s:pending", keyPrefix, kind)
}

func processingKey(kind domain.JobKind) string {
	return fmt.Sprintf("%s:%s:processing", keyPrefix, kind)
}

func (q *JobQueue) Enqueue(jobID string, kind domain.JobKind) (*domain.Task, error) {
	ctx := context.Background()
	env := envelope{
		ID:      uuid.New().String(),
		JobID:   jobID,
		Kind:    kind,
		Created: time.Now(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if err := q.client.RPush(ctx, pendingKey(kind), payload).Err(); err != nil {
		return nil, err
	}
	return taskFromEnvelope(env), nil
}

func (q *JobQueue) Claim(kinds ...domain.JobKind) (*domain.Task, error) {
	ctx := context.Background()
	for _, kind := range kinds {
		payload, err := q.client.LMove(ctx, pendingKey(kind), processingKey(kind), "LEFT", "RIGHT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			// Poison payload; drop it rather than wedge the queue.
			_ = q.client.LRem(ctx, processingKey(kind), 1, payload).Err()
			return nil, fmt.Errorf("invalid task payload: %w", err)
		}

		// The claimed attempt count comes from the new envelope so the
		// processing-list entry can be matched byte for byte later.
		env.Attempts++
		updated, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, processingKey(kind), 1, payload)
		pipe.RPush(ctx, processingKey(kind), updated)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return taskFromEnvelope(env), nil
	}
	return nil, nil
}

func (q *JobQueue) Complete(taskID string) error {
	return q.removeFromProcessing(taskID, nil)
}

func (q *JobQueue) Fail(taskID string, errMsg string) (bool, error) {
	ctx := context.Background()
	var requeued bool
	err := q.removeFromProcessing(taskID, func(kind domain.JobKind, env envelope) error {
		if env.Attempts >= q.maxAttempts {
			return nil
		}
		payload, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := q.client.RPush(ctx, pendingKey(kind), payload).Err(); err != nil {
			return err
		}
		requeued = true
		return nil
	})
	return requeued, err
}

// removeFromProcessing scans the processing lists for the task and removes
// it, invoking then with the decoded envelope when provided.
func (q *JobQueue) removeFromProcessing(taskID string, then func(domain.JobKind, envelope) error) error {
	ctx := context.Background()
	for _, kind := range domain.Kinds() {
		payloads, err := q.client.LRange(ctx, processingKey(kind), 0, -1).Result()
		if err != nil {
			return err
		}
		for _, payload := range payloads {
			var env envelope
			if err := json.Unmarshal([]byte(payload), &env); err != nil {
				continue
			}
			if env.ID != taskID {
				continue
			}
			if err := q.client.LRem(ctx, processingKey(kind), 1, payload).Err(); err != nil {
				return err
			}
			if then != nil {
				return then(kind, env)
			}
			return nil
		}
	}
	return nil
}

// ResetStalled moves everything from the processing lists back to pending.
// Called once at startup, before any worker claims.
func (q *JobQueue) ResetStalled() error {
	ctx := context.Background()
	for _, kind := range domain.Kinds() {
		for {
			_, err := q.client.LMove(ctx, processingKey(kind), pendingKey(kind), "LEFT", "RIGHT").Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					break
				}
				return err
			}
		}
	}
	return nil
}

func taskFromEnvelope(env envelope) *domain.Task {
	return &domain.Task{
		ID:        env.ID,
		JobID:     env.JobID,
		Kind:      env.Kind,
		Status:    domain.TaskStatusPending,
		Attempts:  env.Attempts,
		CreatedAt: env.Created,
	}
}

var _ port.JobQueue = (*JobQueue)(nil)

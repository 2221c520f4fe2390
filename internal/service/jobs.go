package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/infrastructure/logger"
	"github.com/mediaforge/mediaforge/internal/port"
)

// JobService is the submission-side surface: create and enqueue jobs, serve
// state snapshots, cancel and delete.
type JobService struct {
	store     port.JobStore
	queue     port.JobQueue
	artifacts port.ArtifactStore
	bus       *EventBus
}

func NewJobService(store port.JobStore, queue port.JobQueue, artifacts port.ArtifactStore, bus *EventBus) *JobService {
	return &JobService{
		store:     store,
		queue:     queue,
		artifacts: artifacts,
		bus:       bus,
	}
}

// Submit validates parameters, persists a pending job and enqueues its task.
// The job record exists before the task does, so a racing worker can always
// read it.
func (s *JobService) Submit(kind domain.JobKind, inputRef string, params []byte) (*domain.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown job kind: %s", kind)
	}
	if inputRef == "" {
		return nil, fmt.Errorf("input reference is required")
	}
	if err := domain.ValidateParams(kind, params); err != nil {
		return nil, err
	}

	job := domain.NewJob(kind, inputRef, params)
	if err := s.store.Save(job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	if _, err := s.queue.Enqueue(job.ID, kind); err != nil {
		// Without a task the record is an orphan; take it back out.
		_ = s.store.Delete(job.ID)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	logger.Info.Printf("job %s submitted (kind=%s)", job.ID, kind)
	return job, nil
}

// Snapshot is the polling fallback for clients that cannot hold an event
// stream.
func (s *JobService) Snapshot(id string) (*domain.Job, error) {
	return s.store.Get(id)
}

func (s *JobService) List() ([]*domain.Job, error) {
	return s.store.ListAll()
}

// Subscribe attaches a live event stream for a job. Callers must pair it
// with Unsubscribe unless the stream was closed by a terminal event.
func (s *JobService) Subscribe(id string) chan domain.ProgressEvent {
	return s.bus.Subscribe(id)
}

func (s *JobService) Unsubscribe(id string, ch chan domain.ProgressEvent) {
	s.bus.Unsubscribe(id, ch)
}

// Cancel flips a pending or processing job to failed with the cancellation
// sentinel. The running child process, if any, is killed by the runner's
// cancellation watch shortly after; a job that is already terminal is left
// alone.
func (s *JobService) Cancel(id string) error {
	job, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return domain.ErrAlreadyTerminal
	}

	applied, err := s.store.MarkFailed(id, domain.CancelledMessage)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrAlreadyTerminal
	}

	logger.Info.Printf("job %s cancelled", id)
	s.bus.Publish(domain.ProgressEvent{
		JobID:     id,
		Status:    domain.JobStatusFailed,
		Error:     domain.CancelledMessage,
		Timestamp: time.Now(),
	})
	return nil
}

// Delete removes a job record and its output artifact. An in-flight runner
// is not interrupted beyond cancellation; its later store writes find
// nothing and are swallowed.
func (s *JobService) Delete(ctx context.Context, id string) error {
	job, err := s.store.Get(id)
	if err != nil {
		return err
	}

	if !job.IsTerminal() {
		if err := s.Cancel(id); err != nil {
			logger.Warn.Printf("job %s: cancel before delete: %v", id, err)
		}
	}

	if job.OutputRef != "" {
		if err := s.artifacts.Remove(ctx, job.OutputRef); err != nil {
			logger.Warn.Printf("job %s: remove output artifact: %v", id, err)
		}
	}

	return s.store.Delete(id)
}

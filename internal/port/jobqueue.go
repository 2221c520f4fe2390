package port

import "github.com/mediaforge/mediaforge/internal/domain"

// JobQueue is a durable, at-least-once task queue keyed by job id. A claimed
// task whose worker crashes is redelivered after ResetStalled (or a driver's
// own recovery), so handlers must be idempotent per job id.
type JobQueue interface {
	Enqueue(jobID string, kind domain.JobKind) (*domain.Task, error)

	// Claim atomically takes the next pending task for one of the given
	// kinds. Returns (nil, nil) when no task is pending.
	Claim(kinds ...domain.JobKind) (*domain.Task, error)

	Complete(taskID string) error

	// Fail records the error and either requeues the task for another
	// attempt or, once attempts are exhausted, marks it failed for good.
	Fail(taskID string, errMsg string) (requeued bool, err error)

	// ResetStalled requeues tasks left in the running state by a previous
	// process. Called once at startup before workers begin claiming.
	ResetStalled() error
}

package port

import "github.com/mediaforge/mediaforge/internal/domain"

// JobStore is the single source of truth for job state. Implementations must
// serialize concurrent writes per job; the Mark* methods are guarded so a
// duplicate delivery can never produce a torn write or a second terminal
// transition.
type JobStore interface {
	Save(j *domain.Job) error
	Get(id string) (*domain.Job, error)
	Delete(id string) error
	ListAll() ([]*domain.Job, error)

	// MarkProcessing transitions a pending job to processing, setting
	// startedAt and resetting progress. If the job already left pending
	// (duplicate delivery, external cancel) it is a no-op; the current
	// record is returned either way.
	MarkProcessing(id string) (*domain.Job, error)

	// UpdateProgress overwrites progress for a job that is still
	// processing. Writes against non-processing jobs are silently ignored.
	UpdateProgress(id string, progress float64) error

	// MarkCompleted and MarkFailed perform the terminal transition. They
	// report applied=false, without error, when the job is already
	// terminal so callers can log and discard the duplicate.
	MarkCompleted(id, outputRef string, outputSize int64) (applied bool, err error)
	MarkFailed(id, errMsg string) (applied bool, err error)
}

package domain

import "time"

// ProgressEvent is the transient message fanned out to subscribers while a
// job executes. The Status field is the discriminant: progress updates carry
// JobStatusProcessing, terminal events carry completed or failed. The
// terminal event for a job is always the last one published.
type ProgressEvent struct {
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status"`
	Progress   float64   `json:"progress"`
	Phase      string    `json:"phase,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputRef  string    `json:"output_ref,omitempty"`
	OutputSize int64     `json:"output_size,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Terminal reports whether this event ends the job's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status == JobStatusCompleted || e.Status == JobStatusFailed
}

// ProgressEventFor builds a snapshot event from the current stored job state.
// Subscribers that connect mid-job receive this before any live events.
func ProgressEventFor(j *Job) ProgressEvent {
	e := ProgressEvent{
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Timestamp: time.Now(),
	}
	switch j.Status {
	case JobStatusCompleted:
		e.Progress = 100
		e.OutputRef = j.OutputRef
		e.OutputSize = j.OutputSize
	case JobStatusFailed:
		e.Error = j.ErrorMessage
	}
	return e
}

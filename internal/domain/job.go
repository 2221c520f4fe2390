package domain

import (
	"crypto/rand"
	"encoding/base32"
	"time"
)

type JobKind string

const (
	JobKindCompress     JobKind = "compress"
	JobKindConvert      JobKind = "convert"
	JobKindTrim         JobKind = "trim"
	JobKindGif          JobKind = "gif"
	JobKindThumbnail    JobKind = "thumbnail"
	JobKindFrameExtract JobKind = "frame_extract"
)

// Kinds lists every job kind a worker pool can be registered for.
func Kinds() []JobKind {
	return []JobKind{
		JobKindCompress,
		JobKindConvert,
		JobKindTrim,
		JobKindGif,
		JobKindThumbnail,
		JobKindFrameExtract,
	}
}

func (k JobKind) Valid() bool {
	switch k {
	case JobKindCompress, JobKindConvert, JobKindTrim, JobKindGif, JobKindThumbnail, JobKindFrameExtract:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// CancelledMessage is the sentinel error text written when a job is cancelled
// externally. Cancellation is modeled as a failed terminal state.
const CancelledMessage = "cancelled by user"

// MaxProcessingProgress is the highest progress a job may report while still
// processing. 100 is reserved for the terminal completed write so a client
// never sees 100% next to status=processing.
const MaxProcessingProgress = 99.5

type Job struct {
	ID           string    `json:"id"`
	Kind         JobKind   `json:"kind"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"`
	InputRef     string    `json:"input_ref"`
	OutputRef    string    `json:"output_ref,omitempty"`
	OutputSize   int64     `json:"output_size,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
	Params       []byte    `json:"params"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

func NewJob(kind JobKind, inputRef string, params []byte) *Job {
	return &Job{
		ID:        generateID(),
		Kind:      kind,
		Status:    JobStatusPending,
		InputRef:  inputRef,
		Params:    params,
		CreatedAt: time.Now(),
	}
}

func generateID() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base32.StdEncoding.EncodeToString(b)[:8]
}

func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

func (j *Job) IsCancelled() bool {
	return j.Status == JobStatusFailed && j.ErrorMessage == CancelledMessage
}

// ClampProgress bounds a progress value to what a processing job may report.
func ClampProgress(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > MaxProcessingProgress {
		return MaxProcessingProgress
	}
	return pct
}

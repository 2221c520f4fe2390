package port

import (
	"context"
	"time"

	"github.com/mediaforge/mediaforge/internal/domain"
)

// Invocation is one external encoder execution. A job may need several
// (two-pass compression, palette + encode, one per thumbnail timestamp).
type Invocation struct {
	// Argv is the full argument vector, binary first.
	Argv []string

	// OutputPath is the artifact this invocation must produce, empty for
	// invocations with no verifiable output of their own (e.g. pass 1 of
	// a two-pass encode writes only a log file).
	OutputPath string

	// Phase names the invocation for progress events ("pass1", "palette",
	// "thumbnail 2/4").
	Phase string

	// Weight is this invocation's share of the job's overall [0,100]
	// progress range. Weights across a plan sum to 1.
	Weight float64

	// InputDuration is the source duration in seconds, used to turn the
	// encoder's elapsed-time output into a percentage. 0 when unknown.
	InputDuration float64

	// TotalFrames, when known, switches progress parsing to the encoder's
	// frame counter instead of the elapsed-time heuristic.
	TotalFrames int64
}

// Plan is the full set of invocations for one job, in execution order.
type Plan struct {
	Invocations []Invocation

	// ResultPath is the artifact recorded as the job's output once every
	// invocation has succeeded. It may be a file or a directory.
	ResultPath string
}

// BuildRequest carries everything an invocation builder needs. The builder
// owns flag semantics; the runner only sees opaque argument vectors.
type BuildRequest struct {
	Kind      domain.JobKind
	JobID     string
	InputPath string
	OutputDir string
	Params    []byte
}

type InvocationBuilder interface {
	Build(ctx context.Context, req BuildRequest) (*Plan, error)
}

// ExecOptions configures one executor run.
type ExecOptions struct {
	// Timeout is the wall clock limit for this invocation. Zero means the
	// executor default (one hour).
	Timeout time.Duration

	// OnProgress receives parsed progress values in [0,100], rounded to
	// one decimal place, in order.
	OnProgress func(pct float64)

	// OnLog receives every output line from the child process.
	OnLog func(line string)
}

// ExecResult is the outcome of one invocation.
type ExecResult struct {
	Success  bool
	Err      error
	Duration time.Duration
}

// Process is a started encoder invocation.
type Process interface {
	// Wait blocks until the process exits, is killed, or times out.
	Wait() ExecResult

	// Kill forcibly terminates the process group. Idempotent and safe to
	// call after natural exit.
	Kill()
}

// Executor spawns one external encoder process per Start call. It never
// retries; callers decide what a failed execution means.
type Executor interface {
	Start(ctx context.Context, inv Invocation, opts ExecOptions) (Process, error)
}

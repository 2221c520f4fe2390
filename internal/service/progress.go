package service

import (
	"sync"
	"time"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/infrastructure/logger"
	"github.com/mediaforge/mediaforge/internal/port"
)

// Throttle bounds for progress writes: an update is persisted and published
// only after at least this much time AND this much change since the last
// one. Terminal events bypass the tracker entirely.
const (
	progressMinInterval = time.Second
	progressMinDelta    = 1.0
)

// progressTracker maps an invocation's local [0,100] progress into the job's
// overall range using the plan's phase weights, keeps the published sequence
// monotonic, and throttles store writes and events.
//
// Overall progress is (completed phase weights + current weight * local/100)
// * 100, clamped below 100 while processing. For equal-weight multi-item
// plans this reduces to (i + local/100) / N * 100.
type progressTracker struct {
	jobID string
	store port.JobStore
	bus   EventPublisher

	mu     sync.Mutex
	base   float64 // sum of completed phase weights, in [0,1]
	weight float64 // current phase weight
	phase  string

	lastPct float64
	lastAt  time.Time
}

func newProgressTracker(jobID string, store port.JobStore, bus EventPublisher) *progressTracker {
	return &progressTracker{
		jobID:   jobID,
		store:   store,
		bus:     bus,
		lastPct: -1,
	}
}

func (t *progressTracker) beginPhase(phase string, weight float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.weight = weight
}

// finishPhase folds the completed phase into the base and reports the phase
// boundary, exempt from the time throttle so multi-item jobs show each
// completed item.
func (t *progressTracker) finishPhase() {
	t.mu.Lock()
	t.base += t.weight
	t.weight = 0
	overall := domain.ClampProgress(t.base * 100)
	t.mu.Unlock()

	t.record(overall, true)
}

// Local receives one parsed progress value from the executor. Called from
// the executor's scan goroutine.
func (t *progressTracker) Local(pct float64) {
	t.mu.Lock()
	overall := domain.ClampProgress((t.base + t.weight*pct/100) * 100)
	t.mu.Unlock()

	t.record(overall, false)
}

func (t *progressTracker) record(overall float64, phaseBoundary bool) {
	t.mu.Lock()
	if overall <= t.lastPct {
		t.mu.Unlock()
		return
	}
	if !phaseBoundary {
		if time.Since(t.lastAt) < progressMinInterval || overall-t.lastPct < progressMinDelta {
			t.mu.Unlock()
			return
		}
	}
	phase := t.phase
	t.lastPct = overall
	t.lastAt = time.Now()
	t.mu.Unlock()

	if err := t.store.UpdateProgress(t.jobID, overall); err != nil {
		// Progress writes are best-effort; the next update catches up.
		logger.Warn.Printf("job %s: progress write failed: %v", t.jobID, err)
	}
	t.bus.Publish(domain.ProgressEvent{
		JobID:     t.jobID,
		Status:    domain.JobStatusProcessing,
		Progress:  overall,
		Phase:     phase,
		Timestamp: time.Now(),
	})
}

package service

import (
	"sync"
	"sync/atomic"

	"github.com/mediaforge/mediaforge/internal/domain"
)

// subscriberBuffer is the per-subscriber event buffer; a subscriber that
// falls further behind than this starts losing intermediate updates.
const subscriberBuffer = 16

// EventBus fans progress events out to subscribers keyed by job id. Delivery
// is best-effort and not durable: events published before a subscriber
// attaches are gone, so subscribers read the stored job state first and then
// follow live events. A terminal event closes every subscription for its job.
type EventBus struct {
	subscribers map[string][]chan domain.ProgressEvent
	mu          sync.Mutex
	dropped     atomic.Int64
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan domain.ProgressEvent),
	}
}

func (eb *EventBus) Subscribe(jobID string) chan domain.ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan domain.ProgressEvent, subscriberBuffer)
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)
	return ch
}

// Unsubscribe is safe to call while (or after) a terminal publish tears the
// subscription down; whichever side finds the channel first closes it.
func (eb *EventBus) Unsubscribe(jobID string, ch chan domain.ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

func (eb *EventBus) Publish(event domain.ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, ch := range eb.subscribers[event.JobID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
			eb.dropped.Add(1)
		}
	}

	// The terminal event is the last one for this job; close the stream.
	if event.Terminal() {
		for _, ch := range eb.subscribers[event.JobID] {
			close(ch)
		}
		delete(eb.subscribers, event.JobID)
	}
}

// Dropped returns how many events were discarded because a subscriber's
// buffer was full.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

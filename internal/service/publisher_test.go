package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/mediaforge/internal/domain"
)

func TestEventBus_FanOut(t *testing.T) {
	bus := NewEventBus()
	ch1 := bus.Subscribe("job1")
	ch2 := bus.Subscribe("job1")
	other := bus.Subscribe("job2")

	bus.Publish(domain.ProgressEvent{JobID: "job1", Status: domain.JobStatusProcessing, Progress: 10})

	for _, ch := range []chan domain.ProgressEvent{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, 10.0, e.Progress)
		default:
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other:
		t.Fatal("event leaked to another job's subscriber")
	default:
	}
}

func TestEventBus_TerminalClosesSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job1")

	bus.Publish(domain.ProgressEvent{JobID: "job1", Status: domain.JobStatusCompleted, Progress: 100})

	e, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCompleted, e.Status)

	_, ok = <-ch
	assert.False(t, ok, "channel closed after terminal event")

	// The subscription map entry is gone; a late unsubscribe is harmless.
	bus.Unsubscribe("job1", ch)
}

func TestEventBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job1")

	for i := 0; i < subscriberBuffer+5; i++ {
		bus.Publish(domain.ProgressEvent{JobID: "job1", Status: domain.JobStatusProcessing, Progress: float64(i)})
	}

	assert.Equal(t, int64(5), bus.Dropped())
	assert.Len(t, ch, subscriberBuffer)
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job1")
	bus.Unsubscribe("job1", ch)

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing afterwards must not panic on the closed channel.
	bus.Publish(domain.ProgressEvent{JobID: "job1", Status: domain.JobStatusProcessing})
}

func TestEventBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewEventBus()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch := bus.Subscribe("job1")
			time.Sleep(time.Millisecond)
			bus.Unsubscribe("job1", ch)
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			bus.Publish(domain.ProgressEvent{JobID: "job1", Status: domain.JobStatusProcessing, Progress: 1})
		}()
	}
	wg.Wait()
}

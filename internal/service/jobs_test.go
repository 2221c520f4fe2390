package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/mediaforge/internal/domain"
)

func newJobServiceFixture(t *testing.T) (*JobService, *fakeStore, *fakeQueue, *fakeArtifacts, *EventBus) {
	t.Helper()
	store := newFakeStore()
	queue := &fakeQueue{}
	artifacts := newFakeArtifacts(t.TempDir())
	bus := NewEventBus()
	return NewJobService(store, queue, artifacts, bus), store, queue, artifacts, bus
}

func TestJobService_Submit(t *testing.T) {
	svc, store, queue, _, _ := newJobServiceFixture(t)

	job, err := svc.Submit(domain.JobKindTrim, "clips/raw.mp4", []byte(`{"start_sec":0,"end_sec":5}`))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusPending, job.Status)

	stored, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobKindTrim, stored.Kind)

	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, job.ID, queue.tasks[0].JobID)
}

func TestJobService_Submit_Validation(t *testing.T) {
	svc, _, _, _, _ := newJobServiceFixture(t)

	_, err := svc.Submit(domain.JobKind("resize"), "in.mp4", nil)
	assert.Error(t, err, "unknown kind")

	_, err = svc.Submit(domain.JobKindCompress, "", nil)
	assert.Error(t, err, "missing input")

	_, err = svc.Submit(domain.JobKindTrim, "in.mp4", []byte(`{"start_sec":9,"end_sec":1}`))
	assert.Error(t, err, "invalid parameters")
}

func TestJobService_Submit_EnqueueFailureRollsBack(t *testing.T) {
	svc, store, queue, _, _ := newJobServiceFixture(t)
	queue.enqueueErr = assert.AnError

	_, err := svc.Submit(domain.JobKindCompress, "in.mp4", nil)
	require.Error(t, err)

	jobs, _ := store.ListAll()
	assert.Empty(t, jobs, "job must not linger unqueued")
}

func TestJobService_Cancel(t *testing.T) {
	svc, store, _, _, bus := newJobServiceFixture(t)

	job, err := svc.Submit(domain.JobKindGif, "in.mp4", []byte(`{"end_sec":3}`))
	require.NoError(t, err)

	ch := bus.Subscribe(job.ID)

	require.NoError(t, svc.Cancel(job.ID))

	stored, _ := store.Get(job.ID)
	assert.True(t, stored.IsCancelled())
	assert.Equal(t, domain.CancelledMessage, stored.ErrorMessage)

	e, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusFailed, e.Status)
	assert.Equal(t, domain.CancelledMessage, e.Error)
}

func TestJobService_Cancel_Terminal(t *testing.T) {
	svc, store, _, _, _ := newJobServiceFixture(t)

	job := domain.NewJob(domain.JobKindConvert, "in.mp4", nil)
	job.Status = domain.JobStatusCompleted
	store.put(job)

	err := svc.Cancel(job.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestJobService_Cancel_NotFound(t *testing.T) {
	svc, _, _, _, _ := newJobServiceFixture(t)
	assert.ErrorIs(t, svc.Cancel("missing"), domain.ErrNotFound)
}

func TestJobService_Delete(t *testing.T) {
	svc, store, _, artifacts, _ := newJobServiceFixture(t)

	job := domain.NewJob(domain.JobKindCompress, "in.mp4", nil)
	job.Status = domain.JobStatusCompleted
	job.OutputRef = job.ID + "/out.mp4"
	store.put(job)

	require.NoError(t, svc.Delete(context.Background(), job.ID))

	_, err := store.Get(job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, artifacts.removed, job.OutputRef)
}

func TestJobService_Delete_CancelsActiveJob(t *testing.T) {
	svc, store, _, _, _ := newJobServiceFixture(t)

	job := domain.NewJob(domain.JobKindCompress, "in.mp4", nil)
	job.Status = domain.JobStatusProcessing
	store.put(job)

	require.NoError(t, svc.Delete(context.Background(), job.ID))

	_, err := store.Get(job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobService_Snapshot(t *testing.T) {
	svc, store, _, _, _ := newJobServiceFixture(t)

	job := domain.NewJob(domain.JobKindTrim, "in.mp4", nil)
	store.put(job)

	got, err := svc.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = svc.Snapshot("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

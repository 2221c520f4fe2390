package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/port"
	"github.com/mediaforge/mediaforge/internal/service"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	// onGet, when set, runs after each read with the lock released.
	onGet func(id string)
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.Job)}
}

func (s *memStore) Save(j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *memStore) Get(id string) (*domain.Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	cp := *j
	s.mu.Unlock()
	if s.onGet != nil {
		s.onGet(id)
	}
	return &cp, nil
}

func (s *memStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *memStore) ListAll() ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) MarkProcessing(id string) (*domain.Job, error) {
	return s.Get(id)
}

func (s *memStore) UpdateProgress(id string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == domain.JobStatusProcessing {
		j.Progress = progress
	}
	return nil
}

func (s *memStore) MarkCompleted(id, outputRef string, outputSize int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.IsTerminal() {
		return false, nil
	}
	j.Status = domain.JobStatusCompleted
	j.Progress = 100
	j.OutputRef = outputRef
	j.OutputSize = outputSize
	return true, nil
}

func (s *memStore) MarkFailed(id, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.IsTerminal() {
		return false, nil
	}
	j.Status = domain.JobStatusFailed
	j.ErrorMessage = errMsg
	return true, nil
}

type memQueue struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (q *memQueue) Enqueue(jobID string, kind domain.JobKind) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task := &domain.Task{ID: fmt.Sprintf("t%d", len(q.tasks)+1), JobID: jobID, Kind: kind}
	q.tasks = append(q.tasks, task)
	return task, nil
}

func (q *memQueue) Claim(kinds ...domain.JobKind) (*domain.Task, error) { return nil, nil }
func (q *memQueue) Complete(taskID string) error                       { return nil }
func (q *memQueue) Fail(taskID, errMsg string) (bool, error)           { return false, nil }
func (q *memQueue) ResetStalled() error                                { return nil }

type memArtifacts struct {
	mu      sync.Mutex
	removed []string
}

func (a *memArtifacts) ResolveInput(_ context.Context, ref string) (string, func(), error) {
	return ref, func() {}, nil
}

func (a *memArtifacts) StoreOutput(_ context.Context, localPath, jobID string) (string, int64, error) {
	return jobID + "/" + localPath, 1, nil
}

func (a *memArtifacts) Remove(_ context.Context, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, ref)
	return nil
}

var (
	_ port.JobStore      = (*memStore)(nil)
	_ port.JobQueue      = (*memQueue)(nil)
	_ port.ArtifactStore = (*memArtifacts)(nil)
)

type apiFixture struct {
	store   *memStore
	bus     *service.EventBus
	jobSvc  *service.JobService
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := newMemStore()
	bus := service.NewEventBus()
	jobSvc := service.NewJobService(store, &memQueue{}, &memArtifacts{}, bus)
	return &apiFixture{
		store:   store,
		bus:     bus,
		jobSvc:  jobSvc,
		handler: NewServer(jobSvc).Handler(),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestAPI_SubmitJob(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs",
		`{"kind":"trim","input_ref":"clips/raw.mp4","params":{"start_sec":0,"end_sec":5}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "trim", resp.Kind)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "clips/raw.mp4", resp.InputRef)
}

func TestAPI_SubmitJob_Invalid(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"unknown kind", `{"kind":"resize","input_ref":"a.mp4"}`},
		{"missing input", `{"kind":"compress"}`},
		{"bad params", `{"kind":"trim","input_ref":"a.mp4","params":{"start_sec":9,"end_sec":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAPI_GetJob(t *testing.T) {
	f := newAPIFixture(t)

	job, err := f.jobSvc.Submit(domain.JobKindCompress, "in.mp4", nil)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.ID)

	w = f.do(t, http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_ListJobs(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.jobSvc.Submit(domain.JobKindCompress, "a.mp4", nil)
	require.NoError(t, err)
	_, err = f.jobSvc.Submit(domain.JobKindConvert, "b.mp4", []byte(`{"container":"webm"}`))
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp []jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}

func TestAPI_CancelJob(t *testing.T) {
	f := newAPIFixture(t)

	job, err := f.jobSvc.Submit(domain.JobKindGif, "in.mp4", []byte(`{"end_sec":3}`))
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	got, _ := f.store.Get(job.ID)
	assert.True(t, got.IsCancelled())

	// A second cancel hits the terminal guard.
	w = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/jobs/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_DeleteJob(t *testing.T) {
	f := newAPIFixture(t)

	job, err := f.jobSvc.Submit(domain.JobKindCompress, "in.mp4", nil)
	require.NoError(t, err)

	w := f.do(t, http.MethodDelete, "/api/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/api/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

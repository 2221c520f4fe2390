package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/port"
)

// fakeStore is an in-memory JobStore with the same terminal-write guards as
// the SQLite adapter.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	progress []float64

	markProcessingErr error
	updateErr         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*domain.Job)}
}

func (s *fakeStore) put(j *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
}

func (s *fakeStore) Save(j *domain.Job) error {
	s.put(j)
	return nil
}

func (s *fakeStore) Get(id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *fakeStore) ListAll() ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) MarkProcessing(id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markProcessingErr != nil {
		return nil, s.markProcessingErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status == domain.JobStatusPending {
		j.Status = domain.JobStatusProcessing
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) UpdateProgress(id string, pct float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Progress = pct
	s.progress = append(s.progress, pct)
	return nil
}

func (s *fakeStore) MarkCompleted(id string, outputRef string, outputSize int64) (bool, error) {
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

func (s *fakeStore) MarkFailed(id string, msg string) (bool, error) {
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
	j.ErrorMessage = msg
	return true, nil
}

func (s *fakeStore) recorded() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.progress...)
}

type fakeQueue struct {
	mu       sync.Mutex
	tasks    []*domain.Task
	complete []string
	failed   []string
	requeue  bool

	enqueueErr error
}

func (q *fakeQueue) Enqueue(jobID string, kind domain.JobKind) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	task := &domain.Task{
		ID:     fmt.Sprintf("t%d", len(q.tasks)+1),
		JobID:  jobID,
		Kind:   kind,
		Status: domain.TaskStatusPending,
	}
	q.tasks = append(q.tasks, task)
	return task, nil
}

func (q *fakeQueue) Claim(kinds ...domain.JobKind) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, task := range q.tasks {
		for _, k := range kinds {
			if task.Kind == k {
				q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
				return task, nil
			}
		}
	}
	return nil, nil
}

func (q *fakeQueue) Complete(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.complete = append(q.complete, taskID)
	return nil
}

func (q *fakeQueue) Fail(taskID string, errMsg string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, taskID)
	return q.requeue, nil
}

func (q *fakeQueue) ResetStalled() error { return nil }

// fakeArtifacts resolves every input to a scratch file and stores outputs by
// recording the call.
type fakeArtifacts struct {
	mu      sync.Mutex
	dir     string
	stored  []string
	removed []string

	resolveErr error
	storeErr   error
}

func newFakeArtifacts(dir string) *fakeArtifacts {
	return &fakeArtifacts{dir: dir}
}

func (a *fakeArtifacts) ResolveInput(_ context.Context, ref string) (string, func(), error) {
	if a.resolveErr != nil {
		return "", nil, a.resolveErr
	}
	path := filepath.Join(a.dir, "input_"+filepath.Base(ref))
	if err := os.WriteFile(path, []byte("input"), 0o644); err != nil {
		return "", nil, err
	}
	return path, func() {}, nil
}

func (a *fakeArtifacts) StoreOutput(_ context.Context, localPath string, jobID string) (string, int64, error) {
	if a.storeErr != nil {
		return "", 0, a.storeErr
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", 0, err
	}
	size := info.Size()
	if info.IsDir() {
		size = 0
		entries, _ := os.ReadDir(localPath)
		for _, e := range entries {
			if fi, err := e.Info(); err == nil {
				size += fi.Size()
			}
		}
	}
	ref := jobID + "/" + filepath.Base(localPath)
	a.mu.Lock()
	a.stored = append(a.stored, ref)
	a.mu.Unlock()
	return ref, size, nil
}

func (a *fakeArtifacts) Remove(_ context.Context, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, ref)
	return nil
}

// fakeBuilder delegates to a per-test closure.
type fakeBuilder struct {
	build func(ctx context.Context, req port.BuildRequest) (*port.Plan, error)
}

func (b *fakeBuilder) Build(ctx context.Context, req port.BuildRequest) (*port.Plan, error) {
	return b.build(ctx, req)
}

// fakeExecutor hands out scripted processes. The default script succeeds and
// writes a small file at the invocation's output path.
type fakeExecutor struct {
	mu      sync.Mutex
	started []port.Invocation
	onStart func(inv port.Invocation, opts port.ExecOptions) *fakeProcess
}

func (e *fakeExecutor) Start(_ context.Context, inv port.Invocation, opts port.ExecOptions) (port.Process, error) {
	e.mu.Lock()
	e.started = append(e.started, inv)
	e.mu.Unlock()
	if e.onStart != nil {
		return e.onStart(inv, opts), nil
	}
	if inv.OutputPath != "" {
		if err := os.WriteFile(inv.OutputPath, []byte("out"), 0o644); err != nil {
			return nil, err
		}
	}
	return &fakeProcess{result: port.ExecResult{Success: true}}, nil
}

func (e *fakeExecutor) startedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.started)
}

type fakeProcess struct {
	result   port.ExecResult
	block    chan struct{} // when set, Wait blocks until closed
	killOnce sync.Once
	killed   chan struct{}
}

func newBlockingProcess(result port.ExecResult) *fakeProcess {
	return &fakeProcess{
		result: result,
		block:  make(chan struct{}),
		killed: make(chan struct{}),
	}
}

func (p *fakeProcess) Wait() port.ExecResult {
	if p.block != nil {
		<-p.block
	}
	return p.result
}

func (p *fakeProcess) Kill() {
	p.killOnce.Do(func() {
		if p.killed != nil {
			close(p.killed)
		}
		if p.block != nil {
			close(p.block)
		}
	})
}

// eventRecorder captures published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *eventRecorder) Publish(event domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProgressEvent(nil), r.events...)
}

func (r *eventRecorder) last() (domain.ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return domain.ProgressEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

var (
	_ port.JobStore          = (*fakeStore)(nil)
	_ port.JobQueue          = (*fakeQueue)(nil)
	_ port.ArtifactStore     = (*fakeArtifacts)(nil)
	_ port.InvocationBuilder = (*fakeBuilder)(nil)
	_ port.Executor          = (*fakeExecutor)(nil)
)

package job

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zplmerge/internal/labelary"
	"zplmerge/internal/run"
)

// Manager accepts uploads and converts them in the background, one run per
// free slot. Jobs live in memory for the lifetime of the process.
type Manager struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	semaphore chan struct{}
	newRunner RunnerFactory
	observer  Observer
	workersWG sync.WaitGroup
	baseCtx   context.Context
	store     JobStore
}

// NewManager creates a manager with default options suitable for tests.
func NewManager() *Manager {
	return NewManagerWithOptions(Options{DataDir: "data"})
}

// NewManagerWithOptions creates a manager with provided configuration.
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = defaultMaxConcurrent
	}
	if opts.Store == nil {
		opts.Store = NewFileStore(nil, opts.DataDir)
	}
	if opts.NewRunner == nil {
		opts.NewRunner = DefaultRunnerFactory(func() run.Renderer { return labelary.New(labelary.Options{}) }, run.Options{})
	}
	return &Manager{
		jobs:      make(map[string]*Job),
		semaphore: make(chan struct{}, opts.MaxConcurrentRuns),
		newRunner: opts.NewRunner,
		observer:  opts.Observer,
		baseCtx:   context.Background(),
		store:     opts.Store,
	}
}

// DefaultRunnerFactory builds a fresh renderer and runner per job so no
// throttle or hook state is shared between runs.
func DefaultRunnerFactory(newRenderer func() run.Renderer, base run.Options) RunnerFactory {
	return func(page labelary.Page, reporter run.Reporter) RunFunc {
		opts := base
		opts.Page = page
		opts.Reporter = reporter
		return run.New(newRenderer(), opts).Run
	}
}

// IsBusy reports whether every run slot is taken.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// Submit registers an upload and starts converting it. It fails fast with
// ErrBusy when no run slot is free.
func (m *Manager) Submit(title string, raw []byte, page labelary.Page) (Job, error) {
	if len(raw) == 0 {
		return Job{}, ErrNoInput
	}
	if err := page.Validate(); err != nil {
		return Job{}, newErrInvalidPage(err)
	}

	select {
	case m.semaphore <- struct{}{}:
	default:
		return Job{}, ErrBusy
	}

	newJob := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		CreatedAt: time.Now(),
		Title:     title,
		Page:      page,
	}
	m.mu.Lock()
	m.jobs[newJob.ID] = newJob
	snap := newJob.snapshot()
	m.mu.Unlock()

	m.persistJob(newJob)

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.process(newJob.ID, raw)
	}()
	return snap, nil
}

// GetJob returns a copy of the job.
func (m *Manager) GetJob(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return found.snapshot(), true
}

// OpenDocument opens the merged PDF of a ready job.
func (m *Manager) OpenDocument(ctx context.Context, jobID string) (io.ReadCloser, int64, error) {
	j, ok := m.GetJob(jobID)
	if !ok {
		return nil, 0, ErrJobNotFound
	}
	if j.Status != StatusReady || j.DocumentPath == "" {
		return nil, 0, ErrDocumentNotReady
	}
	return m.store.OpenDocument(ctx, jobID) //nolint:wrapcheck
}

// SetBaseContext sets the context runs derive from. Intended to be set at
// process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight runs finish or the context is done.
// Returns true if all runs finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// UseRunnerFactory allows tests to inject a fake run.
// Not safe for concurrent mutation with running jobs; intended for test setup only.
func (m *Manager) UseRunnerFactory(factory RunnerFactory) {
	m.mu.Lock()
	m.newRunner = factory
	m.mu.Unlock()
}

// persistJob writes a snapshot of the job to the store; failures are logged only.
func (m *Manager) persistJob(j *Job) {
	m.mu.RLock()
	snap := j.snapshot()
	m.mu.RUnlock()
	if err := m.store.SaveJob(context.Background(), &snap); err != nil {
		log.Warn().Str("job_id", j.ID).Err(err).Msg("persist job failed")
	}
}

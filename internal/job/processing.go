package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"zplmerge/internal/run"
)

// Run results reported to the observer.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultFailed  = "failed"
	ResultEmpty   = "empty"
)

// process runs the conversion for a job that already holds a run slot.
func (m *Manager) process(jobID string, raw []byte) {
	m.mu.Lock()
	current, found := m.jobs[jobID]
	if !found {
		m.mu.Unlock()
		return
	}
	current.Status = StatusInProgress
	factory := m.newRunner
	page := current.Page
	processingContext := m.baseCtx
	m.mu.Unlock()
	m.persistJob(current)

	if processingContext == nil {
		processingContext = context.Background()
	}
	reporter := run.MultiReporter(run.ReporterFunc(func(e run.Event) { m.recordEvent(current, e) }), m.observerReporter())
	outcome, err := safeRun(func() (*run.Outcome, error) {
		return factory(page, reporter)(processingContext, raw)
	})

	m.mu.Lock()
	if outcome != nil {
		current.Strategy = outcome.Strategy
		current.Blocks = outcome.Blocks
		current.Labels = outcome.Labels
		current.Batches = outcome.Batches
		current.Succeeded = outcome.Succeeded
		current.Pages = outcome.Pages
		current.Failures = outcome.Failures
	}
	m.mu.Unlock()

	result := ResultFailed
	switch {
	case errors.Is(err, run.ErrNoBlocks):
		result = ResultEmpty
		m.finish(current, StatusEmpty, err.Error(), "")
	case err != nil:
		m.finish(current, StatusFailed, err.Error(), "")
	default:
		path, saveErr := m.store.SaveDocument(processingContext, current.ID, outcome.Document)
		if saveErr != nil {
			m.finish(current, StatusFailed, saveErr.Error(), "")
			break
		}
		result = ResultOK
		if len(outcome.Failures) > 0 {
			result = ResultPartial
		}
		m.finish(current, StatusReady, "", path)
	}

	if m.observer != nil {
		m.observer.RunFinished(result)
	}
	log.Info().Str("job_id", current.ID).Str("result", result).Msg("job finished")
}

// safeRun turns a panic inside a run into an error so one bad upload cannot
// take the worker down with it.
func safeRun(fn func() (*run.Outcome, error)) (outcome *run.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("run panicked")
			outcome, err = nil, fmt.Errorf("%w: %v", ErrRunPanicked, r)
		}
	}()
	return fn()
}

func (m *Manager) finish(j *Job, status Status, msg, documentPath string) {
	m.mu.Lock()
	j.Status = status
	j.Error = msg
	j.DocumentPath = documentPath
	j.FinishedAt = time.Now()
	if status == StatusReady {
		j.Progress = 1
	}
	m.mu.Unlock()
	m.persistJob(j)
}

func (m *Manager) observerReporter() run.Reporter { //nolint:ireturn
	if m.observer == nil {
		return nil
	}
	return m.observer
}

// recordEvent appends e to the job's event log, keeping only the most recent
// maxEventsPerJob entries.
func (m *Manager) recordEvent(j *Job, e run.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.Events = append(j.Events, e)
	if over := len(j.Events) - maxEventsPerJob; over > 0 {
		j.Events = append(j.Events[:0:0], j.Events[over:]...)
	}
	if e.Progress > j.Progress {
		j.Progress = e.Progress
	}
	if e.Batches > 0 {
		j.Batches = e.Batches
	}
}

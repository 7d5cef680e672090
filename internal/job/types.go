package job

import (
	"context"
	"time"

	"zplmerge/internal/labelary"
	"zplmerge/internal/run"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusReady      Status = "ready"
	StatusEmpty      Status = "empty"
	StatusFailed     Status = "failed"
)

// Job is one uploaded file and the run that converts it.
type Job struct {
	ID           string        `json:"id"`
	Status       Status        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	FinishedAt   time.Time     `json:"finished_at,omitzero"`
	Title        string        `json:"title"`
	Page         labelary.Page `json:"page"`
	Strategy     run.Strategy  `json:"strategy"`
	Blocks       int           `json:"blocks"`
	Labels       int           `json:"labels"`
	Batches      int           `json:"batches"`
	Succeeded    int           `json:"succeeded"`
	Pages        int           `json:"pages"`
	Progress     float64       `json:"progress"`
	Failures     []run.Failure `json:"failures"`
	Events       []run.Event   `json:"events"`
	Error        string        `json:"error,omitempty"`
	DocumentPath string        `json:"document_path,omitempty"`
}

// snapshot copies the job so callers can read it without holding the lock.
func (j *Job) snapshot() Job {
	cp := *j
	cp.Failures = append([]run.Failure(nil), j.Failures...)
	cp.Events = append([]run.Event(nil), j.Events...)
	return cp
}

// RunFunc performs one run. run.Runner.Run satisfies it.
type RunFunc func(ctx context.Context, raw []byte) (*run.Outcome, error)

// RunnerFactory builds the run for a job, wiring reporter into it.
type RunnerFactory func(page labelary.Page, reporter run.Reporter) RunFunc

// Observer is told about every event and every finished run (e.g. metrics).
type Observer interface {
	run.Reporter
	RunFinished(result string)
}

type Options struct {
	DataDir           string
	MaxConcurrentRuns int
	Store             JobStore
	NewRunner         RunnerFactory
	Observer          Observer
}

const (
	defaultMaxConcurrent = 1
	maxEventsPerJob      = 1000
)

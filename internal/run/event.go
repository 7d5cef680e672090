package run

import (
	"time"
)

type EventKind string

const (
	EventParsed         EventKind = "parsed"
	EventPlanned        EventKind = "planned"
	EventBatchStarted   EventKind = "batch_started"
	EventAttempt        EventKind = "attempt"
	EventRetry          EventKind = "retry_scheduled"
	EventBatchSucceeded EventKind = "batch_succeeded"
	EventBatchFailed    EventKind = "batch_failed"
	EventChunkShrunk    EventKind = "chunk_shrunk"
	EventBlockSkipped   EventKind = "block_skipped"
	EventMerged         EventKind = "merged"
	EventFinished       EventKind = "finished"
)

// Event is a progress notification emitted while a run is in flight.
type Event struct {
	Kind      EventKind     `json:"kind"`
	Time      time.Time     `json:"time"`
	Batch     int           `json:"batch,omitempty"`
	Batches   int           `json:"batches,omitempty"` // total, estimated for the adaptive strategy
	Blocks    []int         `json:"blocks,omitempty"`
	Labels    int           `json:"labels,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	Attempts  int           `json:"attempts,omitempty"`
	Status    int           `json:"status,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	ChunkSize int           `json:"chunk_size,omitempty"`
	Progress  float64       `json:"progress"`
	Message   string        `json:"message,omitempty"`
}

// Reporter receives events in the order they happen.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

type multiReporter []Reporter

func (m multiReporter) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// MultiReporter fans events out to every non-nil reporter.
func MultiReporter(reporters ...Reporter) Reporter { //nolint:ireturn
	out := make(multiReporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type nopReporter struct{}

func (nopReporter) Report(Event) {}

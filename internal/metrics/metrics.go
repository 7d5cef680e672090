package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"zplmerge/internal/run"
)

const namespace = "zplmerge"

// Metrics turns run events into Prometheus series.
type Metrics struct {
	batches  *prometheus.CounterVec
	attempts prometheus.Counter
	retries  *prometheus.CounterVec
	shrinks  prometheus.Counter
	labels   prometheus.Counter
	runs     *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches delivered to the renderer by result.",
		}, []string{"result"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_attempts_total",
			Help:      "HTTP calls made to the renderer.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_retries_total",
			Help:      "Retries scheduled after transient failures by status (0 is a transport error).",
		}, []string{"status"}),
		shrinks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_shrinks_total",
			Help:      "Times the adaptive strategy halved its chunk size.",
		}),
		labels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "labels_rendered_total",
			Help:      "Label copies in successfully rendered batches.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.batches, m.attempts, m.retries, m.shrinks, m.labels, m.runs)
	return m
}

// Report implements run.Reporter.
func (m *Metrics) Report(e run.Event) {
	switch e.Kind {
	case run.EventAttempt:
		m.attempts.Inc()
	case run.EventRetry:
		m.retries.WithLabelValues(strconv.Itoa(e.Status)).Inc()
	case run.EventBatchSucceeded:
		m.batches.WithLabelValues("ok").Inc()
		m.labels.Add(float64(e.Labels))
	case run.EventBatchFailed:
		m.batches.WithLabelValues("failed").Inc()
	case run.EventChunkShrunk:
		m.shrinks.Inc()
	}
}

// RunFinished counts a finished run; result is "ok", "partial", "failed" or "empty".
func (m *Metrics) RunFinished(result string) {
	m.runs.WithLabelValues(result).Inc()
}

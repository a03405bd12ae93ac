// Package monitoring exposes ingestion metrics, a ledger status snapshot and
// webhook alerts for files that keep failing.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/txn-audit/internal/model"
)

const namespace = "txn_audit"

// Metrics records loop outcomes as Prometheus collectors on a private registry.
// It satisfies ingest.Observer.
type Metrics struct {
	registry *prometheus.Registry

	filesProcessed prometheus.Counter
	filesFailed    *prometheus.CounterVec
	exceptions     *prometheus.CounterVec
	rows           prometheus.Counter
	amountCoerced  prometheus.Counter
	dateInvalid    prometheus.Counter
	cycleDuration  prometheus.Histogram
	candidates     prometheus.Gauge
}

// NewMetrics creates and registers the ingestion collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		filesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Input files reported and recorded in the ledger.",
		}),
		filesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Failed processing attempts by pipeline stage.",
		}, []string{"stage"}),
		exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exceptions_total",
			Help:      "Exceptions reported by rule.",
		}, []string{"rule"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Transaction rows evaluated.",
		}),
		amountCoerced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_coerced_total",
			Help:      "Amount values that failed to parse and were coerced to zero.",
		}),
		dateInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "date_invalid_total",
			Help:      "Posting dates that failed to parse.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one discovery and processing pass.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_candidates",
			Help:      "Unprocessed files found by the last pass.",
		}),
	}
	m.registry.MustRegister(
		m.filesProcessed, m.filesFailed, m.exceptions,
		m.rows, m.amountCoerced, m.dateInvalid,
		m.cycleDuration, m.candidates,
	)
	return m
}

// Registry returns the registry holding the ingestion collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FileProcessed records a successfully reported file.
func (m *Metrics) FileProcessed(r *model.Report) {
	m.filesProcessed.Inc()
	m.rows.Add(float64(r.Stats.Rows))
	m.amountCoerced.Add(float64(r.Stats.AmountCoerced))
	m.dateInvalid.Add(float64(r.Stats.DateInvalid))
	for _, c := range r.Summary {
		m.exceptions.WithLabelValues(c.Rule).Add(float64(c.Count))
	}
}

// FileFailed records a failed attempt at stage.
func (m *Metrics) FileFailed(stage model.Stage) {
	m.filesFailed.WithLabelValues(string(stage)).Inc()
}

// CycleCompleted records one pass.
func (m *Metrics) CycleCompleted(candidates int, elapsed time.Duration) {
	m.candidates.Set(float64(candidates))
	m.cycleDuration.Observe(elapsed.Seconds())
}

// Package metrics exposes Prometheus instruments for matching, attendance
// and synchronization.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the rollcall instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Match outcomes: matched, no_match, no_enrollment
	MatchOutcome *prometheus.CounterVec

	// Gallery scan latency per candidate batch
	MatchLatency prometheus.Histogram

	// Attendance results: recorded, already_marked
	Attendance *prometheus.CounterVec

	// Sync batches by direction and result
	SyncBatches *prometheus.CounterVec

	// Records carried by successful batches, by direction
	SyncRecords *prometheus.CounterVec

	// Reindex runs by result
	Reindex *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry, so several
// instances can coexist in one process (tests, embedded servers).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MatchOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_match_outcomes_total",
			Help: "Total match attempts by outcome",
		}, []string{"outcome"}),

		MatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_match_duration_seconds",
			Help:    "Duration of a gallery scan for one capture",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),

		Attendance: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_attendance_total",
			Help: "Attendance record calls by status",
		}, []string{"status"}),

		SyncBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_sync_batches_total",
			Help: "Sync batches by direction and result",
		}, []string{"direction", "result"}),

		SyncRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_sync_records_total",
			Help: "Records carried by successful sync batches",
		}, []string{"direction"}),

		Reindex: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_reindex_total",
			Help: "Reindex runs by result",
		}, []string{"result"}),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMatch records one match outcome.
func (m *Metrics) ObserveMatch(outcome string) {
	if m != nil {
		m.MatchOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveMatchLatency records the duration of one gallery scan.
func (m *Metrics) ObserveMatchLatency(d time.Duration) {
	if m != nil {
		m.MatchLatency.Observe(d.Seconds())
	}
}

// ObserveAttendance records one ledger result.
func (m *Metrics) ObserveAttendance(status string) {
	if m != nil {
		m.Attendance.WithLabelValues(status).Inc()
	}
}

// ObserveSync records a sync batch. records is only counted on success.
func (m *Metrics) ObserveSync(direction string, ok bool, records int) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
		m.SyncRecords.WithLabelValues(direction).Add(float64(records))
	}
	m.SyncBatches.WithLabelValues(direction, result).Inc()
}

// ObserveReindex records a reindex run.
func (m *Metrics) ObserveReindex(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.Reindex.WithLabelValues(result).Inc()
}

// Package metrics defines and registers the Prometheus metrics exposed by
// the replicator and query bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RevsPushedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicore_revs_pushed_total",
			Help: "Total number of revisions successfully sent to the peer",
		},
		[]string{"remote"},
	)

	RevsPulledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicore_revs_pulled_total",
			Help: "Total number of revisions successfully inserted from the peer",
		},
		[]string{"remote"},
	)

	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicore_conflicts_total",
			Help: "Total number of document conflicts surfaced during pull",
		},
		[]string{"remote"},
	)

	PushCheckpointSequence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replicore_push_checkpoint_sequence",
			Help: "Last local sequence acknowledged as pushed",
		},
		[]string{"remote"},
	)

	InsertBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replicore_insert_batch_size",
			Help:    "Number of revisions committed per insert batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 200, 500},
		},
	)

	CookieJarSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replicore_cookie_jar_size",
			Help: "Number of cookies currently held by the cookie jar",
		},
	)

	TransportReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicore_transport_reconnects_total",
			Help: "Total number of transport reconnect attempts after a transient error",
		},
		[]string{"remote"},
	)

	FleeceFunctionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replicore_fleece_function_duration_seconds",
			Help:    "Execution time of Fleece SQL host functions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)
)

func init() {
	prometheus.MustRegister(
		RevsPushedTotal,
		RevsPulledTotal,
		ConflictsTotal,
		PushCheckpointSequence,
		InsertBatchSize,
		CookieJarSize,
		TransportReconnectsTotal,
		FleeceFunctionDuration,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Package metrics provides Prometheus metrics for sync observability.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibenote_sync_passes_total",
			Help: "Total sync passes, by result",
		},
		[]string{"result"},
	)

	syncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vibenote_sync_pass_duration_seconds",
			Help:    "Duration of one sync pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	syncFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibenote_sync_files_total",
			Help: "Files affected by sync passes, by action",
		},
		[]string{"action"},
	)

	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibenote_remote_requests_total",
			Help: "Remote API requests, by operation and status",
		},
		[]string{"op", "status"},
	)

	pendingTombstones = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibenote_pending_tombstones",
			Help: "Tombstones awaiting remote reconciliation",
		},
	)
)

// RecordSyncPass records the outcome and duration of one sync pass.
func RecordSyncPass(start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncPassesTotal.WithLabelValues(result).Inc()
	syncPassDuration.Observe(time.Since(start).Seconds())
}

// RecordFiles adds to the per-action file counters.
func RecordFiles(action string, n int) {
	if n > 0 {
		syncFilesTotal.WithLabelValues(action).Add(float64(n))
	}
}

// RecordRemoteRequest counts one remote API call.
func RecordRemoteRequest(op, status string) {
	remoteRequestsTotal.WithLabelValues(op, status).Inc()
}

// SetPendingTombstones updates the pending-tombstone gauge.
func SetPendingTombstones(n int) {
	pendingTombstones.Set(float64(n))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

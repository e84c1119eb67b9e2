package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taller"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_entries_total",
			Help:      "Queue entries processed by sync passes, by result.",
		},
		[]string{"result"},
	)

	syncPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Sync passes executed.",
		},
	)

	syncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of sync passes.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_pending",
			Help:      "Entries waiting in the offline queue.",
		},
	)

	connectivityOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_online",
			Help:      "1 when the remote API is considered reachable.",
		},
	)
)

// Entry results.
const (
	ResultSynced  = "synced"
	ResultFailed  = "failed"
	ResultBlocked = "blocked"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncEntries, syncPasses, syncPassDuration, queuePending, connectivityOnline)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObservePass records the outcome of one sync pass.
func ObservePass(synced, failed, blocked int, d time.Duration) {
	syncPasses.Inc()
	syncPassDuration.Observe(d.Seconds())
	syncEntries.WithLabelValues(ResultSynced).Add(float64(synced))
	syncEntries.WithLabelValues(ResultFailed).Add(float64(failed))
	syncEntries.WithLabelValues(ResultBlocked).Add(float64(blocked))
}

// SetPending updates the queue length gauge.
func SetPending(n int) {
	queuePending.Set(float64(n))
}

// SetOnline updates the connectivity gauge.
func SetOnline(online bool) {
	if online {
		connectivityOnline.Set(1)
		return
	}
	connectivityOnline.Set(0)
}

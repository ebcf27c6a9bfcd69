package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gengate_jobs_submitted_total", Help: "Jobs accepted by the execution engine"}, []string{"kind"})
	JobsCompleted  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gengate_jobs_completed_total", Help: "Jobs that reached completed"}, []string{"kind"})
	JobsFailed     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gengate_jobs_failed_total", Help: "Jobs that reached failed"}, []string{"kind"})
	PollTicks      = prometheus.NewCounter(prometheus.CounterOpts{Name: "gengate_poll_ticks_total", Help: "Status poll requests issued"})
	PollTimeouts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "gengate_poll_timeouts_total", Help: "Polls aborted by the wall-clock ceiling"})
	FeedRefreshes  = prometheus.NewCounter(prometheus.CounterOpts{Name: "gengate_feed_refreshes_total", Help: "Feed refresh cycles run"})
	FeedStaleDrops = prometheus.NewCounter(prometheus.CounterOpts{Name: "gengate_feed_stale_drops_total", Help: "Feed responses discarded as stale"})
	WatchersActive = prometheus.NewGauge(prometheus.GaugeOpts{Name: "gengate_watchers_active", Help: "Status watch loops currently running"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			PollTicks,
			PollTimeouts,
			FeedRefreshes,
			FeedStaleDrops,
			WatchersActive,
		)
	})
	return promhttp.Handler()
}

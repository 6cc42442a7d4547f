// Package metrics holds the Prometheus collectors of the server and serves
// them on /metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keralariders"

// Registry is the registry every collector of this package lives in.
var Registry = prometheus.NewRegistry()

// AppInfo exposes the build version as a label; the value is always 1.
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information",
	},
	[]string{"version"},
)

// Sync metrics
var (
	SyncRunsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Background Strava sync runs by outcome",
		},
		[]string{"outcome"}, // ok | error
	)

	SyncUsersTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_users_total",
			Help:      "Per-user Strava syncs by outcome",
		},
		[]string{"outcome"}, // ok | error
	)

	SyncActivitiesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_activities_total",
			Help:      "Activities seen by the background sync",
		},
		[]string{"result"}, // stored | skipped
	)

	SyncDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a full background sync run",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
	)
)

var initOnce sync.Once

// Init registers the Go runtime and process collectors and records the
// version. Safe to call more than once.
func Init(version string) {
	initOnce.Do(func() {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		AppInfo.WithLabelValues(version).Set(1)
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RecordSync adds the outcome of one background sync run.
func RecordSync(succeeded, failed, stored, skipped int, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SyncRunsTotal.WithLabelValues(outcome).Inc()
	SyncUsersTotal.WithLabelValues("ok").Add(float64(succeeded))
	SyncUsersTotal.WithLabelValues("error").Add(float64(failed))
	SyncActivitiesTotal.WithLabelValues("stored").Add(float64(stored))
	SyncActivitiesTotal.WithLabelValues("skipped").Add(float64(skipped))
	SyncDuration.Observe(took.Seconds())
}

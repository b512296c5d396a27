// Package appmetrics exposes Prometheus collectors describing refresh
// health and the current container population, for a local /metrics
// endpoint an operator can scrape.
package appmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RefreshDuration tracks how long each refresh cycle took.
	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engineeye_refresh_duration_seconds",
			Help:    "Duration of a container/stats refresh cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RefreshErrorsTotal counts refresh cycles that surfaced an error to
	// the UI (after the failure gate allowed it through).
	RefreshErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engineeye_refresh_errors_total",
			Help: "Total number of refresh cycles that surfaced a connection error",
		},
	)

	// ContainersByState reports the current container count per lifecycle
	// state for the active host.
	ContainersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engineeye_containers_total",
			Help: "Number of containers by lifecycle state on the active host",
		},
		[]string{"state"},
	)

	// ActiveHost is 1 for the currently selected host's label value, 0 for
	// every other configured host.
	ActiveHost = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engineeye_active_host",
			Help: "Marks which configured host is currently active",
		},
		[]string{"host_id"},
	)
)

func init() {
	prometheus.MustRegister(RefreshDuration)
	prometheus.MustRegister(RefreshErrorsTotal)
	prometheus.MustRegister(ContainersByState)
	prometheus.MustRegister(ActiveHost)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an elapsed duration and reports it to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer running now.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time since NewTimer into h.
func (t Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// SetActiveHost zeroes every other known host's gauge and sets hostID to 1.
// knownHostIDs should be the full current host list so stale hosts read 0
// rather than lingering at their last value.
func SetActiveHost(hostID string, knownHostIDs []string) {
	for _, id := range knownHostIDs {
		if id == hostID {
			ActiveHost.WithLabelValues(id).Set(1)
		} else {
			ActiveHost.WithLabelValues(id).Set(0)
		}
	}
}

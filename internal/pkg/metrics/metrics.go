// Package metrics exposes Prometheus collectors for tracking and dashboard
// activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TrackedEventsTotal counts dispatched events by type and outcome.
	TrackedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkfolio_tracked_events_total",
			Help: "Total number of tracked events by type and outcome",
		},
		[]string{"type", "status"},
	)

	// GeoLookupsTotal counts provider lookups by outcome.
	GeoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkfolio_geo_lookups_total",
			Help: "Total number of geo provider lookups by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// DashboardDuration tracks dashboard computation latency per window.
	DashboardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkfolio_dashboard_duration_seconds",
			Help:    "Duration of dashboard computations in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"window"},
	)

	// RawEventsPrunedTotal counts raw event rows removed by retention.
	RawEventsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkfolio_raw_events_pruned_total",
			Help: "Total number of raw event rows deleted by the retention job",
		},
	)
)

// RecordTrackedEvent records one dispatch outcome.
func RecordTrackedEvent(eventType, status string) {
	TrackedEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordGeoLookup records one provider attempt.
func RecordGeoLookup(provider string, ok bool) {
	outcome := "miss"
	if ok {
		outcome = "hit"
	}
	GeoLookupsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveDashboard records how long a dashboard took to compute.
func ObserveDashboard(window string, d time.Duration) {
	DashboardDuration.WithLabelValues(window).Observe(d.Seconds())
}

// RecordPruned adds n pruned raw rows.
func RecordPruned(n int64) {
	if n > 0 {
		RawEventsPrunedTotal.Add(float64(n))
	}
}

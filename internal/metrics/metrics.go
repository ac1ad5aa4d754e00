// Package metrics provides Prometheus instrumentation for the Veil matching
// service. It exposes gauges for queue depth and active pairings, counters
// for match outcomes, and a histogram for time spent finding a partner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the current number of participants in the waiting queue.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veil_queue_size",
		Help: "Current number of participants in the waiting queue",
	})

	// ActivePairings tracks the current number of active pairings.
	ActivePairings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veil_active_pairings",
		Help: "Current number of active pairings",
	})

	// MatchesTotal counts completed match attempts, labeled by outcome:
	// "matched", "queued", or "rejected".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_matches_total",
		Help: "Total number of completed match attempts",
	}, []string{"outcome"})

	// RejectionsTotal counts rejected match attempts, labeled by reason.
	RejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_rejections_total",
		Help: "Total number of rejected match attempts",
	}, []string{"reason"})

	// MatchDuration records the time spent on a single FindPartner call.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "veil_match_duration_seconds",
		Help:    "Time spent answering a single find-partner request",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// ChatsEndedTotal counts conversations ended, labeled by cause:
	// "ended", "skipped".
	ChatsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_chats_ended_total",
		Help: "Total number of conversations ended",
	}, []string{"cause"})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		ActivePairings,
		MatchesTotal,
		RejectionsTotal,
		MatchDuration,
		ChatsEndedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

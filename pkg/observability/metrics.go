// Package observability wires Prometheus metrics, OpenTelemetry tracing,
// and health reporting for the orchestrator.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_turns_total",
			Help: "Total number of processed turns",
		},
		[]string{"outcome", "confidence"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_turn_duration_seconds",
			Help:    "Turn processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	skillDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_skill_dispatches_total",
			Help: "Total number of skill dispatches",
		},
		[]string{"skill", "status"},
	)

	skillDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_skill_dispatch_duration_seconds",
			Help:    "Skill dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"skill"},
	)

	reflectionPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_reflection_passes_total",
			Help: "Total number of reflection passes",
		},
		[]string{"verdict"},
	)

	ratingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_ratings_total",
			Help: "Total number of feedback ratings",
		},
		[]string{"valid"},
	)

	liveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_live_sessions",
			Help: "Number of in-process session states",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus metrics.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			turnsTotal,
			turnDuration,
			skillDispatchesTotal,
			skillDispatchDuration,
			reflectionPassesTotal,
			ratingsTotal,
			liveSessions,
		)
	})
}

// MetricsHandler returns the HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordTurn records one completed turn.
func RecordTurn(outcome, confidence string, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome, confidence).Inc()
	turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSkillDispatch records one skill dispatch.
func RecordSkillDispatch(skill, status string, duration time.Duration) {
	skillDispatchesTotal.WithLabelValues(skill, status).Inc()
	skillDispatchDuration.WithLabelValues(skill).Observe(duration.Seconds())
}

// RecordReflection records one reflection pass.
func RecordReflection(verdict string) {
	reflectionPassesTotal.WithLabelValues(verdict).Inc()
}

// RecordRating records a feedback submission.
func RecordRating(valid bool) {
	if valid {
		ratingsTotal.WithLabelValues("true").Inc()
	} else {
		ratingsTotal.WithLabelValues("false").Inc()
	}
}

// SetLiveSessions sets the in-process session gauge.
func SetLiveSessions(count int) {
	liveSessions.Set(float64(count))
}

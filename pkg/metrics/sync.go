package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records drain and refresh activity for the cart engine.
type SyncMetrics struct {
	drainDuration prometheus.Histogram
	outcomes      *prometheus.CounterVec
	refreshes     prometheus.Counter
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	drainDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cart_sync_drain_duration_seconds",
		Help:    "Duration of cart sync drain passes in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_sync_intent_outcomes_total",
		Help: "Intent sync outcomes by result.",
	}, []string{"outcome"})
	refreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_sync_refreshes_total",
		Help: "Background snapshot refreshes applied.",
	})
	reg.MustRegister(drainDuration, outcomes, refreshes)
	return &SyncMetrics{
		drainDuration: drainDuration,
		outcomes:      outcomes,
		refreshes:     refreshes,
	}
}

// ObserveDrain records the duration of one drain pass.
func (s *SyncMetrics) ObserveDrain(duration time.Duration) {
	if s == nil || s.drainDuration == nil {
		return
	}
	s.drainDuration.Observe(duration.Seconds())
}

// IncOutcome increments the counter for one intent outcome
// (confirmed, conflict, failed).
func (s *SyncMetrics) IncOutcome(outcome string) {
	if s == nil || s.outcomes == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	s.outcomes.WithLabelValues(outcome).Inc()
}

// IncRefresh counts one applied background refresh.
func (s *SyncMetrics) IncRefresh() {
	if s == nil || s.refreshes == nil {
		return
	}
	s.refreshes.Inc()
}

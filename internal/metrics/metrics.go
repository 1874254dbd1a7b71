package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors exported by the server
type Metrics struct {
	GenerationRequests *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	Choices            *prometheus.CounterVec
	DegradedAnalyses   prometheus.Counter
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GenerationRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_generation_requests_total",
			Help: "Requests sent to external generation services.",
		}, []string{"kind", "outcome"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_cache_lookups_total",
			Help: "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		Choices: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_choices_total",
			Help: "Choices submitted, by outcome.",
		}, []string{"outcome"}),
		DegradedAnalyses: f.NewCounter(prometheus.CounterOpts{
			Name: "lumen_emotion_degraded_total",
			Help: "Emotion analyses that fell back to the neutral default.",
		}),
	}
}

// RegisterQueueDepth exports the number of pending artifact jobs
func RegisterQueueDepth(reg prometheus.Registerer, depth func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "lumen_artifact_jobs_pending",
		Help: "Artifact jobs waiting for their reader to fetch them.",
	}, func() float64 { return float64(depth()) })
}

// NewNop returns collectors bound to a throwaway registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// CacheHit records a hit on the named cache; safe on a nil receiver
func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, "hit").Inc()
}

// CacheMiss records a miss on the named cache; safe on a nil receiver
func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, "miss").Inc()
}

// Generation records the outcome of an external generation call
func (m *Metrics) Generation(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GenerationRequests.WithLabelValues(kind, outcome).Inc()
}

// Choice records a choice outcome
func (m *Metrics) Choice(outcome string) {
	if m == nil {
		return
	}
	m.Choices.WithLabelValues(outcome).Inc()
}

// Degraded records a degraded emotion analysis
func (m *Metrics) Degraded() {
	if m == nil {
		return
	}
	m.DegradedAnalyses.Inc()
}

package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes engine counters to Prometheus. A nil *Metrics is valid
// and records nothing, so the engine components never need nil checks at
// call sites.
type Metrics struct {
	extractions        *prometheus.CounterVec
	candidates         *prometheus.CounterVec
	retrievals         prometheus.Counter
	retrievedMemories  prometheus.Counter
	retrievalsDegraded prometheus.Counter
	consolidations     prometheus.Counter
	absorbedMemories   prometheus.Counter
	evicted            *prometheus.CounterVec
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		extractions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "memory",
			Name:      "extractions_total",
			Help:      "Extraction attempts by result.",
		}, []string{"result"}),
		candidates: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "memory",
			Name:      "candidates_total",
			Help:      "Extraction candidates by disposition.",
		}, []string{"disposition"}),
		retrievals: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "memory",
			Name:      "retrievals_total",
			Help:      "Retrieval calls served.",
		}),
		retrievedMemories: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "memory",
			Name:      "retrieved_memories_total",
			Help:      "Memories returned across all retrievals.",
		}),
		retrievalsDegraded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "memory",
			Name:      "retrievals_degraded_total",
			Help:      "Retrievals that returned empty because query embedding failed.",
		}),
		consolidations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "memory",
			Name:      "consolidations_total",
			Help:      "Cluster merges performed.",
		}),
		absorbedMemories: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "memory",
			Name:      "absorbed_memories_total",
			Help:      "Original memories absorbed into merged records.",
		}),
		evicted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "memory",
			Name:      "evicted_total",
			Help:      "Memories deleted by cleanup, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) extraction(result string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(result).Inc()
}

func (m *Metrics) candidate(disposition string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.candidates.WithLabelValues(disposition).Add(float64(n))
}

func (m *Metrics) retrieval(returned int) {
	if m == nil {
		return
	}
	m.retrievals.Inc()
	m.retrievedMemories.Add(float64(returned))
}

func (m *Metrics) retrievalDegraded() {
	if m == nil {
		return
	}
	m.retrievalsDegraded.Inc()
}

func (m *Metrics) consolidation(clusterSize int) {
	if m == nil {
		return
	}
	m.consolidations.Inc()
	m.absorbedMemories.Add(float64(clusterSize))
}

func (m *Metrics) evictions(r CleanupResult) {
	if m == nil {
		return
	}
	if r.BelowFloor > 0 {
		m.evicted.WithLabelValues("below_floor").Add(float64(r.BelowFloor))
	}
	if r.OverCap > 0 {
		m.evicted.WithLabelValues("over_cap").Add(float64(r.OverCap))
	}
}

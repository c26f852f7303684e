package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for a Cacher. A nil *Metrics records nothing.
type Metrics struct {
	Hits        *prometheus.CounterVec
	Misses      *prometheus.CounterVec
	Fallbacks   *prometheus.CounterVec
	StoreErrors *prometheus.CounterVec
	Cleared     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rediscache",
			Name:      "hits_total",
			Help:      "Total decorated calls served from the cache.",
		}, []string{"namespace"}),

		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rediscache",
			Name:      "misses_total",
			Help:      "Total decorated calls that invoked the wrapped function after a lookup.",
		}, []string{"namespace"}),

		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rediscache",
			Name:      "fallbacks_total",
			Help:      "Total decorated calls that bypassed the cache.",
		}, []string{"namespace", "reason"}),

		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rediscache",
			Name:      "store_errors_total",
			Help:      "Total failed store or codec operations.",
		}, []string{"op"}),

		Cleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rediscache",
			Name:      "cleared_keys_total",
			Help:      "Total keys removed by Clear.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Fallbacks, m.StoreErrors, m.Cleared)
	}
	return m
}

func namespaceLabel(namespace string) string {
	if namespace == "" {
		return "default"
	}
	return namespace
}

func (m *Metrics) hit(namespace string) {
	if m != nil {
		m.Hits.WithLabelValues(namespaceLabel(namespace)).Inc()
	}
}

func (m *Metrics) miss(namespace string) {
	if m != nil {
		m.Misses.WithLabelValues(namespaceLabel(namespace)).Inc()
	}
}

func (m *Metrics) fallback(namespace, reason string) {
	if m != nil {
		m.Fallbacks.WithLabelValues(namespaceLabel(namespace), reason).Inc()
	}
}

func (m *Metrics) storeError(op string) {
	if m != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) cleared(n int64) {
	if m != nil && n > 0 {
		m.Cleared.Add(float64(n))
	}
}

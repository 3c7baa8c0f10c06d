package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics counts cached-function lookups per cache name.
type CacheMetrics struct {
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of fresh cache hits, by cache.",
		}, []string{"cache"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses (absent, expired or bypassed), by cache.",
		}, []string{"cache"}),
	}

	reg.MustRegister(m.Hits, m.Misses)
	return m
}

func (m *CacheMetrics) Hit(cache string)  { m.Hits.WithLabelValues(cache).Inc() }
func (m *CacheMetrics) Miss(cache string) { m.Misses.WithLabelValues(cache).Inc() }

package metrics

import "github.com/prometheus/client_golang/prometheus"

// TokenMetrics tracks OAuth token exchanges and refresh-lock contention.
type TokenMetrics struct {
	Exchanges *prometheus.CounterVec
	LockWaits *prometheus.CounterVec
}

func NewTokenMetrics(reg prometheus.Registerer) *TokenMetrics {
	m := &TokenMetrics{
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "exchanges_total",
			Help:      "Total number of token exchanges, by grant kind and outcome.",
		}, []string{"kind", "outcome"}),
		LockWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "refresh_lock_waits_total",
			Help:      "Total number of waits on another request's refresh lock, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.Exchanges, m.LockWaits)
	return m
}

func (m *TokenMetrics) Exchanged(kind, outcome string) {
	m.Exchanges.WithLabelValues(kind, outcome).Inc()
}

func (m *TokenMetrics) LockWaited(outcome string) {
	m.LockWaits.WithLabelValues(outcome).Inc()
}

package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the session collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ops           *prometheus.CounterVec
	authenticated prometheus.Gauge
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wastewise",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session operations by name and outcome.",
		}, []string{"op", "result"}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wastewise",
			Subsystem: "session",
			Name:      "authenticated",
			Help:      "1 while the client holds an authenticated session.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.ops, m.authenticated} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) op(name, result string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(name, result).Inc()
}

func (m *Metrics) state(s State) {
	if m == nil {
		return
	}
	if s.IsAuthenticated {
		m.authenticated.Set(1)
		return
	}
	m.authenticated.Set(0)
}

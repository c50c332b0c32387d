package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the realtime collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	status     *prometheus.GaugeVec
	reconnects prometheus.Counter
	failures   prometheus.Counter
	dispatched *prometheus.CounterVec
	invalid    prometheus.Counter
	sends      *prometheus.CounterVec
}

// NewMetrics registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wastewise",
			Subsystem: "realtime",
			Name:      "status",
			Help:      "1 for the current connection status, 0 otherwise.",
		}, []string{"status"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wastewise",
			Subsystem: "realtime",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after unexpected closures.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wastewise",
			Subsystem: "realtime",
			Name:      "exhausted_total",
			Help:      "Times the reconnect budget was spent.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wastewise",
			Subsystem: "realtime",
			Name:      "envelopes_total",
			Help:      "Inbound envelopes dispatched, by kind.",
		}, []string{"kind"}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wastewise",
			Subsystem: "realtime",
			Name:      "invalid_frames_total",
			Help:      "Inbound frames dropped because they were not valid envelopes.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wastewise",
			Subsystem: "realtime",
			Name:      "sends_total",
			Help:      "Outbound sends by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.status, m.reconnects, m.failures, m.dispatched, m.invalid, m.sends} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) setStatus(s Status) {
	if m == nil {
		return
	}
	for _, st := range []Status{StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting, StatusFailed} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.status.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) exhausted() {
	if m != nil {
		m.failures.Inc()
	}
}

func (m *Metrics) envelope(kind string) {
	if m != nil {
		m.dispatched.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) invalidFrame() {
	if m != nil {
		m.invalid.Inc()
	}
}

func (m *Metrics) send(result string) {
	if m != nil {
		m.sends.WithLabelValues(result).Inc()
	}
}

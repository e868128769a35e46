package realtime

import "github.com/prometheus/client_golang/prometheus"

// Delivery paths recorded by Metrics.
const (
	pathLive    = "live"
	pathMailbox = "mailbox"
)

// Metrics groups the realtime collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	deliveries  *prometheus.CounterVec
	routeErrors *prometheus.CounterVec
	drained     prometheus.Counter
	replaced    prometheus.Counter
}

// NewMetrics builds the collectors and registers them on reg (skipped when reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fintrack",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Currently registered chat connections.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fintrack",
			Subsystem: "chat",
			Name:      "deliveries_total",
			Help:      "Routed chat messages by delivery path.",
		}, []string{"path"}),
		routeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fintrack",
			Subsystem: "chat",
			Name:      "route_errors_total",
			Help:      "Chat messages rejected or failed by the router.",
		}, []string{"kind"}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fintrack",
			Subsystem: "mailbox",
			Name:      "drained_total",
			Help:      "Mailbox entries flushed to reconnecting users.",
		}),
		replaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fintrack",
			Subsystem: "ws",
			Name:      "replaced_total",
			Help:      "Connections closed because the same user connected again.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.deliveries, m.routeErrors, m.drained, m.replaced)
	}
	return m
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) delivered(path string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(path).Inc()
}

func (m *Metrics) routeError(kind string) {
	if m == nil {
		return
	}
	m.routeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) drainedAdd(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.drained.Add(float64(n))
}

func (m *Metrics) replacedInc() {
	if m == nil {
		return
	}
	m.replaced.Inc()
}

package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	connections    *prometheus.GaugeVec
	protocolErrors *prometheus.CounterVec
	packets        *prometheus.CounterVec
	dispatch       *prometheus.HistogramVec
	sessions       prometheus.Gauge
	lobbyPlayers   *prometheus.GaugeVec
	workerPending  prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lobbyd",
			Name:      "connections",
			Help:      "Open client connections per lobby.",
		}, []string{"lobby"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobbyd",
			Name:      "protocol_errors_total",
			Help:      "Connections closed because of a malformed frame.",
		}, []string{"lobby"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobbyd",
			Name:      "packets_total",
			Help:      "Inbound packets by lobby type, command and dispatch outcome.",
		}, []string{"lobby_type", "command", "outcome"}),
		dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lobbyd",
			Name:      "dispatch_seconds",
			Help:      "Handler execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"lobby_type"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobbyd",
			Name:      "sessions",
			Help:      "Authenticated sessions.",
		}),
		lobbyPlayers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lobbyd",
			Name:      "lobby_players",
			Help:      "Last refreshed player count per lobby.",
		}, []string{"lobby"}),
		workerPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobbyd",
			Name:      "worker_pending_tasks",
			Help:      "Tasks queued on the worker pool.",
		}),
	}
	reg.MustRegister(
		m.connections, m.protocolErrors, m.packets, m.dispatch,
		m.sessions, m.lobbyPlayers, m.workerPending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func lobbyLabel(id int32) string {
	return strconv.Itoa(int(id))
}

func (m *Metrics) ConnectionOpened(lobbyID int32) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(lobbyLabel(lobbyID)).Inc()
}

func (m *Metrics) ConnectionClosed(lobbyID int32) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(lobbyLabel(lobbyID)).Dec()
}

func (m *Metrics) ProtocolError(lobbyID int32) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(lobbyLabel(lobbyID)).Inc()
}

// PacketDispatched records one dispatch.
func (m *Metrics) PacketDispatched(lobbyType string, command uint16, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(lobbyType, "0x"+strconv.FormatUint(uint64(command), 16), outcome).Inc()
	m.dispatch.WithLabelValues(lobbyType).Observe(seconds)
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) SetLobbyPlayers(lobbyID int32, n int32) {
	if m == nil {
		return
	}
	m.lobbyPlayers.WithLabelValues(lobbyLabel(lobbyID)).Set(float64(n))
}

func (m *Metrics) SetWorkerPending(n int64) {
	if m == nil {
		return
	}
	m.workerPending.Set(float64(n))
}

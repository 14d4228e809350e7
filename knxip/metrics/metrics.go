// Package metrics exposes process-wide Prometheus counters and gauges for
// connections, secure sessions, and routing, the way kcptun's SNMP logger
// tracks a single process-wide counters struct, but onto a registry instead
// of a periodic CSV dump.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Default is the process-wide metrics struct, analogous to kcp.DefaultSnmp:
// callers reach for Default directly rather than threading a *Metrics
// through every constructor.
var Default = New()

// Metrics groups every counter/gauge the connection core updates.
type Metrics struct {
	ConnectionsOpened   prometheus.Counter
	ConnectionsClosed   prometheus.Counter
	AckTimeouts         prometheus.Counter
	Retransmits         prometheus.Counter
	HeartbeatFailures   prometheus.Counter

	SecureSessionsOpened prometheus.Counter
	SecureRejections     *prometheus.CounterVec

	RoutingIndicationsSent     prometheus.Counter
	RoutingIndicationsReceived prometheus.Counter
	RoutingLoopbackSuppressed  prometheus.Counter
	RoutingLost                prometheus.Counter
	RoutingBusy                prometheus.Counter
	GroupTimerRoleTransitions  prometheus.Counter

	ActiveConnections prometheus.Gauge
}

// New builds a fresh, unregistered Metrics struct.
func New() *Metrics {
	return &Metrics{
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "connection", Name: "opened_total",
			Help: "Connect.req/.res handshakes that completed successfully.",
		}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "connection", Name: "closed_total",
			Help: "Connections torn down, for any reason.",
		}),
		AckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "connection", Name: "ack_timeouts_total",
			Help: "Sends that exhausted their ack retry budget.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "connection", Name: "retransmits_total",
			Help: "Request frames retransmitted after an ack timeout.",
		}),
		HeartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "connection", Name: "heartbeat_failures_total",
			Help: "ConnectionState heartbeats that exhausted their retry budget.",
		}),
		SecureSessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "secure", Name: "sessions_opened_total",
			Help: "Unicast secure sessions that reached Authenticated.",
		}),
		SecureRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "secure", Name: "rejections_total",
			Help: "Secure frames rejected, by reason.",
		}, []string{"reason"}),
		RoutingIndicationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "routing", Name: "indications_sent_total",
			Help: "Routing.ind frames multicast by this instance.",
		}),
		RoutingIndicationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "routing", Name: "indications_received_total",
			Help: "Routing.ind frames delivered to listeners after loopback suppression.",
		}),
		RoutingLoopbackSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "routing", Name: "loopback_suppressed_total",
			Help: "Received frames dropped as our own multicast loopback.",
		}),
		RoutingLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "routing", Name: "lost_total",
			Help: "Routing.lost frames received.",
		}),
		RoutingBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "routing", Name: "busy_total",
			Help: "Routing.busy frames received.",
		}),
		GroupTimerRoleTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knxip", Subsystem: "routing", Name: "group_timer_role_transitions_total",
			Help: "Group-timer keeper/follower role transitions.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knxip", Subsystem: "connection", Name: "active",
			Help: "Connections currently in a non-closed state.",
		}),
	}
}

// MustRegister registers every collector in m against reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ConnectionsOpened, m.ConnectionsClosed, m.AckTimeouts, m.Retransmits, m.HeartbeatFailures,
		m.SecureSessionsOpened, m.SecureRejections,
		m.RoutingIndicationsSent, m.RoutingIndicationsReceived, m.RoutingLoopbackSuppressed,
		m.RoutingLost, m.RoutingBusy, m.GroupTimerRoleTransitions,
		m.ActiveConnections,
	)
}

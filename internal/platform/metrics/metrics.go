package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of the discussion core. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	ActiveConnections    prometheus.Gauge
	ActiveRooms          prometheus.Gauge
	MessagesPosted       *prometheus.CounterVec
	ReactionsToggled     prometheus.Counter
	NotificationsQueued  prometheus.Counter
	NotificationsSent    *prometheus.CounterVec
	InboundEvents        *prometheus.CounterVec
	RejectedEvents       *prometheus.CounterVec
	SlowConsumersDropped prometheus.Counter
}

func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Authenticated connections currently registered.",
		}),
		ActiveRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_rooms",
			Help: "Conversations with at least one joined connection.",
		}),
		MessagesPosted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_posted_total",
			Help: "Messages persisted, by conversation kind.",
		}, []string{"kind"}),
		ReactionsToggled: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_reactions_toggled_total",
			Help: "Reaction toggles applied.",
		}),
		NotificationsQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_notifications_queued_total",
			Help: "Notifications written to the outbox.",
		}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_notifications_delivered_total",
			Help: "Notifications handed to the push sink, by result.",
		}, []string{"result"}),
		InboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_inbound_events_total",
			Help: "Client frames received, by type.",
		}, []string{"type"}),
		RejectedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_rejected_events_total",
			Help: "Client frames answered with an error, by code.",
		}, []string{"code"}),
		SlowConsumersDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_slow_consumers_dropped_total",
			Help: "Connections closed because their outbound buffer was full.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.ActiveRooms.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.ActiveRooms.Dec()
	}
}

func (m *Metrics) MessagePosted(kind string) {
	if m != nil {
		m.MessagesPosted.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ReactionToggled() {
	if m != nil {
		m.ReactionsToggled.Inc()
	}
}

func (m *Metrics) NotificationQueued() {
	if m != nil {
		m.NotificationsQueued.Inc()
	}
}

func (m *Metrics) NotificationDelivered(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.NotificationsSent.WithLabelValues(result).Inc()
}

func (m *Metrics) Inbound(typ string) {
	if m != nil {
		m.InboundEvents.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) Rejected(code string) {
	if m != nil {
		m.RejectedEvents.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) SlowConsumer() {
	if m != nil {
		m.SlowConsumersDropped.Inc()
	}
}

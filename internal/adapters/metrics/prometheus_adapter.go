package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_chat_live_connections",
			Help: "Number of conversations with an open live socket.",
		},
	)

	ConnectionStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_connection_state_transitions_total",
			Help: "Live-socket state transitions, labelled by the state entered.",
		},
		[]string{"state"},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_reconnect_attempts_total",
			Help: "Scheduled live-socket reconnect attempts.",
		},
	)

	OutboundFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_outbound_frames_total",
			Help: "Outbound socket frames by path (live, queued, flushed, dropped).",
		},
		[]string{"frame_type", "path"},
	)

	InboundFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_inbound_frames_total",
			Help: "Inbound socket frames by type.",
		},
		[]string{"frame_type"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_messages_sent_total",
			Help: "User messages submitted over REST by outcome.",
		},
		[]string{"result"},
	)

	MarkReadResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_mark_read_total",
			Help: "Per-message mark-as-read outcomes.",
		},
		[]string{"result"},
	)

	NotificationRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_notification_refresh_total",
			Help: "Authoritative notification count refreshes by outcome.",
		},
		[]string{"result"},
	)
)

// IncrementLiveConnections increments the live connections gauge.
func IncrementLiveConnections() {
	LiveConnectionsGauge.Inc()
}

// DecrementLiveConnections decrements the live connections gauge.
func DecrementLiveConnections() {
	LiveConnectionsGauge.Dec()
}

func RecordStateTransition(state string) {
	ConnectionStateTransitions.WithLabelValues(state).Inc()
}

func IncrementReconnectAttempts() {
	ReconnectAttempts.Inc()
}

func RecordOutboundFrame(frameType, path string) {
	OutboundFrames.WithLabelValues(frameType, path).Inc()
}

func RecordInboundFrame(frameType string) {
	InboundFrames.WithLabelValues(frameType).Inc()
}

func RecordMessageSent(result string) {
	MessagesSent.WithLabelValues(result).Inc()
}

// RecordMarkRead adds the outcome of one bulk mark-as-read.
func RecordMarkRead(marked, failed int) {
	MarkReadResults.WithLabelValues("marked").Add(float64(marked))
	MarkReadResults.WithLabelValues("failed").Add(float64(failed))
}

func RecordNotificationRefresh(result string) {
	NotificationRefreshes.WithLabelValues(result).Inc()
}

package olsr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessagesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corerouted",
		Subsystem: "olsr",
		Name:      "messages_decoded_total",
		Help:      "OLSR messages successfully decoded, by type.",
	}, []string{"type"})

	metricPacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corerouted",
		Subsystem: "olsr",
		Name:      "packets_dropped_total",
		Help:      "OLSR packets dropped during decode, by reason.",
	}, []string{"reason"})

	metricDuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "corerouted",
		Subsystem: "olsr",
		Name:      "duplicates_suppressed_total",
		Help:      "Flooded OLSR messages suppressed as already-seen duplicates.",
	})
)

func incMessagesDecoded(msgType MessageType) {
	metricMessagesDecoded.WithLabelValues(messageTypeLabel(msgType)).Inc()
}

func incPacketsDropped(reason string) {
	metricPacketsDropped.WithLabelValues(reason).Inc()
}

func incDuplicatesSuppressed() {
	metricDuplicatesSuppressed.Inc()
}

func messageTypeLabel(t MessageType) string {
	switch t {
	case MessageHello:
		return "hello"
	case MessageLQHello:
		return "lq_hello"
	case MessageTC:
		return "tc"
	case MessageLQTC:
		return "lq_tc"
	case MessageMID:
		return "mid"
	case MessageHNA:
		return "hna"
	default:
		return "unknown"
	}
}

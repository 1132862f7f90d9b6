package ifacefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDeltasPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corerouted",
		Subsystem: "ifacefeed",
		Name:      "deltas_published_total",
		Help:      "Interface/address deltas published to subscribers, by kind.",
	}, []string{"kind"})

	metricDeltasDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corerouted",
		Subsystem: "ifacefeed",
		Name:      "deltas_dropped_total",
		Help:      "Deltas dropped because a subscriber's channel was full, by kind.",
	}, []string{"kind"})
)

func incDeltaPublished(kind DeltaKind) {
	metricDeltasPublished.WithLabelValues(kind.String()).Inc()
}

func incDeltaDropped(kind DeltaKind) {
	metricDeltasDropped.WithLabelValues(kind.String()).Inc()
}

package rawsocket

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPacketsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corerouted",
		Subsystem: "rawsocket",
		Name:      "packets_delivered_total",
		Help:      "Packets matched against a filter and delivered to its callback.",
	}, []string{"family", "protocol"})

	metricPacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corerouted",
		Subsystem: "rawsocket",
		Name:      "packets_dropped_total",
		Help:      "Packets read but not delivered to any filter, by reason.",
	}, []string{"family", "protocol", "reason"})

	metricReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corerouted",
		Subsystem: "rawsocket",
		Name:      "read_errors_total",
		Help:      "Socket read errors encountered while draining a raw socket.",
	}, []string{"family", "protocol"})

	metricSocketCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "corerouted",
		Subsystem: "rawsocket",
		Name:      "sockets_open",
		Help:      "Number of distinct (family, protocol) raw sockets currently open.",
	})

	metricMcastJoins = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "corerouted",
		Subsystem: "rawsocket",
		Name:      "multicast_memberships",
		Help:      "Number of distinct (ifname, vifname, group) multicast memberships currently held.",
	})
)

func familyLabel(f Family) string {
	if f == FamilyV6 {
		return "inet6"
	}
	return "inet"
}

func incPacketsDelivered(f Family, proto int) {
	metricPacketsDelivered.WithLabelValues(familyLabel(f), strconv.Itoa(proto)).Inc()
}

func incPacketsDropped(f Family, proto int, reason string) {
	metricPacketsDropped.WithLabelValues(familyLabel(f), strconv.Itoa(proto), reason).Inc()
}

func incReadError(f Family, proto int) {
	metricReadErrors.WithLabelValues(familyLabel(f), strconv.Itoa(proto)).Inc()
}

// ObserveManager refreshes the gauge metrics from m's current state.
func ObserveManager(m *Manager) {
	metricSocketCount.Set(float64(m.SocketCount()))
	m.mu.Lock()
	n := 0
	for _, byGroup := range m.mcast {
		n += len(byGroup)
	}
	m.mu.Unlock()
	metricMcastJoins.Set(float64(n))
}

package rip

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelIface = "iface"
	labelPeer  = "peer_ip"
	labelAuth  = "auth"
)

var (
	metricPacketsRecv = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corerouted_rip_packets_received_total",
			Help: "Count of RIP packets received per port.",
		},
		[]string{labelIface},
	)
	metricBadPackets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corerouted_rip_bad_packets_total",
			Help: "Count of malformed or failed-authentication RIP packets.",
		},
		[]string{labelIface},
	)
	metricBadRoutes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corerouted_rip_bad_routes_total",
			Help: "Count of individually rejected route entries.",
		},
		[]string{labelIface},
	)
	metricUpdatesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corerouted_rip_updates_sent_total",
			Help: "Count of outbound RIP update packets enqueued.",
		},
		[]string{labelIface},
	)
	metricRouteCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corerouted_rip_routes",
			Help: "Current number of routes in the database.",
		},
	)
	metricUpdateQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corerouted_rip_update_queue_depth",
			Help: "Number of retained update-queue events.",
		},
	)
)

// ObserveRouteDb publishes RouteDb/UpdateQueue gauges as of the call; the
// gauges are not updated on route or queue mutations.
func ObserveRouteDb(db *RouteDb, q *UpdateQueue) {
	metricRouteCount.Set(float64(db.Len()))
	metricUpdateQueueDepth.Set(float64(q.Len()))
}

func incPacketsRecv(ifname string)  { metricPacketsRecv.WithLabelValues(ifname).Inc() }
func incBadPacket(ifname string)    { metricBadPackets.WithLabelValues(ifname).Inc() }
func incBadRoute(ifname string)     { metricBadRoutes.WithLabelValues(ifname).Inc() }
func incUpdateSent(ifname string)   { metricUpdatesSent.WithLabelValues(ifname).Inc() }

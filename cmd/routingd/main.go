//go:build linux

package main

import (
	"flag"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"syscall"

	"github.com/coreroute/corerouted/internal/eventloop"
	"github.com/coreroute/corerouted/internal/ifacefeed"
	"github.com/coreroute/corerouted/internal/olsr"
	"github.com/coreroute/corerouted/internal/policy"
	"github.com/coreroute/corerouted/internal/rawsocket"
	"github.com/coreroute/corerouted/internal/rip"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ripUDPPort  uint16 = 520
	olsrUDPPort uint16 = 698
)

var (
	discoveryAddr  = flag.String("F", "", "service-discovery endpoint host[:port] for the interface/address feed")
	verbose        = flag.Bool("v", false, "enables verbose logging")
	ripInterfaces  = flag.String("rip-interfaces", "", "comma-separated interface names to run RIP on")
	olsrInterfaces = flag.String("olsr-interfaces", "", "comma-separated interface names to run OLSR on")
	metricsEnable  = flag.Bool("metrics-enable", false, "enable the prometheus metrics endpoint")
	metricsAddr    = flag.String("metrics-addr", "localhost:0", "address to listen on for prometheus metrics")
)

// Exit codes per §6: 0 success, 1 test/config error, 2 internal error.
const (
	exitOK   = 0
	exitArgs = 1
	exitFail = 2
)

func main() {
	flag.Parse()

	opts := &slog.HandlerOptions{}
	if *verbose {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)

	ripNames := splitCSV(*ripInterfaces)
	olsrNames := splitCSV(*olsrInterfaces)
	if len(ripNames) == 0 && len(olsrNames) == 0 {
		logger.Error("no interfaces configured: pass -rip-interfaces and/or -olsr-interfaces")
		os.Exit(exitArgs)
	}

	if *discoveryAddr != "" {
		logger.Info("service discovery endpoint configured, deferring interface sync to it is future work", "addr", *discoveryAddr)
	}

	if *metricsEnable {
		listener, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			logger.Error("failed to start prometheus metrics listener", "error", err)
			os.Exit(exitFail)
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("prometheus metrics server started", "address", listener.Addr().String())
			if err := http.Serve(listener, mux); err != nil {
				logger.Error("prometheus metrics server stopped", "error", err)
			}
		}()
	}

	poller, err := eventloop.NewPoller()
	if err != nil {
		logger.Error("failed to create event loop poller", "error", err)
		os.Exit(exitFail)
	}
	clock := eventloop.SystemClock()
	loop := eventloop.New(logger, clock, poller, nil)
	stopSignals := loop.InstallSignalHandlers()
	defer stopSignals()

	feed := ifacefeed.New(logger)
	if err := feed.Start(); err != nil {
		logger.Error("failed to start interface feed", "error", err)
		os.Exit(exitFail)
	}
	only := make(map[string]bool, len(ripNames)+len(olsrNames))
	for _, n := range ripNames {
		only[n] = true
	}
	for _, n := range olsrNames {
		only[n] = true
	}
	if err := syncInterfaces(feed, only); err != nil {
		logger.Error("failed to read kernel interfaces", "error", err)
		os.Exit(exitFail)
	}

	rsManager := rawsocket.NewManager(feed)
	policyEngine := policy.NewEngine()

	var ripPM *rip.PortManager
	var ripDb *rip.RouteDb
	if len(ripNames) > 0 {
		queue := rip.NewUpdateQueue()
		ripDb = rip.NewRouteDb(clock, loop.Timers, queue)
		ripPM = rip.NewPortManager(feed, clock, func() rip.AuthHandler { return rip.NoAuth{} })

		if err := rsManager.RegisterReceiver("rip", "", "", rawsocket.FamilyV4, syscall.IPPROTO_UDP, false,
			ripReceiveFunc(logger, ripPM)); err != nil {
			logger.Error("failed to register rip receiver", "error", err)
			os.Exit(exitFail)
		}

		for _, ifname := range ripNames {
			addrs, err := addressesOf(ifname)
			if err != nil {
				logger.Warn("skipping rip interface: cannot read addresses", "interface", ifname, "error", err)
				continue
			}
			for _, addr := range addrs {
				if _, ok := ripPM.AddRipAddress(ifname, ifname, addr, loop.Timers, ripDb, queue); !ok {
					logger.Warn("rip address not enabled by interface feed", "interface", ifname, "address", addr)
				}
			}
		}

		loop.Tasks.ScheduleRepeatedTask(eventloop.PriorityNormal, 1, drainRipOutboundTask(logger, rsManager, ripPM, ripNames))

		// No filters are configured by default and policyFilterOrder stays
		// empty, so each pass evaluates no filter and re-pushes every
		// route's existing tags; a filter set up via policyEngine.Configure
		// is applied only once its id is listed in policyFilterOrder.
		var policyFilterOrder []int
		loop.Tasks.ScheduleRepeatedTask(eventloop.PriorityLow, 1, func() bool {
			tags := policyEngine.Apply(policyFilterOrder, ripDb.DumpRoutes())
			ripDb.PushRoutes(tags)
			return true
		})
	}

	if len(olsrNames) > 0 {
		if err := rsManager.RegisterReceiver("olsr", "", "", rawsocket.FamilyV4, syscall.IPPROTO_UDP, false,
			olsrReceiveFunc(logger)); err != nil {
			logger.Error("failed to register olsr receiver", "error", err)
			os.Exit(exitFail)
		}
	}

	if fd, ok := rsManager.FD(rawsocket.FamilyV4, syscall.IPPROTO_UDP); ok {
		if err := loop.IO.AddIoCb(int(fd), eventloop.EventRead, eventloop.PriorityHigh, func(_ int, _ eventloop.EventClass, err error) {
			if err != nil {
				logger.Warn("raw socket descriptor error", "error", err)
				return
			}
			rsManager.Poll(rawsocket.FamilyV4, syscall.IPPROTO_UDP)
		}); err != nil {
			logger.Error("failed to register raw socket with event loop", "error", err)
			os.Exit(exitFail)
		}
	}

	logger.Info("routingd started", "rip_interfaces", ripNames, "olsr_interfaces", olsrNames)
	for !loop.ShuttingDown() {
		if err := loop.Run(); err != nil {
			logger.Error("event loop run failed", "error", err)
			os.Exit(exitFail)
		}
	}
	logger.Info("routingd shutting down")
}

func ripReceiveFunc(logger *slog.Logger, pm *rip.PortManager) rawsocket.ReceiveFunc {
	return func(pkt rawsocket.ReceivedPacket) {
		srcPort, dstPort, body, err := decodeUDP(pkt.Payload)
		if err != nil || dstPort != ripUDPPort {
			return
		}
		if err := pm.DeliverPacket(pkt.Ifname, pkt.Vifname, pkt.Dst, pkt.Src, srcPort, body); err != nil {
			logger.Debug("rip: dropped inbound packet", "interface", pkt.Ifname, "src", pkt.Src, "error", err)
		}
	}
}

func olsrReceiveFunc(logger *slog.Logger) rawsocket.ReceiveFunc {
	return func(pkt rawsocket.ReceivedPacket) {
		_, dstPort, body, err := decodeUDP(pkt.Payload)
		if err != nil || dstPort != olsrUDPPort {
			return
		}
		decoded, err := olsr.DecodePacket(body)
		if err != nil {
			logger.Debug("olsr: dropped inbound packet", "interface", pkt.Ifname, "src", pkt.Src, "error", err)
			return
		}
		logger.Debug("olsr: decoded packet", "interface", pkt.Ifname, "src", pkt.Src, "messages", len(decoded.Messages))
	}
}

// drainRipOutboundTask is the write-ready side of every rip Port's FIFO
// outbound queue (§4.7): rather than an fd becoming writable, it's driven
// as a repeated normal-priority task since the underlying raw socket doesn't
// block on send in the common case.
func drainRipOutboundTask(logger *slog.Logger, rsManager *rawsocket.Manager, pm *rip.PortManager, ifnames []string) eventloop.TaskFunc {
	return func() (reschedule bool) {
		for _, ifname := range ifnames {
			addrs, err := addressesOf(ifname)
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				port, ok := pm.FindPort(ifname, ifname, addr)
				if !ok {
					continue
				}
				pkt, ok := port.PopOutbound()
				if !ok {
					continue
				}
				framed := encodeUDP(ripUDPPort, ripUDPPort, pkt)
				err := rsManager.Send(ifname, ifname, addr, netip.MustParseAddr("224.0.0.9"),
					rawsocket.FamilyV4, syscall.IPPROTO_UDP, 1, 0, false, nil, nil, framed)
				port.AckSend(err == nil)
				if err != nil {
					logger.Debug("rip: send failed", "interface", ifname, "error", err)
				}
			}
		}
		return true
	}
}

func addressesOf(ifname string) ([]netip.Addr, error) {
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, err
	}
	raw, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	var out []netip.Addr
	for _, a := range raw {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipn.IP)
		if !ok || !addr.Is4() {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

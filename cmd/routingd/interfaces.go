package main

import (
	"net"
	"net/netip"

	"github.com/coreroute/corerouted/internal/ifacefeed"
)

// syncInterfaces takes one snapshot of the kernel's interface/address
// table and loads it into feed, the way internal/liveness's ifCache
// refreshes its index/name maps from net.Interfaces() — except ifacefeed
// additionally needs the per-address enabled state and prefix, so each
// address is pushed individually. routingd takes this snapshot once at
// startup; a production deployment would instead keep it current with a
// netlink link/addr watcher, which is future work (see DESIGN.md).
func syncInterfaces(feed *ifacefeed.Feed, only map[string]bool) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	for _, ifi := range ifaces {
		if len(only) > 0 && !only[ifi.Name] {
			continue
		}
		enabled := ifi.Flags&net.FlagUp != 0
		feed.SetInterface(ifi.Name, enabled, ifi.HardwareAddr, ifi.Index)
		feed.SetVif(ifi.Name, ifi.Name, enabled)

		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipn.IP)
			if !ok {
				continue
			}
			addr = addr.Unmap()
			ones, _ := ipn.Mask.Size()
			prefix := netip.PrefixFrom(addr, ones)
			feed.SetAddress(ifi.Name, ifi.Name, addr, enabled, prefix, ifi.Index)
		}
	}
	return nil
}

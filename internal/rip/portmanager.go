package rip

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/coreroute/corerouted/internal/eventloop"
)

// AddressFeed is the external interface/address event feed PortManager
// consults before creating a port (§6). internal/ifacefeed provides a
// concrete implementation; this interface keeps rip decoupled from it.
type AddressFeed interface {
	AddressEnabled(ifname, vifname string, addr netip.Addr) bool
}

type portKey struct {
	ifname  string
	vifname string
	addr    netip.Addr
}

func (k portKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ifname, k.vifname, k.addr)
}

// PortManager binds Ports to (interface, vif, address) tuples, observing
// an AddressFeed and dispatching inbound packets to the right port by
// socket identity (§4.8).
type PortManager struct {
	mu    sync.Mutex
	feed  AddressFeed
	clock eventloop.Clock

	ports map[portKey]*Port
	dead  map[portKey]*Port

	newAuth func() AuthHandler
}

// NewPortManager constructs an empty manager. newAuth supplies the
// default AuthHandler for newly created ports (typically NoAuth{}).
func NewPortManager(feed AddressFeed, clock eventloop.Clock, newAuth func() AuthHandler) *PortManager {
	return &PortManager{
		feed:    feed,
		clock:   clock,
		ports:   make(map[portKey]*Port),
		dead:    make(map[portKey]*Port),
		newAuth: newAuth,
	}
}

// AddRipAddress creates a port bound to (ifname, vifname, addr) if the
// feed reports it enabled, marking it starting. Returns false if the
// address is not currently enabled.
func (m *PortManager) AddRipAddress(ifname, vifname string, addr netip.Addr, timers *eventloop.TimerList, db *RouteDb, queue *UpdateQueue) (*Port, bool) {
	if !m.feed.AddressEnabled(ifname, vifname, addr) {
		return nil, false
	}
	k := portKey{ifname, vifname, addr}

	m.mu.Lock()
	if existing, ok := m.ports[k]; ok {
		m.mu.Unlock()
		return existing, true
	}
	port := NewPort(ifname, vifname, addr, m.clock, timers, db, queue, m.newAuth())
	m.ports[k] = port
	m.mu.Unlock()

	port.Start()
	return port, true
}

// RemoveRipAddress moves the port for (ifname, vifname, addr) to the dead
// set and requests its shutdown; the dead set is drained once the I/O
// binding's asynchronous teardown completes, via ReapDead.
func (m *PortManager) RemoveRipAddress(ifname, vifname string, addr netip.Addr) bool {
	k := portKey{ifname, vifname, addr}
	m.mu.Lock()
	port, ok := m.ports[k]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.ports, k)
	m.dead[k] = port
	m.mu.Unlock()

	port.Stop()
	return true
}

// ReapDead finalizes shutdown for a port previously moved to the dead set
// once its caller confirms the I/O binding has actually closed.
func (m *PortManager) ReapDead(ifname, vifname string, addr netip.Addr) {
	k := portKey{ifname, vifname, addr}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dead, k)
}

// FindPort returns the port bound to (ifname, vifname, addr), if any,
// searching both the live and dead sets.
func (m *PortManager) FindPort(ifname, vifname string, addr netip.Addr) (*Port, bool) {
	k := portKey{ifname, vifname, addr}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.ports[k]; ok {
		return p, true
	}
	p, ok := m.dead[k]
	return p, ok
}

// RipAddressUp reports whether a live (not dead-set) port exists for the
// given tuple.
func (m *PortManager) RipAddressUp(ifname, vifname string, addr netip.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ports[portKey{ifname, vifname, addr}]
	return ok
}

// RipAddressExists reports whether a port exists in either set.
func (m *PortManager) RipAddressExists(ifname, vifname string, addr netip.Addr) bool {
	_, ok := m.FindPort(ifname, vifname, addr)
	return ok
}

// DeliverPacket finds the port owning socketIfname/socketVifname and
// feeds bytes into it.
func (m *PortManager) DeliverPacket(ifname, vifname string, localAddr, srcAddr netip.Addr, srcPort uint16, bytes []byte) error {
	port, ok := m.FindPort(ifname, vifname, localAddr)
	if !ok {
		return fmt.Errorf("rip: no port bound to %s/%s/%s", ifname, vifname, localAddr)
	}
	return port.ReceivePacket(srcAddr, srcPort, bytes)
}

package ifacefeed

import (
	"log/slog"
	"net"
	"net/netip"
	"sync"
)

const defaultSubscriberBacklog = 64

// Feed is a pushed view of the system's interface/vif/address tree (§6).
// Callers mutate it through the Set*/Remove* methods — typically from a
// platform-specific watcher, netlink-backed in production the way
// internal/netlink's manager owns kernel state — and consult it through
// the find_* style readers. Every change is also broadcast to subscribers
// as a Delta so the port manager can react without polling.
//
// Feed's own lifecycle (Status) is distinct from the enabled/disabled
// flags on the interfaces it describes.
type Feed struct {
	log *slog.Logger

	mu       sync.RWMutex
	status   Status
	ifaces   map[string]InterfaceInfo
	byIndex  map[int]string // ifindex -> ifname, for Resolve

	subMu sync.Mutex
	subs  map[int]chan Delta
	nextSub int
}

// New constructs a Feed in STARTING state. log may be nil, in which case
// a disabled logger is used.
func New(log *slog.Logger) *Feed {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Feed{
		log:     log,
		status:  StatusStarting,
		ifaces:  make(map[string]InterfaceInfo),
		byIndex: make(map[int]string),
		subs:    make(map[int]chan Delta),
	}
}

// Start transitions STARTING -> RUNNING. It is a no-op if already running.
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == StatusRunning {
		return nil
	}
	if f.status != StatusStarting {
		return ErrAlreadyRunning
	}
	f.status = StatusRunning
	f.log.Info("ifacefeed started")
	return nil
}

// BeginShutdown transitions RUNNING -> SHUTTING_DOWN. Subscribers still
// receive deltas while shutdown is in progress; callers use this to stop
// admitting new ports while in-flight ones drain.
func (f *Feed) BeginShutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == StatusRunning {
		f.status = StatusShuttingDown
	}
}

// Shutdown transitions to SHUTDOWN and closes every subscriber channel.
func (f *Feed) Shutdown() {
	f.mu.Lock()
	f.status = StatusShutdown
	f.mu.Unlock()

	f.subMu.Lock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
	f.subMu.Unlock()
}

// Status reports the feed's current lifecycle state.
func (f *Feed) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

// Subscribe returns a channel of deltas and a cancel function. The
// channel is buffered; a subscriber that falls behind has its oldest
// unread delta silently dropped rather than blocking the feed (it is
// expected to re-derive current state via find_* on wakeup).
func (f *Feed) Subscribe() (<-chan Delta, func()) {
	ch := make(chan Delta, defaultSubscriberBacklog)
	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	f.subMu.Unlock()

	cancel := func() {
		f.subMu.Lock()
		if existing, ok := f.subs[id]; ok {
			close(existing)
			delete(f.subs, id)
		}
		f.subMu.Unlock()
	}
	return ch, cancel
}

func (f *Feed) publish(d Delta) {
	incDeltaPublished(d.Kind)
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- d:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- d:
			default:
			}
			incDeltaDropped(d.Kind)
		}
	}
}

// FindInterface implements find_interface(ifname).
func (f *Feed) FindInterface(ifname string) (InterfaceInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	info, ok := f.ifaces[ifname]
	return info, ok
}

// FindVif implements find_vif(ifname, vifname).
func (f *Feed) FindVif(ifname, vifname string) (VifInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	iface, ok := f.ifaces[ifname]
	if !ok {
		return VifInfo{}, false
	}
	vif, ok := iface.Vifs[vifname]
	return vif, ok
}

// FindAddress implements find_address(if, vif, addr).
func (f *Feed) FindAddress(ifname, vifname string, addr netip.Addr) (AddressInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	iface, ok := f.ifaces[ifname]
	if !ok {
		return AddressInfo{}, false
	}
	vif, ok := iface.Vifs[vifname]
	if !ok {
		return AddressInfo{}, false
	}
	addrInfo, ok := vif.Addrs[addr]
	return addrInfo, ok
}

// AddressEnabled implements rip.AddressFeed: an address is usable when
// its interface, vif, and the address entry itself are all enabled.
func (f *Feed) AddressEnabled(ifname, vifname string, addr netip.Addr) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	iface, ok := f.ifaces[ifname]
	if !ok || !iface.Enabled {
		return false
	}
	vif, ok := iface.Vifs[vifname]
	if !ok || !vif.Enabled {
		return false
	}
	addrInfo, ok := vif.Addrs[addr]
	return ok && addrInfo.Enabled
}

// Resolve implements rawsocket.IfaceResolver: it maps a kernel ifindex
// back to the (ifname, vifname) the rest of the suite names by. The vif
// is always the interface's own name — ifacefeed does not model vifs as
// distinct kernel interfaces, so callers needing a specific vif match it
// themselves via FindVif.
func (f *Feed) Resolve(ifIndex int) (ifname, vifname string, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	name, found := f.byIndex[ifIndex]
	if !found {
		return "", "", false
	}
	return name, name, true
}

// SetInterface creates or updates an interface's enabled/MAC/ifindex
// state, publishing a Delta when the enabled flag changes.
func (f *Feed) SetInterface(ifname string, enabled bool, mac net.HardwareAddr, ifIndex int) {
	f.mu.Lock()
	iface, existed := f.ifaces[ifname]
	if !existed {
		iface = newInterfaceInfo()
	}
	wasEnabled := existed && iface.Enabled
	iface.Enabled = enabled
	iface.MAC = mac
	iface.IfIndex = ifIndex
	f.ifaces[ifname] = iface
	if ifIndex != 0 {
		f.byIndex[ifIndex] = ifname
	}
	f.mu.Unlock()

	if enabled != wasEnabled {
		kind := DeltaInterfaceDown
		if enabled {
			kind = DeltaInterfaceUp
		}
		f.publish(Delta{Kind: kind, Ifname: ifname})
	}
}

// RemoveInterface drops ifname and everything under it.
func (f *Feed) RemoveInterface(ifname string) {
	f.mu.Lock()
	iface, ok := f.ifaces[ifname]
	if ok {
		delete(f.ifaces, ifname)
		if iface.IfIndex != 0 {
			delete(f.byIndex, iface.IfIndex)
		}
	}
	f.mu.Unlock()
	if ok && iface.Enabled {
		f.publish(Delta{Kind: DeltaInterfaceDown, Ifname: ifname})
	}
}

// SetVif creates or updates a vif's enabled state under ifname,
// publishing a Delta when the enabled flag changes. The interface is
// created (disabled) if it doesn't yet exist, since a vif notification
// can arrive before the owning interface's.
func (f *Feed) SetVif(ifname, vifname string, enabled bool) error {
	f.mu.Lock()
	iface, ok := f.ifaces[ifname]
	if !ok {
		iface = newInterfaceInfo()
	}
	vif, existed := iface.Vifs[vifname]
	if !existed {
		vif = newVifInfo()
	}
	wasEnabled := existed && vif.Enabled
	vif.Enabled = enabled
	iface.Vifs[vifname] = vif
	f.ifaces[ifname] = iface
	f.mu.Unlock()

	if enabled != wasEnabled {
		kind := DeltaVifDown
		if enabled {
			kind = DeltaVifUp
		}
		f.publish(Delta{Kind: kind, Ifname: ifname, Vifname: vifname})
	}
	return nil
}

// RemoveVif drops vifname and its addresses from ifname.
func (f *Feed) RemoveVif(ifname, vifname string) {
	f.mu.Lock()
	iface, ok := f.ifaces[ifname]
	var vif VifInfo
	if ok {
		vif, ok = iface.Vifs[vifname]
		if ok {
			delete(iface.Vifs, vifname)
			f.ifaces[ifname] = iface
		}
	}
	f.mu.Unlock()
	if ok && vif.Enabled {
		f.publish(Delta{Kind: DeltaVifDown, Ifname: ifname, Vifname: vifname})
	}
}

// SetAddress creates or updates an address entry under (ifname, vifname),
// publishing a Delta when the enabled flag changes. Missing interface/vif
// are created (disabled) for the same early-notification reason as SetVif.
func (f *Feed) SetAddress(ifname, vifname string, addr netip.Addr, enabled bool, prefix netip.Prefix, pifIndex int) {
	f.mu.Lock()
	iface, ok := f.ifaces[ifname]
	if !ok {
		iface = newInterfaceInfo()
	}
	vif, ok := iface.Vifs[vifname]
	if !ok {
		vif = newVifInfo()
	}
	existing, existed := vif.Addrs[addr]
	wasEnabled := existed && existing.Enabled
	vif.Addrs[addr] = AddressInfo{Enabled: enabled, Prefix: prefix, PifIndex: pifIndex}
	iface.Vifs[vifname] = vif
	f.ifaces[ifname] = iface
	f.mu.Unlock()

	if enabled != wasEnabled {
		kind := DeltaAddressDown
		if enabled {
			kind = DeltaAddressUp
		}
		f.publish(Delta{Kind: kind, Ifname: ifname, Vifname: vifname, Addr: addr})
	}
}

// RemoveAddress drops addr from (ifname, vifname).
func (f *Feed) RemoveAddress(ifname, vifname string, addr netip.Addr) {
	f.mu.Lock()
	iface, ok := f.ifaces[ifname]
	var info AddressInfo
	var had bool
	if ok {
		vif, vifOk := iface.Vifs[vifname]
		if vifOk {
			info, had = vif.Addrs[addr]
			if had {
				delete(vif.Addrs, addr)
				iface.Vifs[vifname] = vif
				f.ifaces[ifname] = iface
			}
		}
	}
	f.mu.Unlock()
	if had && info.Enabled {
		f.publish(Delta{Kind: DeltaAddressDown, Ifname: ifname, Vifname: vifname, Addr: addr})
	}
}

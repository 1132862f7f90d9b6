package rip

import (
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/coreroute/corerouted/internal/eventloop"
)

// HorizonPolicy governs what a port re-advertises on the interface a
// route was learned from (§4.7).
type HorizonPolicy int

const (
	HorizonNone HorizonPolicy = iota
	HorizonSplit
	HorizonPoisonReverse
)

const (
	RipPort = 520

	defaultUnsolicitedInterval = 30 * time.Second
	defaultTriggeredMinWait    = 1 * time.Second
	defaultTriggeredMaxWait    = 5 * time.Second
	defaultInterqueryGap       = 1 * time.Second
)

// PortCounters tracks per-port operational visibility (supplemented from
// original_source/, see SPEC_FULL.md), exported as prometheus counters.
type PortCounters struct {
	PacketsRecv uint64
	BadPackets  uint64
	BadRoutes   uint64
	UpdatesSent uint64
}

// Port is a local interface/address running RIP (§3's RipPort<A>, §4.7).
type Port struct {
	mu sync.Mutex

	Ifname        string
	Vifname       string
	Address       netip.Addr
	Enabled       bool
	Cost          uint32
	Horizon       HorizonPolicy
	Advertise     bool
	AcceptDefault bool

	UnsolicitedInterval time.Duration
	TriggeredMinWait    time.Duration
	TriggeredMaxWait    time.Duration
	InterqueryGap       time.Duration

	Auth AuthHandler

	db     *RouteDb
	queue  *UpdateQueue
	clock  eventloop.Clock
	timers *eventloop.TimerList

	peers map[netip.Addr]*Peer

	outbound [][]byte

	reader          ReaderID
	triggeredTimer  *eventloop.Timer
	lastRequestAt   map[netip.Addr]time.Time
	counters        PortCounters
}

// NewPort constructs a Port bound to ifname/vifname/address.
func NewPort(ifname, vifname string, addr netip.Addr, clock eventloop.Clock, timers *eventloop.TimerList, db *RouteDb, queue *UpdateQueue, auth AuthHandler) *Port {
	return &Port{
		Ifname:              ifname,
		Vifname:             vifname,
		Address:             addr,
		Cost:                1,
		Horizon:             HorizonSplit,
		Advertise:           true,
		UnsolicitedInterval: defaultUnsolicitedInterval,
		TriggeredMinWait:    defaultTriggeredMinWait,
		TriggeredMaxWait:    defaultTriggeredMaxWait,
		InterqueryGap:       defaultInterqueryGap,
		Auth:                auth,
		db:                  db,
		queue:               queue,
		clock:               clock,
		timers:              timers,
		peers:               make(map[netip.Addr]*Peer),
		lastRequestAt:       make(map[netip.Addr]time.Time),
	}
}

// Start enables the port: registers an update-queue reader for triggered
// updates and arms the unsolicited periodic timer.
func (p *Port) Start() {
	p.mu.Lock()
	p.Enabled = true
	p.reader = p.queue.CreateReader()
	p.mu.Unlock()

	jittered := p.UnsolicitedInterval + time.Duration(rand.Int63n(int64(p.UnsolicitedInterval)/10+1))
	p.timers.SchedulePeriodic(jittered, eventloop.PriorityNormal, func(now time.Time) bool {
		p.sendUnsolicitedUpdate()
		return p.Enabled
	})
}

// Stop disables the port and releases its update-queue reader.
func (p *Port) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Enabled = false
	p.queue.DestroyReader(p.reader)
}

// peerLocked finds or creates the Peer for src, bumping recv counters.
func (p *Port) peerLocked(src netip.Addr, now time.Time) *Peer {
	pr, ok := p.peers[src]
	if !ok {
		pr = NewPeer(src, p, now)
		p.peers[src] = pr
	}
	pr.Touch(now)
	return pr
}

// ReceivePacket implements port_io_receive (§4.7): look up/create the
// peer, validate, authenticate, and dispatch Request/Response handling.
func (p *Port) ReceivePacket(src netip.Addr, srcPort uint16, data []byte) error {
	now := p.clock.Now()

	p.mu.Lock()
	peer := p.peerLocked(src, now)
	p.counters.PacketsRecv++
	p.mu.Unlock()
	peer.BumpRecv()
	incPacketsRecv(p.Ifname)

	hdr, entryBytes, err := DecodeHeader(data)
	if err != nil {
		p.bumpBad(peer)
		return err
	}
	if srcPort != RipPort && hdr.Command == CommandResponse {
		p.bumpBad(peer)
		return ErrNonCanonicalSource
	}

	isNewPeer := peer.RouteCount() == 0
	routeBytes, err := p.Auth.AuthenticateInbound(hdr, entryBytes, src, isNewPeer)
	if err != nil {
		p.bumpBad(peer)
		return err
	}

	entries, err := DecodeEntries(SplitEntries(routeBytes))
	if err != nil {
		p.bumpBad(peer)
		return err
	}

	switch hdr.Command {
	case CommandRequest:
		return p.handleRequest(peer, entries, now)
	case CommandResponse:
		return p.handleResponse(peer, entries)
	}
	return nil
}

func (p *Port) bumpBad(peer *Peer) {
	p.mu.Lock()
	p.counters.BadPackets++
	p.mu.Unlock()
	peer.BumpBadPacket()
	incBadPacket(p.Ifname)
}

// handleRequest answers a table-request with the port's current routes,
// split-horizon/poison-reverse filtered, throttled by InterqueryGap.
func (p *Port) handleRequest(peer *Peer, entries []Entry, now time.Time) error {
	if len(entries) != 1 || !entries[0].IsTableRequest {
		return nil
	}
	p.mu.Lock()
	last, seen := p.lastRequestAt[peer.Address]
	if seen && now.Sub(last) < p.InterqueryGap {
		p.mu.Unlock()
		return nil
	}
	p.lastRequestAt[peer.Address] = now
	p.mu.Unlock()

	p.packAndEnqueue(peer)
	return nil
}

// handleResponse validates and applies each advertised route (§4.7 step 5).
func (p *Port) handleResponse(peer *Peer, entries []Entry) error {
	for _, e := range entries {
		if e.IsTableRequest {
			continue
		}
		if err := p.validateEntry(e); err != nil {
			p.mu.Lock()
			p.counters.BadRoutes++
			p.mu.Unlock()
			peer.BumpBadRoute()
			incBadRoute(p.Ifname)
			continue
		}
		metric := e.Metric + p.Cost
		if metric > RipInfinity {
			metric = RipInfinity
		}
		prefix := prefixFromEntry(e)
		p.db.UpdateRoute(prefix, e.NextHop, p.Ifname, p.Vifname, metric, e.RouteTag, Origin{Peer: peer}, nil, false)
		if metric < RipInfinity {
			peer.AddRoute(prefix)
		} else {
			peer.RemoveRoute(prefix)
		}
	}
	return nil
}

func (p *Port) validateEntry(e Entry) error {
	if e.Metric > RipInfinity {
		return ErrBadMetric
	}
	if e.AddressFamily != AddressFamilyInet {
		return ErrBadFamily
	}
	addr := e.Address
	if addr.IsMulticast() {
		return ErrMulticastRoute
	}
	if addr.IsLoopback() {
		return ErrLoopbackRoute
	}
	if addr.Is4() && addr.As4()[0] >= 240 {
		return ErrClassERoute
	}
	if addr.IsUnspecified() && !p.AcceptDefault {
		return ErrDefaultRouteRejected
	}
	return nil
}

func prefixFromEntry(e Entry) netip.Prefix {
	bits := maskBits(e.Mask)
	p, _ := e.Address.Prefix(bits)
	return p
}

func maskBits(mask netip.Addr) int {
	b := mask.As4()
	bits := 0
	for _, byt := range b {
		for i := 7; i >= 0; i-- {
			if byt&(1<<uint(i)) != 0 {
				bits++
			}
		}
	}
	return bits
}

// sendUnsolicitedUpdate walks the database and enqueues periodic updates
// to every peer this port has heard from, and once to the port's general
// outbound destination if no peers are known yet (broadcast/multicast
// case, left to the transport layer to resolve).
func (p *Port) sendUnsolicitedUpdate() {
	p.mu.Lock()
	peers := make([]*Peer, 0, len(p.peers))
	for _, pr := range p.peers {
		peers = append(peers, pr)
	}
	p.mu.Unlock()

	if len(peers) == 0 {
		p.packAndEnqueue(nil)
		return
	}
	for _, pr := range peers {
		p.packAndEnqueue(pr)
	}
}

// ScheduleTriggeredUpdate arranges a coalesced triggered update at a
// random delay in [TriggeredMinWait, TriggeredMaxWait], called whenever
// the route database changes (§4.7).
func (p *Port) ScheduleTriggeredUpdate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.triggeredTimer != nil {
		return
	}
	span := p.TriggeredMaxWait - p.TriggeredMinWait
	delay := p.TriggeredMinWait
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	p.triggeredTimer = p.timers.ScheduleAfter(delay, eventloop.PriorityHigh, func(time.Time) bool {
		p.mu.Lock()
		p.triggeredTimer = nil
		p.mu.Unlock()
		p.sendUnsolicitedUpdate()
		return false
	})
}

// packAndEnqueue horizon-filters the current route set relative to this
// port (routes learned through this port are omitted or poisoned, whichever
// peer is passed; peer is not otherwise used), packs entries into one or
// more auth-wrapped packets respecting MaxRoutingEntries, and enqueues
// them on the outbound packet queue. When no route survives filtering, a
// single response with no route entries is enqueued.
func (p *Port) packAndEnqueue(peer *Peer) {
	routes := p.db.DumpRoutes()
	maxRoutes := p.Auth.MaxRoutingEntries()

	var batch []Entry
	packed := false
	flush := func() {
		if len(batch) == 0 && packed {
			return
		}
		packed = true
		entryBytes := make([]byte, 0, len(batch)*EntrySize)
		for _, e := range batch {
			entryBytes = append(entryBytes, EncodeEntry(e)...)
		}
		hdr := Header{Command: CommandResponse, Version: 2}
		regions, err := p.Auth.AuthenticateOutbound(hdr, entryBytes)
		if err == nil {
			for _, r := range regions {
				pkt := append(append([]byte{}, EncodeHeader(hdr)...), r...)
				p.enqueueOutbound(pkt)
			}
		}
		batch = batch[:0]
	}

	for _, r := range routes {
		metric := r.Metric
		include := true
		if !r.Origin.IsLocal() && r.Origin.Peer.Port() == p {
			switch p.Horizon {
			case HorizonSplit:
				include = false
			case HorizonPoisonReverse:
				metric = RipInfinity
			}
		}
		if !include {
			continue
		}
		batch = append(batch, routeToEntry(r, metric))
		if len(batch) == maxRoutes {
			flush()
		}
	}
	flush()
}

func routeToEntry(r Route, metric uint32) Entry {
	bits := r.Prefix.Bits()
	mask := prefixMaskAddr(bits)
	return Entry{
		AddressFamily: AddressFamilyInet,
		RouteTag:      r.Tag,
		Address:       r.Prefix.Addr(),
		Mask:          mask,
		NextHop:       r.NextHop,
		Metric:        metric,
	}
}

func prefixMaskAddr(bits int) netip.Addr {
	var b [4]byte
	for i := 0; i < bits; i++ {
		b[i/8] |= 1 << uint(7-i%8)
	}
	return netip.AddrFrom4(b)
}

// enqueueOutbound appends pkt to the FIFO outbound queue.
func (p *Port) enqueueOutbound(pkt []byte) {
	p.mu.Lock()
	p.outbound = append(p.outbound, pkt)
	p.counters.UpdatesSent++
	p.mu.Unlock()
	incUpdateSent(p.Ifname)
}

// PopOutbound returns the head of the outbound queue without removing it;
// call AckSend(true) on success to pop it, or AckSend(false) to flush the
// whole queue on a send failure (§4.7's "on failure the queue is flushed").
func (p *Port) PopOutbound() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outbound) == 0 {
		return nil, false
	}
	return p.outbound[0], true
}

// AckSend reports the outcome of sending the packet last returned by
// PopOutbound.
func (p *Port) AckSend(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outbound) == 0 {
		return
	}
	if ok {
		p.outbound = p.outbound[1:]
	} else {
		p.outbound = nil
	}
}

// Counters returns a value copy of the port's counters.
func (p *Port) Counters() PortCounters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

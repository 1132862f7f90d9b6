package rip

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// PeerCounters tracks per-peer operational visibility fields recovered
// from the XORP source's Peer class (supplemented from original_source/,
// see SPEC_FULL.md), read through Peer.Counters. They are not exported as
// prometheus counters; the exported counters are per interface.
type PeerCounters struct {
	PacketsRecv uint64
	BadPackets  uint64
	BadRoutes   uint64
	UpdatesSent uint64
}

// Peer is a remote host that has sent this port RIP traffic (§3's
// RipPeer<A>). A Peer exclusively owns the routes it originated; RouteDb
// entries hold a non-owning back-reference via Origin.
type Peer struct {
	mu         sync.Mutex
	Address    netip.Addr
	port       *Port
	counters   PeerCounters
	lastActive time.Time
	routes     map[netip.Prefix]struct{}

	dead atomic.Bool
}

// NewPeer constructs a Peer bound to port. It stays alive until MarkDead
// is called; neither silence nor withdrawal of its routes marks it dead.
func NewPeer(addr netip.Addr, port *Port, now time.Time) *Peer {
	return &Peer{
		Address:    addr,
		port:       port,
		lastActive: now,
		routes:     make(map[netip.Prefix]struct{}),
	}
}

// Port returns the owning port.
func (p *Peer) Port() *Port { return p.port }

// Touch records activity at now, used to compute silence timeout.
func (p *Peer) Touch(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActive = now
}

// LastActive returns the last time this peer was heard from.
func (p *Peer) LastActive() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActive
}

// BumpRecv increments the packets-received counter (§4.7 step 1 "bump
// counters").
func (p *Peer) BumpRecv() { atomic.AddUint64(&p.counters.PacketsRecv, 1) }

// BumpBadPacket increments the malformed-packet counter.
func (p *Peer) BumpBadPacket() { atomic.AddUint64(&p.counters.BadPackets, 1) }

// BumpBadRoute increments the rejected-route-entry counter.
func (p *Peer) BumpBadRoute() { atomic.AddUint64(&p.counters.BadRoutes, 1) }

// BumpUpdateSent increments the outbound-update counter.
func (p *Peer) BumpUpdateSent() { atomic.AddUint64(&p.counters.UpdatesSent, 1) }

// Counters returns a value copy of the peer's counters.
func (p *Peer) Counters() PeerCounters {
	return PeerCounters{
		PacketsRecv: atomic.LoadUint64(&p.counters.PacketsRecv),
		BadPackets:  atomic.LoadUint64(&p.counters.BadPackets),
		BadRoutes:   atomic.LoadUint64(&p.counters.BadRoutes),
		UpdatesSent: atomic.LoadUint64(&p.counters.UpdatesSent),
	}
}

// AddRoute records prefix as originated by this peer.
func (p *Peer) AddRoute(prefix netip.Prefix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[prefix] = struct{}{}
}

// RemoveRoute withdraws prefix from this peer's originated set.
func (p *Peer) RemoveRoute(prefix netip.Prefix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.routes, prefix)
}

// RouteCount reports how many routes this peer currently originates.
func (p *Peer) RouteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.routes)
}

// MarkDead flags the peer as no longer alive, observed by RouteDb's
// GarbageCollect pass to reclaim any routes still referencing it.
func (p *Peer) MarkDead() { p.dead.Store(true) }

// IsDead reports whether MarkDead has been called.
func (p *Peer) IsDead() bool { return p.dead.Load() }

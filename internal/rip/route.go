package rip

import (
	"net/netip"
	"sync"
	"time"

	"github.com/coreroute/corerouted/internal/eventloop"
)

// Origin identifies who advertised a route: a remote Peer, or the local
// process itself (Peer == nil).
type Origin struct {
	Peer *Peer
}

func (o Origin) IsLocal() bool { return o.Peer == nil }

func (o Origin) equals(other Origin) bool { return o.Peer == other.Peer }

// Route is one entry in a RouteDb (§3's RipRoute<A>).
type Route struct {
	Prefix     netip.Prefix
	NextHop    netip.Addr
	Ifname     string
	Vifname    string
	Metric     uint32
	Tag        uint16
	Origin     Origin
	PolicyTags []string

	deleting bool
}

type dbEntry struct {
	route       Route
	expiryTimer *eventloop.Timer
	deleteTimer *eventloop.Timer
	armedAt     time.Time
}

// RouteDb is a prefix-keyed route table with RFC 2453 §3.9-style expiry
// and deletion timers (§4.6). It is driven by an eventloop.TimerList so
// timer callbacks run on the owning EventLoop's thread.
type RouteDb struct {
	mu      sync.RWMutex
	clock   eventloop.Clock
	timers  *eventloop.TimerList
	queue   *UpdateQueue
	entries map[netip.Prefix]*dbEntry

	ExpiryInterval   time.Duration
	DeletionInterval time.Duration
}

// NewRouteDb constructs an empty database. Defaults per §4.6: 180s expiry,
// 120s deletion.
func NewRouteDb(clock eventloop.Clock, timers *eventloop.TimerList, queue *UpdateQueue) *RouteDb {
	return &RouteDb{
		clock:            clock,
		timers:           timers,
		queue:            queue,
		entries:          make(map[netip.Prefix]*dbEntry),
		ExpiryInterval:   180 * time.Second,
		DeletionInterval: 120 * time.Second,
	}
}

// UpdateRoute applies an advertisement for net from origin, per the
// replacement rules in §4.6. isPush indicates a re-filter pass that must
// only update policy tags without touching timers.
func (db *RouteDb) UpdateRoute(prefix netip.Prefix, nextHop netip.Addr, ifname, vifname string, metric uint32, tag uint16, origin Origin, policyTags []string, isPush bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cur, exists := db.entries[prefix]

	if isPush {
		if exists {
			cur.route.PolicyTags = policyTags
		}
		return
	}

	if !exists {
		e := &dbEntry{route: Route{
			Prefix: prefix, NextHop: nextHop, Ifname: ifname, Vifname: vifname,
			Metric: metric, Tag: tag, Origin: origin, PolicyTags: policyTags,
		}}
		db.entries[prefix] = e
		db.armExpiryLocked(e)
		db.queue.Push(ChangeAdd, prefix, e.route)
		if metric >= RipInfinity {
			db.beginDeletionLocked(e)
		}
		return
	}

	sameOrigin := cur.route.Origin.equals(origin)
	if !sameOrigin {
		accept := metric < cur.route.Metric
		if !accept && metric == cur.route.Metric {
			accept = db.pastHalfLifeLocked(cur)
		}
		if !accept {
			return
		}
	}

	changed := cur.route.NextHop != nextHop || cur.route.Metric != metric ||
		cur.route.Tag != tag || cur.route.Ifname != ifname || cur.route.Vifname != vifname

	cur.route.NextHop = nextHop
	cur.route.Ifname = ifname
	cur.route.Vifname = vifname
	cur.route.Metric = metric
	cur.route.Tag = tag
	cur.route.Origin = origin
	cur.route.PolicyTags = policyTags

	if metric >= RipInfinity {
		db.beginDeletionLocked(cur)
		db.queue.Push(ChangeReplace, prefix, cur.route)
		return
	}

	db.armExpiryLocked(cur)
	if changed {
		db.queue.Push(ChangeReplace, prefix, cur.route)
	}
}

// pastHalfLifeLocked implements the tie-break rule for equal-metric
// updates from a different origin: accept only once the current entry is
// past half its expiry lifetime.
func (db *RouteDb) pastHalfLifeLocked(e *dbEntry) bool {
	if e.armedAt.IsZero() {
		return true
	}
	return db.clock.Now().Sub(e.armedAt) >= db.ExpiryInterval/2
}

func (db *RouteDb) armExpiryLocked(e *dbEntry) {
	if e.expiryTimer != nil {
		db.timers.Cancel(e.expiryTimer)
	}
	if e.deleteTimer != nil {
		db.timers.Cancel(e.deleteTimer)
		e.deleteTimer = nil
	}
	e.armedAt = db.clock.Now()
	prefix := e.route.Prefix
	e.expiryTimer = db.timers.ScheduleAfter(db.ExpiryInterval, eventloop.PriorityNormal, func(now time.Time) bool {
		db.onExpire(prefix)
		return false
	})
}

func (db *RouteDb) onExpire(prefix netip.Prefix) {
	db.mu.Lock()
	e, ok := db.entries[prefix]
	if !ok {
		db.mu.Unlock()
		return
	}
	e.route.Metric = RipInfinity
	db.beginDeletionLocked(e)
	db.queue.Push(ChangeReplace, prefix, e.route)
	db.mu.Unlock()
}

func (db *RouteDb) beginDeletionLocked(e *dbEntry) {
	if e.expiryTimer != nil {
		db.timers.Cancel(e.expiryTimer)
		e.expiryTimer = nil
	}
	if e.deleteTimer != nil {
		return
	}
	prefix := e.route.Prefix
	e.deleteTimer = db.timers.ScheduleAfter(db.DeletionInterval, eventloop.PriorityLow, func(now time.Time) bool {
		db.onDelete(prefix)
		return false
	})
}

func (db *RouteDb) onDelete(prefix netip.Prefix) {
	db.mu.Lock()
	e, ok := db.entries[prefix]
	if !ok {
		db.mu.Unlock()
		return
	}
	delete(db.entries, prefix)
	db.mu.Unlock()
	db.queue.Push(ChangeDelete, prefix, e.route)
}

// FindRoute returns a read-only copy of the route for prefix.
func (db *RouteDb) FindRoute(prefix netip.Prefix) (Route, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.entries[prefix]
	if !ok {
		return Route{}, false
	}
	return e.route, true
}

// DumpRoutes returns a snapshot of every current entry.
func (db *RouteDb) DumpRoutes() []Route {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]Route, 0, len(db.entries))
	for _, e := range db.entries {
		out = append(out, e.route)
	}
	return out
}

// FlushRoutes drops every entry immediately, without deletion-timer delay
// or queue events. Port.Stop does not call it.
func (db *RouteDb) FlushRoutes() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, e := range db.entries {
		if e.expiryTimer != nil {
			db.timers.Cancel(e.expiryTimer)
		}
		if e.deleteTimer != nil {
			db.timers.Cancel(e.deleteTimer)
		}
	}
	db.entries = make(map[netip.Prefix]*dbEntry)
}

// PushRoutes re-applies policy tags to every route without resetting
// timers, per the isPush contract of UpdateRoute; newTags supplies the
// updated tag set for a prefix, or leaves it unchanged if absent.
func (db *RouteDb) PushRoutes(newTags map[netip.Prefix][]string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for prefix, e := range db.entries {
		if tags, ok := newTags[prefix]; ok {
			e.route.PolicyTags = tags
		}
	}
}

// GarbageCollect sweeps the whole database for entries whose origin peer
// is no longer alive, bounding memory after a bulk peer departure — the
// XORP-derived periodic pass supplementing per-route timers (§4.6 note).
func (db *RouteDb) GarbageCollect() (reclaimed int) {
	db.mu.Lock()
	var stale []netip.Prefix
	for prefix, e := range db.entries {
		if !e.route.Origin.IsLocal() && e.route.Origin.Peer != nil && e.route.Origin.Peer.IsDead() {
			stale = append(stale, prefix)
			if e.expiryTimer != nil {
				db.timers.Cancel(e.expiryTimer)
			}
			if e.deleteTimer != nil {
				db.timers.Cancel(e.deleteTimer)
			}
		}
	}
	events := make([]Route, 0, len(stale))
	for _, prefix := range stale {
		events = append(events, db.entries[prefix].route)
		delete(db.entries, prefix)
	}
	db.mu.Unlock()

	for i, prefix := range stale {
		db.queue.Push(ChangeDelete, prefix, events[i])
	}
	return len(stale)
}

// Len reports the number of routes currently held.
func (db *RouteDb) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entries)
}

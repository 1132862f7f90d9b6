package rip

import (
	"net/netip"
	"sync"

	"github.com/rs/xid"
)

// ChangeKind identifies what happened to a route in an UpdateQueue event.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeReplace
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeReplace:
		return "replace"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one value-copy event recorded in an UpdateQueue.
type Change struct {
	Kind   ChangeKind
	Prefix netip.Prefix
	Route  Route
	seq    uint64
}

// ReaderID identifies one UpdateQueue reader.
type ReaderID = xid.ID

// UpdateQueue is a multi-reader, append-only log of route-change events
// (§4.6). Each reader advances independently; an event is retained until
// every live reader has passed it.
type UpdateQueue struct {
	mu       sync.Mutex
	events   []Change
	nextSeq  uint64
	baseSeq  uint64 // sequence number of events[0], once trimmed
	cursors  map[ReaderID]uint64
}

// NewUpdateQueue creates an empty queue.
func NewUpdateQueue() *UpdateQueue {
	return &UpdateQueue{cursors: make(map[ReaderID]uint64)}
}

// CreateReader registers a new reader starting at the current tail, so it
// only observes events pushed after this call.
func (q *UpdateQueue) CreateReader() ReaderID {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := xid.New()
	q.cursors[id] = q.nextSeq
	return id
}

// DestroyReader removes a reader, potentially allowing Flush to reclaim
// events only it was still holding back.
func (q *UpdateQueue) DestroyReader(id ReaderID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cursors, id)
}

// Push appends a change event, visible to every reader from this point.
func (q *UpdateQueue) Push(kind ChangeKind, prefix netip.Prefix, route Route) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := Change{Kind: kind, Prefix: prefix, Route: route, seq: q.nextSeq}
	q.nextSeq++
	q.events = append(q.events, c)
}

// Next returns the next unobserved event for reader id and advances its
// cursor, or ok=false if the reader is caught up.
func (q *UpdateQueue) Next(id ReaderID) (Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.cursors[id]
	if !ok {
		return Change{}, false
	}
	idx := int(cur - q.baseSeq)
	if idx < 0 || idx >= len(q.events) {
		return Change{}, false
	}
	ev := q.events[idx]
	q.cursors[id] = cur + 1
	return ev, true
}

// Fastforward advances reader id to the current tail without returning the
// skipped events, for readers that only care about the latest state.
func (q *UpdateQueue) Fastforward(id ReaderID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.cursors[id]; ok {
		q.cursors[id] = q.nextSeq
	}
}

// Flush drops every event that every live reader has already passed.
func (q *UpdateQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cursors) == 0 {
		q.events = q.events[:0]
		q.baseSeq = q.nextSeq
		return
	}
	min := q.nextSeq
	for _, c := range q.cursors {
		if c < min {
			min = c
		}
	}
	if min <= q.baseSeq {
		return
	}
	drop := int(min - q.baseSeq)
	if drop > len(q.events) {
		drop = len(q.events)
	}
	q.events = append([]Change{}, q.events[drop:]...)
	q.baseSeq = min
}

// Len reports the number of retained (not yet globally-observed) events.
func (q *UpdateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

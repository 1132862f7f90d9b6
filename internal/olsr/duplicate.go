package olsr

import (
	"net/netip"

	lru "github.com/google/golang-lru"
)

const defaultDuplicateSetSize = 256

// dupKey identifies a flooded message by its originator and sequence
// number, the RFC 3626 §3.4 "duplicate tuple" key.
type dupKey struct {
	Origin netip.Addr
	Seq    uint16
}

// DuplicateSet is a bounded LRU of recently-seen (origin, seq) pairs used
// to suppress reprocessing of flooded OLSR messages that were already seen.
type DuplicateSet struct {
	cache *lru.Cache
}

// NewDuplicateSet constructs a set bounded to size entries (0 uses the
// package default).
func NewDuplicateSet(size int) *DuplicateSet {
	if size <= 0 {
		size = defaultDuplicateSetSize
	}
	cache, _ := lru.New(size)
	return &DuplicateSet{cache: cache}
}

// Seen reports whether (origin, seq) was already recorded, and records it
// if not — a combined check-and-insert to avoid a second map walk.
func (d *DuplicateSet) Seen(origin netip.Addr, seq uint16) bool {
	key := dupKey{Origin: origin, Seq: seq}
	if _, ok := d.cache.Get(key); ok {
		incDuplicatesSuppressed()
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}

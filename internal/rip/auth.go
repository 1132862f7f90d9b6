package rip

import (
	"crypto/md5"
	"encoding/binary"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/xid"
)

// AuthHandler is the strategy interface for RIPv2 authentication (RFC 2453
// §4, RFC 2082): None, Plaintext, or MD5. Outbound packets are wrapped,
// inbound packets are validated and have their authentication head/trailer
// entries stripped before route decoding.
type AuthHandler interface {
	// AuthenticateInbound validates the packet and returns the raw entry
	// bytes remaining once authentication entries are removed. hdr is the
	// packet's already-decoded header, needed by MD5 to reconstruct the
	// exact bytes the digest was computed over.
	AuthenticateInbound(hdr Header, entryBytes []byte, src netip.Addr, isNewPeer bool) ([]byte, error)
	// AuthenticateOutbound wraps route entry bytes with the handler's
	// head/trailer entries, returning one or more complete entry regions
	// ready to append after the packet header.
	AuthenticateOutbound(hdr Header, routeEntries []byte) ([][]byte, error)
	// EffectiveName identifies the variant currently in effect, honoring
	// MD5's transparent fallback to None when it holds no valid keys.
	EffectiveName() string
	// HeadEntries is the number of 20-byte entries this variant consumes
	// at the front of a packet.
	HeadEntries() int
	// MaxRoutingEntries is the number of route entries that fit in one
	// packet alongside this variant's head/trailer entries.
	MaxRoutingEntries() int
	// Reset clears any per-source replay/session state.
	Reset()
}

// NoAuth is the trivial AuthHandler: no entries consumed, full 25-entry
// budget available to routes.
type NoAuth struct{}

func (NoAuth) AuthenticateInbound(_ Header, entryBytes []byte, _ netip.Addr, _ bool) ([]byte, error) {
	return entryBytes, nil
}

func (NoAuth) AuthenticateOutbound(_ Header, routeEntries []byte) ([][]byte, error) {
	return [][]byte{routeEntries}, nil
}

func (NoAuth) EffectiveName() string    { return "none" }
func (NoAuth) HeadEntries() int         { return 0 }
func (NoAuth) MaxRoutingEntries() int   { return MaxEntries }
func (NoAuth) Reset()                   {}

// PlaintextAuth implements RFC 2453's simple 16-byte ASCII password scheme.
type PlaintextAuth struct {
	mu       sync.RWMutex
	password [16]byte
}

// NewPlaintextAuth constructs a handler with password, truncated or
// zero-padded to 16 bytes as RFC 2453 requires.
func NewPlaintextAuth(password string) *PlaintextAuth {
	p := &PlaintextAuth{}
	p.SetPassword(password)
	return p
}

func (p *PlaintextAuth) SetPassword(password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf [16]byte
	copy(buf[:], password)
	p.password = buf
}

func (p *PlaintextAuth) AuthenticateInbound(_ Header, entryBytes []byte, _ netip.Addr, _ bool) ([]byte, error) {
	if len(entryBytes) < EntrySize || !IsAuthEntry(entryBytes[:EntrySize]) {
		return nil, ErrAuthTypeMismatch
	}
	head := entryBytes[:EntrySize]
	if binary.BigEndian.Uint16(head[2:4]) != uint16(AuthTypePlaintext) {
		return nil, ErrAuthTypeMismatch
	}
	p.mu.RLock()
	want := p.password
	p.mu.RUnlock()
	var got [16]byte
	copy(got[:], head[4:20])
	if got != want {
		return nil, ErrWrongPassword
	}
	return entryBytes[EntrySize:], nil
}

func (p *PlaintextAuth) AuthenticateOutbound(_ Header, routeEntries []byte) ([][]byte, error) {
	p.mu.RLock()
	pw := p.password
	p.mu.RUnlock()

	head := make([]byte, EntrySize)
	binary.BigEndian.PutUint16(head[0:2], AddressFamilyAuth)
	binary.BigEndian.PutUint16(head[2:4], uint16(AuthTypePlaintext))
	copy(head[4:20], pw[:])

	out := append(append([]byte{}, head...), routeEntries...)
	return [][]byte{out}, nil
}

func (p *PlaintextAuth) EffectiveName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	// The original's "empty password falls back to None" quirk, applied
	// to Plaintext the same way MD5 falls back when it has no valid keys.
	if p.password == ([16]byte{}) {
		return "none"
	}
	return "plaintext"
}

func (p *PlaintextAuth) HeadEntries() int { return 1 }

func (p *PlaintextAuth) MaxRoutingEntries() int { return MaxEntries - 1 }

func (p *PlaintextAuth) Reset() {}

// AuthKey is one MD5 keychain entry (RFC 2082).
type AuthKey struct {
	ID         uint8
	Key        [16]byte
	Start      time.Time
	End        time.Time
	Persistent bool

	startTimerID xid.ID
	endTimerID   xid.ID
}

func (k AuthKey) validAt(now time.Time) bool {
	if k.Persistent {
		return true
	}
	return !now.Before(k.Start) && !now.After(k.End)
}

// replayState tracks the last-seen sequence number per source address
// under a given key, for MD5's replay rejection rule.
type replayState struct {
	lastSeqno uint32
	seen      bool
}

// MD5Auth implements RFC 2082 keyed-MD5 authentication with a keychain of
// overlapping-validity keys and per-source replay protection.
type MD5Auth struct {
	mu      sync.Mutex
	valid   map[uint8]*AuthKey
	invalid map[uint8]*AuthKey
	replay  map[netip.Addr]map[uint8]*replayState
	outSeq  uint32

	// scheduleAt is used to arrange key start/end transitions on an
	// EventLoop-driven TimerList; tests pass a function that records the
	// callbacks so they can fire them by hand. When nil, no transition is
	// scheduled.
	scheduleAt func(at time.Time, cb func(now time.Time) bool)
}

// NewMD5Auth constructs a handler with no keys configured, behaving as
// None until AddKey is called.
func NewMD5Auth(scheduleAt func(at time.Time, cb func(now time.Time) bool)) *MD5Auth {
	return &MD5Auth{
		valid:      make(map[uint8]*AuthKey),
		invalid:    make(map[uint8]*AuthKey),
		replay:     make(map[netip.Addr]map[uint8]*replayState),
		scheduleAt: scheduleAt,
	}
}

// AddKey inserts a key into the keychain, immediately valid if start has
// already passed, or scheduled to activate at start otherwise. A timer is
// also armed to retire it at end, honoring the last-key-persistence rule.
func (m *MD5Auth) AddKey(id uint8, key [16]byte, start, end, now time.Time) error {
	if start.After(end) || end.Before(now) {
		return ErrKeyRangeInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := &AuthKey{ID: id, Key: key, Start: start, End: end}
	if !now.Before(start) {
		m.valid[id] = k
	} else {
		m.invalid[id] = k
		if m.scheduleAt != nil {
			m.scheduleAt(start, func(time.Time) bool {
				m.activateKey(id)
				return false
			})
		}
	}
	if m.scheduleAt != nil {
		m.scheduleAt(end, func(time.Time) bool {
			m.retireKey(id)
			return false
		})
	}
	return nil
}

func (m *MD5Auth) activateKey(id uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.invalid[id]
	if !ok {
		return
	}
	delete(m.invalid, id)
	m.valid[id] = k
}

// retireKey moves a key out of the valid set when its end timer fires,
// unless it is the sole remaining valid key, in which case it is marked
// persistent and kept (open-question decision, matching the source's
// observed behavior rather than strict RFC 2082).
func (m *MD5Auth) retireKey(id uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.valid[id]
	if !ok {
		return
	}
	if len(m.valid) == 1 {
		k.Persistent = true
		return
	}
	delete(m.valid, id)
	m.invalid[id] = k
}

// RemoveKey deletes id from whichever set holds it.
func (m *MD5Auth) RemoveKey(id uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.valid, id)
	delete(m.invalid, id)
}

func (m *MD5Auth) validKeyLocked(id uint8, now time.Time) (*AuthKey, bool) {
	k, ok := m.valid[id]
	if !ok || !k.validAt(now) {
		return nil, false
	}
	return k, true
}

func (m *MD5Auth) hasValidKeysLocked() bool {
	return len(m.valid) > 0
}

func (m *MD5Auth) EffectiveName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasValidKeysLocked() {
		return "none"
	}
	return "md5"
}

func (m *MD5Auth) HeadEntries() int { return 1 }

func (m *MD5Auth) MaxRoutingEntries() int { return MaxEntries - 2 }

func (m *MD5Auth) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replay = make(map[netip.Addr]map[uint8]*replayState)
}

// AuthenticateInbound validates the MD5 head entry and trailer digest.
// The digest covers the reconstructed header followed by entryBytes up
// to (not including) the trailer, then the key data (RFC 2082 §3.2).
func (m *MD5Auth) AuthenticateInbound(hdr Header, entryBytes []byte, src netip.Addr, isNewPeer bool) ([]byte, error) {
	m.mu.Lock()
	if !m.hasValidKeysLocked() {
		m.mu.Unlock()
		return entryBytes, nil
	}
	now := time.Now()
	if len(entryBytes) < EntrySize {
		m.mu.Unlock()
		return nil, ErrInvalidTrailer
	}
	head := entryBytes[:EntrySize]
	if !IsAuthEntry(head) || binary.BigEndian.Uint16(head[2:4]) != uint16(AuthTypeMD5) {
		m.mu.Unlock()
		return nil, ErrAuthTypeMismatch
	}
	authOffset := binary.BigEndian.Uint16(head[4:6])
	keyID := head[6]
	authBytes := head[7]
	seqno := binary.BigEndian.Uint32(head[8:12])

	key, ok := m.validKeyLocked(keyID, now)
	if !ok {
		m.mu.Unlock()
		return nil, ErrBadKeyID
	}

	totalLen := HeaderSize + len(entryBytes)
	if int(authOffset)+int(authBytes) != totalLen {
		m.mu.Unlock()
		return nil, ErrInvalidTrailer
	}
	if len(entryBytes) < EntrySize*2 {
		m.mu.Unlock()
		return nil, ErrInvalidTrailer
	}
	trailer := entryBytes[len(entryBytes)-EntrySize:]
	if binary.BigEndian.Uint16(trailer[0:2]) != AddressFamilyAuth ||
		binary.BigEndian.Uint16(trailer[2:4]) != uint16(AuthTypeMD5Data) {
		m.mu.Unlock()
		return nil, ErrInvalidTrailer
	}
	gotDigest := trailer[4:20]

	sources, ok := m.replay[src]
	if !ok {
		sources = make(map[uint8]*replayState)
		m.replay[src] = sources
	}
	rs, ok := sources[keyID]
	if !ok {
		rs = &replayState{}
		sources[keyID] = rs
	}
	if rs.seen && !(isNewPeer && seqno == 0) {
		if seqno-rs.lastSeqno >= 1<<31 {
			m.mu.Unlock()
			return nil, ErrReplaySeqno
		}
	}
	keyData := key.Key
	m.mu.Unlock()

	// The digest covers everything up to but not including the 16-byte
	// digest itself — that includes the trailer's leading FFFF/0001 marker,
	// per RFC 2082 and XORP's auth.cc (auth_off()+auth_data_offset()).
	digestInput := make([]byte, 0, authOffset)
	digestInput = append(digestInput, EncodeHeader(hdr)...)
	digestInput = append(digestInput, entryBytes[:len(entryBytes)-16]...)
	digestInput = append(digestInput, keyData[:]...)
	sum := md5.Sum(digestInput)
	if string(sum[:]) != string(gotDigest) {
		return nil, ErrDigestMismatch
	}

	m.mu.Lock()
	rs.lastSeqno = seqno
	rs.seen = true
	m.mu.Unlock()

	return entryBytes[EntrySize : len(entryBytes)-EntrySize], nil
}

// AuthenticateOutbound wraps routeEntries with an MD5 head entry and
// trailing digest entry, incrementing the outbound sequence number.
func (m *MD5Auth) AuthenticateOutbound(hdr Header, routeEntries []byte) ([][]byte, error) {
	m.mu.Lock()
	if !m.hasValidKeysLocked() {
		m.mu.Unlock()
		return [][]byte{routeEntries}, nil
	}
	var key *AuthKey
	for _, k := range m.valid {
		if key == nil || k.ID < key.ID {
			key = k
		}
	}
	m.outSeq++
	seq := m.outSeq
	keyData := key.Key
	keyID := key.ID
	m.mu.Unlock()

	totalLen := HeaderSize + EntrySize + len(routeEntries) + EntrySize
	// authOffset points at the start of the 16-byte digest itself, so
	// authOffset+authBytes lands exactly on the end of the packet — the
	// invariant AuthenticateInbound checks.
	authOffset := totalLen - 16
	head := make([]byte, EntrySize)
	binary.BigEndian.PutUint16(head[0:2], AddressFamilyAuth)
	binary.BigEndian.PutUint16(head[2:4], uint16(AuthTypeMD5))
	binary.BigEndian.PutUint16(head[4:6], uint16(authOffset))
	head[6] = keyID
	head[7] = 16
	binary.BigEndian.PutUint32(head[8:12], seq)

	// Digest covers header+head+routes+the trailer's leading FFFF/0001
	// marker, but not the digest bytes it's about to produce.
	trailerMarker := make([]byte, 4)
	binary.BigEndian.PutUint16(trailerMarker[0:2], AddressFamilyAuth)
	binary.BigEndian.PutUint16(trailerMarker[2:4], uint16(AuthTypeMD5Data))

	digestInput := make([]byte, 0, totalLen-16)
	digestInput = append(digestInput, EncodeHeader(hdr)...)
	digestInput = append(digestInput, head...)
	digestInput = append(digestInput, routeEntries...)
	digestInput = append(digestInput, trailerMarker...)
	digestInput = append(digestInput, keyData[:]...)
	sum := md5.Sum(digestInput)

	trailer := make([]byte, EntrySize)
	copy(trailer[0:4], trailerMarker)
	copy(trailer[4:20], sum[:])

	out := make([]byte, 0, totalLen-HeaderSize)
	out = append(out, head...)
	out = append(out, routeEntries...)
	out = append(out, trailer...)
	return [][]byte{out}, nil
}

package rawsocket

import "net/netip"

// Family selects the IP address family a socket is bound to.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

// socketKey identifies the at-most-one kernel socket per (family, protocol)
// invariant (§4.10, §8 "count(RawSocket) <= 1").
type socketKey struct {
	Family   Family
	Protocol int
}

// Filter is one registered receiver's view into a shared (family, protocol)
// socket: which (ifname, vifname) it wants traffic from, an optional
// protocol override (0 matches the socket's own protocol, used when a
// socket is shared across sub-protocols), and whether it wants to see its
// own multicast transmissions looped back.
type Filter struct {
	Name             string
	Ifname          string
	Vifname         string
	Protocol        int
	McastLoopback   bool
}

// matches reports whether this filter accepts a packet received on ifname/
// vifname, with IP protocol proto, from src — the §4.10 "a filter ignores
// a packet when..." rule.
func (f Filter) matches(ifname, vifname string, proto int, src netip.Addr, isLocal, isMulticast bool) bool {
	if f.Ifname != "" && f.Ifname != ifname {
		return false
	}
	if f.Vifname != "" && f.Vifname != vifname {
		return false
	}
	if f.Protocol != 0 && f.Protocol != proto {
		return false
	}
	if isLocal && isMulticast && !f.McastLoopback {
		return false
	}
	return true
}

// mcastKey identifies a reference-counted multicast membership: one kernel
// join per (ifname, vifname, group) regardless of receiver count (§4.10).
type mcastKey struct {
	Ifname  string
	Vifname string
	Group   netip.Addr
}

// ReceivedPacket is delivered to a matching filter's callback (§6's async
// receive signature).
type ReceivedPacket struct {
	Ifname         string
	Vifname        string
	Src            netip.Addr
	Dst            netip.Addr
	Protocol       int
	TTL            uint8
	TOS            uint8
	RouterAlert    bool
	ExtHeaderTypes []uint8
	ExtHeaderData  [][]byte
	Payload        []byte
}

// ReceiveFunc is invoked once per matching filter for each inbound packet.
type ReceiveFunc func(ReceivedPacket)

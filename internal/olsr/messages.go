package olsr

import (
	"encoding/binary"
	"net/netip"
)

// Willingness values from RFC 3626 §18.8.
const (
	WillNever   uint8 = 0
	WillLow     uint8 = 1
	WillDefault uint8 = 3
	WillHigh    uint8 = 6
	WillAlways  uint8 = 7
)

// LinkQuality carries the ETX near/far bytes LQ-HELLO and LQ-TC append
// per neighbor, each scaled as value/255 (§4.9).
type LinkQuality struct {
	Near uint8
	Far  uint8
}

// LinkTuple is one HELLO link-code group: the link/neighbor classification
// plus the neighbor interface addresses it covers.
type LinkTuple struct {
	Code  LinkCode
	Addrs []netip.Addr
	LQ    []LinkQuality // len(LQ) == len(Addrs) for the LQ-HELLO variant
}

const linkTupleHeaderSize = 4

// HelloMessage is an OLSR HELLO (§4.9); lq is true for the LQ-HELLO
// extension, which appends a near/far ETX byte pair per neighbor address.
type HelloMessage struct {
	Hdr         MessageHeader
	HTime       uint8 // compressed htime, re-expand with DecodeTime
	Willingness uint8
	Links       []LinkTuple
	lq          bool
}

func (m HelloMessage) Header() MessageHeader { return m.Hdr }

func (m HelloMessage) EncodeBody() []byte {
	out := make([]byte, 4)
	out[2] = m.HTime
	out[3] = m.Willingness
	for _, lt := range m.Links {
		addrBytes := 4
		if m.lq {
			addrBytes = 6
		}
		tupleLen := linkTupleHeaderSize + len(lt.Addrs)*addrBytes
		tuple := make([]byte, linkTupleHeaderSize, tupleLen)
		tuple[0] = lt.Code.Encode()
		binary.BigEndian.PutUint16(tuple[2:4], uint16(tupleLen))
		for i, a := range lt.Addrs {
			b4 := a.As4()
			tuple = append(tuple, b4[:]...)
			if m.lq {
				if i < len(lt.LQ) {
					tuple = append(tuple, lt.LQ[i].Near, lt.LQ[i].Far)
				} else {
					tuple = append(tuple, 0, 0)
				}
			}
		}
		out = append(out, tuple...)
	}
	return out
}

func decodeHelloBody(body []byte, lq bool) (HelloMessage, error) {
	if len(body) < 4 {
		return HelloMessage{}, ErrInvalidMessage
	}
	m := HelloMessage{HTime: body[2], Willingness: body[3], lq: lq}
	rest := body[4:]
	addrBytes := 4
	if lq {
		addrBytes = 6
	}
	for len(rest) > 0 {
		if len(rest) < linkTupleHeaderSize {
			return HelloMessage{}, ErrInvalidLinkTuple
		}
		code := DecodeLinkCode(rest[0])
		tupleLen := binary.BigEndian.Uint16(rest[2:4])
		if int(tupleLen) < linkTupleHeaderSize || int(tupleLen) > len(rest) {
			return HelloMessage{}, ErrInvalidLinkTuple
		}
		addrArea := rest[linkTupleHeaderSize:tupleLen]
		if len(addrArea)%addrBytes != 0 {
			return HelloMessage{}, ErrInvalidLinkTuple
		}
		if !code.Valid() {
			// Silently skip this tuple per RFC; still consume its bytes.
			rest = rest[tupleLen:]
			continue
		}
		n := len(addrArea) / addrBytes
		lt := LinkTuple{Code: code, Addrs: make([]netip.Addr, n)}
		if lq {
			lt.LQ = make([]LinkQuality, n)
		}
		for i := 0; i < n; i++ {
			off := i * addrBytes
			var b4 [4]byte
			copy(b4[:], addrArea[off:off+4])
			lt.Addrs[i] = netip.AddrFrom4(b4)
			if lq {
				lt.LQ[i] = LinkQuality{Near: addrArea[off+4], Far: addrArea[off+5]}
			}
		}
		m.Links = append(m.Links, lt)
		rest = rest[tupleLen:]
	}
	return m, nil
}

func decodeHello(hdr MessageHeader, body []byte) (Message, error) {
	m, err := decodeHelloBody(body, false)
	if err != nil {
		return nil, err
	}
	m.Hdr = hdr
	return m, nil
}

func decodeLQHello(hdr MessageHeader, body []byte) (Message, error) {
	m, err := decodeHelloBody(body, true)
	if err != nil {
		return nil, err
	}
	m.Hdr = hdr
	return m, nil
}

// TCMessage is an OLSR Topology Control message (§4.9); lq true appends a
// near/far ETX pair per advertised neighbor (the LQ-TC extension).
type TCMessage struct {
	Hdr       MessageHeader
	ANSN      uint16
	Neighbors []netip.Addr
	LQ        []LinkQuality
	lq        bool
}

func (m TCMessage) Header() MessageHeader { return m.Hdr }

func (m TCMessage) EncodeBody() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], m.ANSN)
	for i, n := range m.Neighbors {
		b4 := n.As4()
		out = append(out, b4[:]...)
		if m.lq {
			if i < len(m.LQ) {
				out = append(out, m.LQ[i].Near, m.LQ[i].Far)
			} else {
				out = append(out, 0, 0)
			}
		}
	}
	return out
}

func decodeTCBody(hdr MessageHeader, body []byte, lq bool) (Message, error) {
	if len(body) < 4 {
		return nil, ErrInvalidMessage
	}
	m := TCMessage{Hdr: hdr, ANSN: binary.BigEndian.Uint16(body[0:2]), lq: lq}
	rest := body[4:]
	step := 4
	if lq {
		step = 6
	}
	if len(rest)%step != 0 {
		return nil, ErrInvalidMessage
	}
	for len(rest) > 0 {
		var b4 [4]byte
		copy(b4[:], rest[:4])
		m.Neighbors = append(m.Neighbors, netip.AddrFrom4(b4))
		if lq {
			m.LQ = append(m.LQ, LinkQuality{Near: rest[4], Far: rest[5]})
		}
		rest = rest[step:]
	}
	return m, nil
}

func decodeTC(hdr MessageHeader, body []byte) (Message, error) { return decodeTCBody(hdr, body, false) }
func decodeLQTC(hdr MessageHeader, body []byte) (Message, error) { return decodeTCBody(hdr, body, true) }

// MIDMessage declares additional interface addresses of its originator
// (§4.9); an empty address list is invalid.
type MIDMessage struct {
	Hdr       MessageHeader
	Addresses []netip.Addr
}

func (m MIDMessage) Header() MessageHeader { return m.Hdr }

func (m MIDMessage) EncodeBody() []byte {
	out := make([]byte, 0, len(m.Addresses)*4)
	for _, a := range m.Addresses {
		b4 := a.As4()
		out = append(out, b4[:]...)
	}
	return out
}

func decodeMID(hdr MessageHeader, body []byte) (Message, error) {
	if len(body) == 0 || len(body)%4 != 0 {
		return nil, ErrInvalidMessage
	}
	m := MIDMessage{Hdr: hdr}
	for off := 0; off < len(body); off += 4 {
		var b4 [4]byte
		copy(b4[:], body[off:off+4])
		m.Addresses = append(m.Addresses, netip.AddrFrom4(b4))
	}
	return m, nil
}

// HNANetwork is one advertised (address, mask) pair in an HNA message.
type HNANetwork struct {
	Address netip.Addr
	Mask    netip.Addr
}

// HNAMessage advertises non-OLSR networks reachable via its originator
// (§4.9); an empty network list is invalid.
type HNAMessage struct {
	Hdr      MessageHeader
	Networks []HNANetwork
}

func (m HNAMessage) Header() MessageHeader { return m.Hdr }

func (m HNAMessage) EncodeBody() []byte {
	out := make([]byte, 0, len(m.Networks)*8)
	for _, n := range m.Networks {
		a4, mk4 := n.Address.As4(), n.Mask.As4()
		out = append(out, a4[:]...)
		out = append(out, mk4[:]...)
	}
	return out
}

func decodeHNA(hdr MessageHeader, body []byte) (Message, error) {
	if len(body) == 0 || len(body)%8 != 0 {
		return nil, ErrInvalidMessage
	}
	m := HNAMessage{Hdr: hdr}
	for off := 0; off < len(body); off += 8 {
		var a4, mk4 [4]byte
		copy(a4[:], body[off:off+4])
		copy(mk4[:], body[off+4:off+8])
		m.Networks = append(m.Networks, HNANetwork{Address: netip.AddrFrom4(a4), Mask: netip.AddrFrom4(mk4)})
	}
	return m, nil
}

func init() {
	decoders[MessageLQTC] = decodeLQTC
}

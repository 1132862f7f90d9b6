package olsr

import (
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// MessageType identifies the body layout of an OLSR message (RFC 3626
// §3.4). Values 201/202 are the olsrd link-quality extensions this suite
// also understands.
type MessageType uint8

const (
	MessageHello   MessageType = 1
	MessageTC      MessageType = 2
	MessageMID     MessageType = 3
	MessageHNA     MessageType = 4
	MessageLQHello MessageType = 201
	MessageLQTC    MessageType = 202
)

const (
	PacketHeaderSize = 4
	MessageHeaderSize = 12
)

// PacketHeader is the 4-byte OLSR packet header (§4.9).
type PacketHeader struct {
	Length uint16
	Seq    uint16
}

// MessageHeader is the 12-byte per-message header (IPv4 variant, §4.9).
type MessageHeader struct {
	Type   MessageType
	VTime  time.Duration
	Size   uint16
	Origin netip.Addr
	TTL    uint8
	Hops   uint8
	Seq    uint16
}

// Message is any decoded OLSR message body: HelloMessage, TCMessage,
// MIDMessage, HNAMessage, or UnknownMessage for unrecognized types (which
// must be forwarded, not dropped, per RFC flooding rules).
type Message interface {
	Header() MessageHeader
	EncodeBody() []byte
}

// UnknownMessage wraps the raw body of a message type this implementation
// does not parse, preserving it verbatim for forwarding.
type UnknownMessage struct {
	Hdr MessageHeader
	Raw []byte
}

func (m UnknownMessage) Header() MessageHeader { return m.Hdr }
func (m UnknownMessage) EncodeBody() []byte    { return m.Raw }

// Envelope pairs a decoded message with its position in the enclosing
// packet; secured-OLSR signature extensions need to know the first/last
// message boundaries (§4.9).
type Envelope struct {
	Message Message
	IsFirst bool
	IsLast  bool
}

// Packet is a fully decoded OLSR packet: a sequence number plus one or
// more messages.
type Packet struct {
	Seq      uint16
	Messages []Envelope
}

// decoders is the tagged-variant registry mapping wire type codes to
// per-message parsers, mirroring the teacher's PIM decode-by-type switch
// but generalized to a registry so new message types register themselves.
var decoders = map[MessageType]func(MessageHeader, []byte) (Message, error){
	MessageHello:   decodeHello,
	MessageLQHello: decodeLQHello,
	MessageTC:      decodeTC,
	MessageMID:     decodeMID,
	MessageHNA:     decodeHNA,
}

// DecodePacket parses a full OLSR packet per §4.9's decode contract.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < PacketHeaderSize {
		incPacketsDropped("too_short")
		return Packet{}, ErrPacketTooShort
	}
	length := binary.BigEndian.Uint16(data[0:2])
	seq := binary.BigEndian.Uint16(data[2:4])
	if int(length) > len(data) {
		incPacketsDropped("too_short")
		return Packet{}, ErrPacketTooShort
	}
	body := data[PacketHeaderSize:length]

	var msgs []Envelope
	for len(body) > 0 {
		if len(body) < MessageHeaderSize {
			incPacketsDropped("invalid")
			return Packet{}, ErrInvalidPacket
		}
		hdr := decodeMessageHeader(body)
		if hdr.TTL == 0 {
			incPacketsDropped("invalid")
			return Packet{}, ErrInvalidMessage
		}
		if int(hdr.Size) < MessageHeaderSize || int(hdr.Size) > len(body) {
			incPacketsDropped("invalid")
			return Packet{}, ErrInvalidMessage
		}
		msgBody := body[MessageHeaderSize:hdr.Size]

		decode, ok := decoders[hdr.Type]
		var msg Message
		var err error
		if ok {
			msg, err = decode(hdr, msgBody)
		} else {
			msg = UnknownMessage{Hdr: hdr, Raw: append([]byte{}, msgBody...)}
		}
		if err != nil {
			incPacketsDropped("invalid")
			return Packet{}, err
		}
		incMessagesDecoded(hdr.Type)
		msgs = append(msgs, Envelope{Message: msg})
		body = body[hdr.Size:]
	}
	if len(msgs) == 0 {
		incPacketsDropped("empty")
		return Packet{}, ErrInvalidPacket
	}
	msgs[0].IsFirst = true
	msgs[len(msgs)-1].IsLast = true

	return Packet{Seq: seq, Messages: msgs}, nil
}

func decodeMessageHeader(b []byte) MessageHeader {
	var origin [4]byte
	copy(origin[:], b[4:8])
	return MessageHeader{
		Type:   MessageType(b[0]),
		VTime:  DecodeTime(b[1]),
		Size:   binary.BigEndian.Uint16(b[2:4]),
		Origin: netip.AddrFrom4(origin),
		TTL:    b[8],
		Hops:   b[9],
		Seq:    binary.BigEndian.Uint16(b[10:12]),
	}
}

func encodeMessageHeader(hdr MessageHeader, bodySize int) []byte {
	b := make([]byte, MessageHeaderSize)
	b[0] = byte(hdr.Type)
	b[1] = EncodeTime(hdr.VTime)
	binary.BigEndian.PutUint16(b[2:4], uint16(MessageHeaderSize+bodySize))
	origin := hdr.Origin.As4()
	copy(b[4:8], origin[:])
	b[8] = hdr.TTL
	b[9] = hdr.Hops
	binary.BigEndian.PutUint16(b[10:12], hdr.Seq)
	return b
}

// EncodePacket serializes pkt, truncating at mtu (the configured payload
// ceiling after IP+UDP headers) by packing as many whole messages as fit
// (§4.9's encode contract).
func EncodePacket(pkt Packet, mtu int) []byte {
	out := make([]byte, PacketHeaderSize)
	for _, env := range pkt.Messages {
		body := env.Message.EncodeBody()
		hdrBytes := encodeMessageHeader(env.Message.Header(), len(body))
		msgBytes := append(hdrBytes, body...)
		if mtu > 0 && len(out)+len(msgBytes) > mtu {
			break
		}
		out = append(out, msgBytes...)
	}
	binary.BigEndian.PutUint16(out[0:2], uint16(len(out)))
	binary.BigEndian.PutUint16(out[2:4], pkt.Seq)
	return out
}

// LayerType registers OLSR packets with gopacket so they can participate
// in a decode chain the same way the teacher's PIM layer does.
var LayerType = gopacket.RegisterLayerType(1667, gopacket.LayerTypeMetadata{Name: "OLSR", Decoder: gopacket.DecodeFunc(decodeLayer)})

// Layer adapts Packet to gopacket.Layer for use inside a gopacket decode
// chain (e.g. UDP payload dissection).
type Layer struct {
	layers.BaseLayer
	Packet Packet
}

func (l *Layer) LayerType() gopacket.LayerType { return LayerType }

func decodeLayer(data []byte, pb gopacket.PacketBuilder) error {
	pkt, err := DecodePacket(data)
	if err != nil {
		return err
	}
	l := &Layer{BaseLayer: layers.BaseLayer{Contents: data}, Packet: pkt}
	pb.AddLayer(l)
	return nil
}

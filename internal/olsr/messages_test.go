package olsr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOLSR_Hello_InvalidLinkCodeTupleIsSilentlySkipped(t *testing.T) {
	t.Parallel()
	origin := netip.MustParseAddr("10.0.0.1")
	hello := HelloMessage{
		Hdr:         MessageHeader{Type: MessageHello, Origin: origin, TTL: 1},
		Willingness: WillDefault,
		Links: []LinkTuple{
			{Code: LinkCode{Link: LinkSymmetric, Neighbor: NeighborSymmetric}, Addrs: []netip.Addr{netip.MustParseAddr("10.0.0.2")}},
		},
	}
	body := hello.EncodeBody()

	// Hand-craft an invalid SYM/NOT tuple and prepend it.
	bad := make([]byte, 8)
	bad[0] = LinkCode{Link: LinkSymmetric, Neighbor: NeighborNot}.Encode()
	bad[2], bad[3] = 0, 8
	copy(bad[4:8], netip.MustParseAddr("10.0.0.9").As4())
	combined := append(body[:4:4], append(bad, body[4:]...)...)

	decoded, err := decodeHelloBody(combined, false)
	require.NoError(t, err)
	require.Len(t, decoded.Links, 1)
	require.Equal(t, NeighborSymmetric, decoded.Links[0].Code.Neighbor)
}

func TestOLSR_LQHello_CarriesNearFarETXPerAddress(t *testing.T) {
	t.Parallel()
	origin := netip.MustParseAddr("10.0.0.1")
	m := HelloMessage{
		Hdr:         MessageHeader{Type: MessageLQHello, Origin: origin, TTL: 1},
		Willingness: WillDefault,
		lq:          true,
		Links: []LinkTuple{
			{
				Code:  LinkCode{Link: LinkSymmetric, Neighbor: NeighborSymmetric},
				Addrs: []netip.Addr{netip.MustParseAddr("10.0.0.2")},
				LQ:    []LinkQuality{{Near: 200, Far: 220}},
			},
		},
	}
	body := m.EncodeBody()

	decoded, err := decodeHelloBody(body, true)
	require.NoError(t, err)
	require.Len(t, decoded.Links, 1)
	require.Equal(t, LinkQuality{Near: 200, Far: 220}, decoded.Links[0].LQ[0])
}

func TestOLSR_TC_RoundTripWithANSNAndNeighbors(t *testing.T) {
	t.Parallel()
	origin := netip.MustParseAddr("10.0.0.1")
	tc := TCMessage{
		Hdr:       MessageHeader{Type: MessageTC, Origin: origin, TTL: 4},
		ANSN:      42,
		Neighbors: []netip.Addr{netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.0.6")},
	}
	pkt := Packet{Seq: 1, Messages: []Envelope{{Message: tc}}}
	wire := EncodePacket(pkt, 0)

	decoded, err := DecodePacket(wire)
	require.NoError(t, err)
	got := decoded.Messages[0].Message.(TCMessage)
	require.Equal(t, uint16(42), got.ANSN)
	require.Equal(t, tc.Neighbors, got.Neighbors)
}

func TestOLSR_MID_EmptyAddressListInvalid(t *testing.T) {
	t.Parallel()
	_, err := decodeMID(MessageHeader{}, nil)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestOLSR_HNA_RoundTripPairsAddressAndMask(t *testing.T) {
	t.Parallel()
	origin := netip.MustParseAddr("10.0.0.1")
	hna := HNAMessage{
		Hdr: MessageHeader{Type: MessageHNA, Origin: origin, TTL: 1},
		Networks: []HNANetwork{
			{Address: netip.MustParseAddr("192.168.1.0"), Mask: netip.MustParseAddr("255.255.255.0")},
		},
	}
	pkt := Packet{Seq: 1, Messages: []Envelope{{Message: hna}}}
	wire := EncodePacket(pkt, 0)

	decoded, err := DecodePacket(wire)
	require.NoError(t, err)
	got := decoded.Messages[0].Message.(HNAMessage)
	require.Equal(t, hna.Networks, got.Networks)
}

func TestOLSR_HNA_EmptyNetworkListInvalid(t *testing.T) {
	t.Parallel()
	_, err := decodeHNA(MessageHeader{}, nil)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestOLSR_LinkCode_SymmetricLinkWithNotNeighborIsInvalid(t *testing.T) {
	t.Parallel()
	c := LinkCode{Link: LinkSymmetric, Neighbor: NeighborNot}
	require.False(t, c.Valid())

	ok := LinkCode{Link: LinkSymmetric, Neighbor: NeighborSymmetric}
	require.True(t, ok.Valid())
}

func TestOLSR_DuplicateSet_SuppressesRepeatedOriginSeq(t *testing.T) {
	t.Parallel()
	d := NewDuplicateSet(4)
	origin := netip.MustParseAddr("10.0.0.1")

	require.False(t, d.Seen(origin, 1))
	require.True(t, d.Seen(origin, 1))
	require.False(t, d.Seen(origin, 2))
}

package main

import (
	"encoding/binary"
	"fmt"
)

// The raw-socket manager delivers whole IP payloads; RIP and OLSR both run
// over UDP (§6), so routingd parses the 8-byte UDP header itself rather
// than asking the kernel to, the same way a raw-IP-socket-based routing
// daemon always has to when it bypasses the normal UDP stack for control
// over TTL/interface metadata.
const udpHeaderLen = 8

func decodeUDP(payload []byte) (srcPort, dstPort uint16, body []byte, err error) {
	if len(payload) < udpHeaderLen {
		return 0, 0, nil, fmt.Errorf("routingd: udp header truncated: %d bytes", len(payload))
	}
	srcPort = binary.BigEndian.Uint16(payload[0:2])
	dstPort = binary.BigEndian.Uint16(payload[2:4])
	return srcPort, dstPort, payload[udpHeaderLen:], nil
}

// encodeUDP builds a minimal UDP header around body. The checksum is left
// zero (valid for IPv4 UDP; RFC 768) since the kernel never sees this as a
// UDP socket to checksum for us.
func encodeUDP(srcPort, dstPort uint16, body []byte) []byte {
	out := make([]byte, udpHeaderLen+len(body))
	binary.BigEndian.PutUint16(out[0:2], srcPort)
	binary.BigEndian.PutUint16(out[2:4], dstPort)
	binary.BigEndian.PutUint16(out[4:6], uint16(udpHeaderLen+len(body)))
	out[6], out[7] = 0, 0
	copy(out[udpHeaderLen:], body)
	return out
}

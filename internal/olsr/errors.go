package olsr

import "errors"

var (
	ErrPacketTooShort  = errors.New("olsr: packet too short")
	ErrInvalidPacket   = errors.New("olsr: invalid packet")
	ErrInvalidMessage  = errors.New("olsr: invalid message")
	ErrInvalidLinkTuple = errors.New("olsr: invalid link tuple")
)

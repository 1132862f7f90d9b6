package rawsocket

import "errors"

var (
	ErrSocketCreateFailed = errors.New("rawsocket: socket create failed")
	ErrBindFailed         = errors.New("rawsocket: bind failed")
	ErrJoinGroupFailed    = errors.New("rawsocket: join multicast group failed")
	ErrSendFailed         = errors.New("rawsocket: send failed")
	ErrBadDescriptor      = errors.New("rawsocket: bad descriptor")

	errUnknownReceiver      = errors.New("rawsocket: unknown receiver")
	errReceiverAlreadyExists = errors.New("rawsocket: receiver already registered")
	errNotJoined            = errors.New("rawsocket: group not joined by this receiver")
)

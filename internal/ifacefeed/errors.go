package ifacefeed

import "errors"

var (
	ErrUnknownInterface = errors.New("ifacefeed: no such interface")
	ErrUnknownVif       = errors.New("ifacefeed: no such vif")
	ErrUnknownAddress   = errors.New("ifacefeed: no such address")
	ErrAlreadyRunning   = errors.New("ifacefeed: feed already running")
	ErrNotRunning       = errors.New("ifacefeed: feed not running")
)

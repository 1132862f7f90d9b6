package policy

import "errors"

var (
	ErrUnknownFilterKind = errors.New("policy: unknown filter kind")
	ErrInvalidConfig     = errors.New("policy: malformed filter configuration")
	ErrUnknownFilter     = errors.New("policy: no such filter id")
)

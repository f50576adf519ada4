package endpoint

import "errors"

var (
	ErrExhausted           = errors.New("endpoint: packet id space exhausted")
	ErrInvalidPacketID     = errors.New("endpoint: packet id 0 is illegal")
	ErrPacketIDInUse       = errors.New("endpoint: packet id already registered")
	ErrPacketIDNotFound    = errors.New("endpoint: packet id not in flight")
	ErrClosed              = errors.New("endpoint: closed")
	ErrNotConnected        = errors.New("endpoint: not connected")
	ErrAliasOutOfRange     = errors.New("endpoint: topic alias out of range")
	ErrAliasZero           = errors.New("endpoint: topic alias 0 is illegal")
	ErrAliasUnresolved     = errors.New("endpoint: zero-length topic references unset alias")
	ErrAcquireCancelled    = errors.New("endpoint: packet id acquire cancelled")
	ErrKeepAliveTimeout    = errors.New("endpoint: keep-alive timeout")
	ErrPacketTooLarge      = errors.New("endpoint: encoded packet exceeds negotiated maximum packet size")
)

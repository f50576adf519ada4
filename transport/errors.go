package transport

import "errors"

var (
	ErrStreamClosed     = errors.New("transport: stream closed")
	ErrHandshakeTimeout = errors.New("transport: handshake timeout")
	ErrWriteAfterClose  = errors.New("transport: write after close")
)

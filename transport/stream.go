// Package transport abstracts the byte stream an endpoint drives, so the
// protocol engine never imports net, tls, or websocket packages directly.
package transport

import (
	"context"
	"net"
)

// Stream is the abstract byte stream the endpoint engine reads and writes.
// Implementations wrap whatever carries bytes on the wire: a plain TCP
// net.Conn, a TLS-wrapped one, or (as an external collaborator, out of
// scope per the module's non-goals) a WebSocket connection.
type Stream interface {
	// Handshake performs any transport-level negotiation (TLS, WS upgrade)
	// before the first MQTT byte may be read or written. Implementations
	// that need none return nil immediately.
	Handshake(ctx context.Context) error

	Read(buf []byte) (int, error)

	// Write accepts a scatter list so a driver-loop turn that produced
	// several packets can hand them to the stream as one syscall.
	Write(bufs net.Buffers) (int64, error)

	Close() error
}

// Addresser is implemented by streams that can report endpoint addresses.
// Kept as a separate, optional interface since in-memory test streams
// (net.Pipe based) have no meaningful address.
type Addresser interface {
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

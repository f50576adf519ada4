package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type streamState int32

const (
	stateConnected streamState = iota
	stateClosing
	stateClosed
)

// netStream adapts a net.Conn (plain or *tls.Conn) to Stream. It keeps the
// state/close-once/activity-tracking shape of network.Connection; the epoll
// poller and raw TLS handshake configuration that lived alongside it are
// dropped, since the listener/handshake setup is an external collaborator
// the broker wires up before handing this type a live net.Conn.
type netStream struct {
	conn net.Conn
	tls  *tls.Conn

	state        atomic.Int32
	lastActivity atomic.Int64

	readDeadline  time.Duration
	writeDeadline time.Duration

	closeOnce sync.Once
	closeCh   chan struct{}

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// Config mirrors network.ConnectionConfig's read/write deadline knobs.
// TLS setup itself happens before NewStream is called; TLSConfig here only
// marks whether Handshake must run the TLS handshake explicitly.
type Config struct {
	ReadDeadline  time.Duration
	WriteDeadline time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ReadDeadline:  60 * time.Second,
		WriteDeadline: 30 * time.Second,
	}
}

// NewStream wraps conn (plain TCP or already-dialed/accepted *tls.Conn) as a Stream.
func NewStream(conn net.Conn, cfg *Config) Stream {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &netStream{
		conn:          conn,
		readDeadline:  cfg.ReadDeadline,
		writeDeadline: cfg.WriteDeadline,
		closeCh:       make(chan struct{}),
	}
	s.state.Store(int32(stateConnected))
	s.touch()

	if tlsConn, ok := conn.(*tls.Conn); ok {
		s.tls = tlsConn
	}

	return s
}

func (s *netStream) Handshake(ctx context.Context) error {
	if s.tls == nil {
		return nil
	}
	return s.tls.HandshakeContext(ctx)
}

func (s *netStream) Read(buf []byte) (int, error) {
	if streamState(s.state.Load()) != stateConnected {
		return 0, ErrStreamClosed
	}

	if s.readDeadline > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readDeadline))
	}

	n, err := s.conn.Read(buf)
	if n > 0 {
		s.bytesRead.Add(uint64(n))
		s.touch()
	}
	return n, err
}

func (s *netStream) Write(bufs net.Buffers) (int64, error) {
	if streamState(s.state.Load()) != stateConnected {
		return 0, ErrWriteAfterClose
	}

	if s.writeDeadline > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeDeadline))
	}

	n, err := bufs.WriteTo(s.conn)
	if n > 0 {
		s.bytesWritten.Add(uint64(n))
		s.touch()
	}
	return n, err
}

func (s *netStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(stateClosing))
		close(s.closeCh)
		err = s.conn.Close()
		s.state.Store(int32(stateClosed))
	})
	return err
}

func (s *netStream) CloseChan() <-chan struct{} { return s.closeCh }

func (s *netStream) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *netStream) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }

func (s *netStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *netStream) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *netStream) BytesRead() uint64 { return s.bytesRead.Load() }

func (s *netStream) BytesWritten() uint64 { return s.bytesWritten.Load() }

var (
	_ Stream    = (*netStream)(nil)
	_ Addresser = (*netStream)(nil)
)

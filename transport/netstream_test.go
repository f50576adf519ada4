package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStreamReadWrite(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cs := NewStream(client, nil)
	ss := NewStream(server, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := ss.Write(net.Buffers{[]byte("hello")})
		assert.NoError(t, err)
		assert.EqualValues(t, 5, n)
	}()

	buf := make([]byte, 5)
	n, err := cs.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
	<-done
}

func TestNewStreamHandshakeNoopWithoutTLS(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewStream(client, nil)
	assert.NoError(t, s.Handshake(context.Background()))
}

func TestNewStreamCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	s := NewStream(client, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrStreamClosed)

	_, err = s.Write(net.Buffers{[]byte("x")})
	assert.ErrorIs(t, err, ErrWriteAfterClose)
}

func TestNewStreamTracksActivity(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cs := NewStream(client, nil).(*netStream)
	before := cs.LastActivity()

	go server.Write([]byte("a"))
	_, err := cs.Read(make([]byte, 1))
	require.NoError(t, err)

	assert.EqualValues(t, 1, cs.BytesRead())
	assert.True(t, cs.LastActivity().After(before) || cs.LastActivity().Equal(before))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.ReadDeadline)
	assert.Equal(t, 30*time.Second, cfg.WriteDeadline)
}

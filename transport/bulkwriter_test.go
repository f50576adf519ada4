package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu     sync.Mutex
	writes []net.Buffers
	err    error
}

func (f *fakeStream) Handshake(ctx context.Context) error { return nil }
func (f *fakeStream) Read(buf []byte) (int, error)        { return 0, nil }
func (f *fakeStream) Close() error                        { return nil }

func (f *fakeStream) Write(bufs net.Buffers) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.writes = append(f.writes, bufs)
	var n int64
	for _, b := range bufs {
		n += int64(len(b))
	}
	return n, nil
}

func TestBulkWriterCoalescesPendingSends(t *testing.T) {
	fs := &fakeStream{}
	bw := NewBulkWriter(fs)

	ch1 := bw.Enqueue([]byte("a"))
	ch2 := bw.Enqueue([]byte("bb"))
	assert.True(t, bw.Pending())

	require.NoError(t, bw.Flush())
	assert.NoError(t, <-ch1)
	assert.NoError(t, <-ch2)
	assert.False(t, bw.Pending())

	require.Len(t, fs.writes, 1)
	assert.Len(t, fs.writes[0], 2)
}

func TestBulkWriterFlushNoPendingIsNoop(t *testing.T) {
	fs := &fakeStream{}
	bw := NewBulkWriter(fs)
	require.NoError(t, bw.Flush())
	assert.Empty(t, fs.writes)
}

func TestBulkWriterFlushErrorReachesAllWaiters(t *testing.T) {
	wantErr := errors.New("write failed")
	fs := &fakeStream{err: wantErr}
	bw := NewBulkWriter(fs)

	ch1 := bw.Enqueue([]byte("a"))
	ch2 := bw.Enqueue([]byte("b"))

	err := bw.Flush()
	assert.ErrorIs(t, err, wantErr)
	assert.ErrorIs(t, <-ch1, wantErr)
	assert.ErrorIs(t, <-ch2, wantErr)
}

var _ Stream = (*fakeStream)(nil)

package client

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
	"github.com/mqttframe/broker/endpoint"
	"github.com/mqttframe/broker/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWriteBuffer struct{ data []byte }

func (b *testWriteBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func newPipeClient(t *testing.T, version packet.Version) (*Client, net.Conn) {
	t.Helper()
	clientConn, peerConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); peerConn.Close() })

	cfg := endpoint.DefaultConfig()
	cfg.Version = version
	cfg.KeepAlive = 0

	eng := endpoint.New(transport.NewStream(clientConn, nil), cfg)
	c := New(eng)
	t.Cleanup(func() { c.Close() })

	return c, peerConn
}

func encodePacket(t *testing.T, pkt encoding.Packet) []byte {
	t.Helper()
	wb := &testWriteBuffer{}
	require.NoError(t, pkt.Encode(wb))
	return wb.data
}

func TestClientAsyncStartCompletesOnConnack(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version5)

	go func() {
		r := bufio.NewReader(peer)
		fh, err := encoding.ParseFixedHeaderWithVersion(r, encoding.ProtocolVersion50)
		require.NoError(t, err)
		_, err = encoding.ParseConnectPacket(r, fh)
		require.NoError(t, err)

		_, err = peer.Write(encodePacket(t, &encoding.ConnackPacket{
			FixedHeader:    encoding.FixedHeader{Type: encoding.CONNACK},
			SessionPresent: true,
			ReasonCode:     0,
		}))
		require.NoError(t, err)
	}()

	f, err := c.AsyncStart(context.Background(), packet.Version5, ConnectArgs{ClientID: "tester"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))
	assert.True(t, f.SessionPresent)
	assert.EqualValues(t, 0, f.ReasonCode)
}

func TestClientAsyncStartRefusalSurfacesReasonCode(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version311)

	go func() {
		r := bufio.NewReader(peer)
		fh, err := encoding.ParseFixedHeaderWithVersion(r, encoding.ProtocolVersion311)
		require.NoError(t, err)
		_, err = encoding.ParseConnectPacket311(r, fh)
		require.NoError(t, err)

		_, err = peer.Write(encodePacket(t, &encoding.ConnackPacket311{
			FixedHeader: encoding.FixedHeader{Type: encoding.CONNACK},
			ReturnCode:  0x05, // not authorized
		}))
		require.NoError(t, err)
	}()

	f, err := c.AsyncStart(context.Background(), packet.Version311, ConnectArgs{ClientID: "tester"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = f.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectRefused)
}

func TestClientAsyncSubscribeCompletesOnSuback(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version5)
	c.run()

	go func() {
		r := bufio.NewReader(peer)
		fh, err := encoding.ParseFixedHeaderWithVersion(r, encoding.ProtocolVersion50)
		require.NoError(t, err)
		_, err = encoding.ParseSubscribePacket(r, fh)
		require.NoError(t, err)

		_, err = peer.Write(encodePacket(t, &encoding.SubackPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.SUBACK},
			PacketID:    7,
			ReasonCodes: []encoding.ReasonCode{0, 1},
		}))
		require.NoError(t, err)
	}()

	f, err := c.AsyncSubscribe(packet.Version5, 7, []SubscribeEntry{
		{TopicFilter: "a/b", QoS: 0},
		{TopicFilter: "c/d", QoS: 1},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))
	assert.Equal(t, []byte{0, 1}, f.ReasonCodes)
}

func TestClientAsyncSubscribeAllErrorReasonCodesFails(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version5)
	c.run()

	go func() {
		r := bufio.NewReader(peer)
		fh, err := encoding.ParseFixedHeaderWithVersion(r, encoding.ProtocolVersion50)
		require.NoError(t, err)
		_, err = encoding.ParseSubscribePacket(r, fh)
		require.NoError(t, err)

		_, err = peer.Write(encodePacket(t, &encoding.SubackPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.SUBACK},
			PacketID:    3,
			ReasonCodes: []encoding.ReasonCode{0x87, 0x91},
		}))
		require.NoError(t, err)
	}()

	f, err := c.AsyncSubscribe(packet.Version5, 3, []SubscribeEntry{{TopicFilter: "a/b", QoS: 0}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), ErrAllReasonCodesError)
}

func TestClientAsyncPublishQoS0CompletesWithoutPeerResponse(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version5)
	c.run()

	drained := make(chan struct{})
	go func() {
		r := bufio.NewReader(peer)
		fh, err := encoding.ParseFixedHeaderWithVersion(r, encoding.ProtocolVersion50)
		require.NoError(t, err)
		_, err = encoding.ParsePublishPacket(r, fh)
		require.NoError(t, err)
		close(drained)
	}()

	f, err := c.AsyncPublish(packet.Version5, "a/b", []byte("hi"), PublishOptions{QoS: 0})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))

	<-drained
}

func TestClientAsyncPublishQoS1CompletesOnPuback(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version5)
	c.run()

	go func() {
		r := bufio.NewReader(peer)
		fh, err := encoding.ParseFixedHeaderWithVersion(r, encoding.ProtocolVersion50)
		require.NoError(t, err)
		pub, err := encoding.ParsePublishPacket(r, fh)
		require.NoError(t, err)

		_, err = peer.Write(encodePacket(t, &encoding.PubackPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBACK},
			PacketID:    pub.PacketID,
		}))
		require.NoError(t, err)
	}()

	f, err := c.AsyncPublish(packet.Version5, "a/b", []byte("hi"), PublishOptions{QoS: 1})
	require.NoError(t, err)
	assert.NotZero(t, f.PacketID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, f.Wait(ctx))
}

func TestClientAsyncRecvDeliversUnsolicitedPublish(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version5)
	c.run()

	_, err := peer.Write(encodePacket(t, &encoding.PublishPacket{
		FixedHeader: encoding.FixedHeader{Type: encoding.PUBLISH, QoS: 0},
		TopicName:   "x/y",
		Payload:     []byte("payload"),
	}))
	require.NoError(t, err)

	rf := c.AsyncRecv()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rf.Wait(ctx))

	pub, ok := rf.Packet.(*encoding.PublishPacket)
	require.True(t, ok)
	assert.Equal(t, "x/y", pub.TopicName)
}

func TestClientAsyncRecvWaiterResolvesInArrivalOrder(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version5)
	c.run()

	first := c.AsyncRecv()

	select {
	case <-first.Done():
		t.Fatal("future resolved before any packet arrived")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := peer.Write(encodePacket(t, &encoding.PublishPacket{
		FixedHeader: encoding.FixedHeader{Type: encoding.PUBLISH, QoS: 0},
		TopicName:   "queued/topic",
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, first.Wait(ctx))
	pub := first.Packet.(*encoding.PublishPacket)
	assert.Equal(t, "queued/topic", pub.TopicName)
}

func TestClientFailAllOnEngineClose(t *testing.T) {
	c, peer := newPipeClient(t, packet.Version5)

	go func() {
		r := bufio.NewReader(peer)
		_, _ = encoding.ParseFixedHeaderWithVersion(r, encoding.ProtocolVersion50)
		peer.Close()
	}()

	f, err := c.AsyncStart(context.Background(), packet.Version5, ConnectArgs{ClientID: "tester"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, f.Wait(ctx))

	<-c.Done()
}

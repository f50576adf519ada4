// Package endpoint implements the MQTT protocol state machine shared by
// both client and broker-side connections: framing, packet-id lifecycle,
// in-flight bookkeeping, topic aliasing, keep-alive, and auto-responses.
package endpoint

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
	"github.com/mqttframe/broker/transport"
)

// Inbound is an application-level packet handed up from the engine's
// driver loop once any auto-response the protocol requires has already
// been scheduled. CONNECT/CONNACK/PUBLISH/SUBSCRIBE/etc. all surface here;
// PUBACK/PUBREC/PUBREL/PUBCOMP/PINGREQ/PINGRESP are consumed internally to
// drive the in-flight store, the auto-responses and the keep-alive timer,
// and are never surfaced (see Recv).
type Inbound struct {
	Packet encoding.Packet
	Err    error
}

// Engine drives one connection's protocol state machine. Each Engine runs
// one read goroutine and one driver goroutine; Send and the packet-id
// methods run on the caller's goroutine, so the in-flight store, id
// allocator and alias tables each guard their state with a mutex, and the
// phase is held in an atomic.
type Engine struct {
	cfg    *Config
	stream transport.Stream
	codec  *encoding.Codec
	bulk   *transport.BulkWriter

	phase atomic.Int32

	idAlloc   *idAllocator
	inflight  *inflightStore
	recv2     *receivedQoS2
	sendAlias *aliasRegistry
	recvAlias *aliasRegistry

	clientKeepAlive *keepAlive
	serverKeepAlive *serverKeepAlive

	ackCb func(AckEvent)

	recvCh   chan Inbound
	decoded  chan decoded
	flushCh  chan struct{}
	closeCh  chan struct{}
	closeOnce sync.Once

	wg sync.WaitGroup
}

// New constructs an Engine bound to stream. Call Start once the MQTT
// CONNECT/CONNACK exchange has negotiated cfg.Version and cfg.KeepAlive.
func New(stream transport.Stream, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := &Engine{
		cfg:      cfg,
		stream:   stream,
		codec:    encoding.NewCodec(cfg.Version),
		bulk:     transport.NewBulkWriter(stream),
		idAlloc:  newIDAllocator(),
		inflight: newInflightStore(),
		recv2:    newReceivedQoS2(),
		recvCh:   make(chan Inbound, 64),
		decoded:  make(chan decoded, 64),
		flushCh:  make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
	e.phase.Store(int32(Disconnected))

	if cfg.Version == packet.Version5 && cfg.MaxTopicAlias > 0 {
		e.sendAlias = newAliasRegistry(cfg.MaxTopicAlias)
		e.recvAlias = newAliasRegistry(cfg.MaxTopicAlias)
	}

	if cfg.KeepAlive > 0 {
		if cfg.Role == RoleClient {
			e.clientKeepAlive = newKeepAlive(cfg.KeepAlive)
		} else {
			e.serverKeepAlive = newServerKeepAlive(uint16(cfg.KeepAlive / time.Second))
		}
	}

	return e
}

// Start sets Phase to Connected and launches the read loop and driver loop.
// Call it once CONNECT/CONNACK has been exchanged.
func (e *Engine) Start() {
	e.phase.Store(int32(Connected))
	e.wg.Add(2)
	go e.readLoop()
	go e.driverLoop()
}

func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// AcquireUniquePacketID reserves a packet id for an outbound QoS>0 send.
func (e *Engine) AcquireUniquePacketID() (uint16, error) {
	return e.idAlloc.Acquire()
}

// AcquireUniquePacketIDWaitUntil blocks until a packet id frees up or ctx ends.
func (e *Engine) AcquireUniquePacketIDWaitUntil(ctx context.Context) (uint16, error) {
	return e.idAlloc.AcquireWaitUntil(ctx)
}

// ReleasePacketID returns an id to the pool, called once its ack completes.
func (e *Engine) ReleasePacketID(id uint16) {
	e.idAlloc.Release(id)
}

// Send encodes pkt and enqueues it for the next bulk-write flush. A send
// refusal (e.g. the stream is closed) releases no packet id bytes and
// returns the error directly to the caller, per the packet-send-refusal
// error-handling rule: no partial bytes are ever emitted.
//
// Outbound QoS1/QoS2 PUBLISH packets are recorded in the in-flight store so
// handlePubrec's PUBREC->PUBREL transition and the retry sweep both have an
// entry to act on; v5 PUBLISH packets are also run through the send-side
// topic alias table when one was negotiated.
func (e *Engine) Send(pkt encoding.Packet) error {
	if e.Phase() != Connected {
		return ErrNotConnected
	}

	if err := e.applyOutboundAlias(pkt); err != nil {
		return err
	}

	var buf writeBuffer
	if err := pkt.Encode(&buf); err != nil {
		return err
	}
	encoded := buf.Bytes()

	if e.cfg.MaxPacketSize > 0 && uint32(len(encoded)) > e.cfg.MaxPacketSize {
		return ErrPacketTooLarge
	}

	e.recordOutbound(pkt, encoded)

	done := e.bulk.Enqueue(encoded)
	e.requestFlush()
	return <-done
}

// recordOutbound updates the in-flight store for pkt once it is known to
// encode within the negotiated maximum packet size: a fresh entry for a
// QoS1/QoS2 PUBLISH, or a refreshed Encoded for a PUBREL advancing an
// existing QoS2 entry so a later retry resends the right bytes.
func (e *Engine) recordOutbound(pkt encoding.Packet, encoded []byte) {
	stored := append([]byte(nil), encoded...)

	switch p := pkt.(type) {
	case *encoding.PublishPacket:
		if p.FixedHeader.QoS != encoding.QoS0 {
			e.inflight.Put(&storeEntry{Kind: qosKind(p.FixedHeader.QoS), PacketID: p.PacketID, Encoded: stored, QoS: byte(p.FixedHeader.QoS)})
		}
	case *encoding.PublishPacket311:
		if p.FixedHeader.QoS != encoding.QoS0 {
			e.inflight.Put(&storeEntry{Kind: qosKind(p.FixedHeader.QoS), PacketID: p.PacketID, Encoded: stored, QoS: byte(p.FixedHeader.QoS)})
		}
	case *encoding.PubrelPacket:
		e.inflight.UpdateEncoded(p.PacketID, stored)
	case *encoding.PubrelPacket311:
		e.inflight.UpdateEncoded(p.PacketID, stored)
	}
}

func qosKind(qos encoding.QoS) entryKind {
	if qos == encoding.QoS2 {
		return KindPublishQoS2
	}
	return KindPublishQoS1
}

// applyOutboundAlias assigns or reuses a send-side topic alias for a v5
// outbound PUBLISH, rewriting pkt in place before it is encoded. A no-op
// when no alias table was negotiated (e.sendAlias == nil), for 3.1.1
// packets (no Properties to carry the alias), or once every alias up to
// MaxTopicAlias is already assigned.
func (e *Engine) applyOutboundAlias(pkt encoding.Packet) error {
	if e.sendAlias == nil {
		return nil
	}

	p, ok := pkt.(*encoding.PublishPacket)
	if !ok || p.TopicName == "" {
		return nil
	}

	alias, assigned, ok := e.sendAlias.LookupOrAssign(p.TopicName)
	if !ok {
		return nil
	}

	if prop := p.Properties.GetProperty(encoding.PropTopicAlias); prop != nil {
		prop.Value = alias
	} else if err := p.Properties.AddProperty(encoding.PropTopicAlias, alias); err != nil {
		return err
	}

	if !assigned {
		p.TopicName = ""
	}
	return nil
}

// requestFlush signals the driver loop to flush the bulk writer at the next
// turn boundary. The buffered, non-blocking send means multiple Sends
// issued back to back before the driver loop wakes up all coalesce into a
// single flush.
func (e *Engine) requestFlush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
	}
}

// Recv returns the channel of application-level inbound packets. CONNECT/
// CONNACK/PUBLISH/SUBSCRIBE/SUBACK/UNSUBSCRIBE/UNSUBACK/DISCONNECT/AUTH
// packets surface here; PUBACK/PUBREC/PUBREL/PUBCOMP/PINGREQ/PINGRESP are
// consumed by the auto-response policy and the in-flight store instead.
func (e *Engine) Recv() <-chan Inbound {
	return e.recvCh
}

// Close tears down the engine: driver loop, read loop, and underlying
// stream. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.phase.Store(int32(Disconnecting))
		close(e.closeCh)
		err = e.stream.Close()
		e.wg.Wait()
		close(e.recvCh)
		e.phase.Store(int32(Disconnected))
	})
	return err
}

// writeBuffer is a minimal growable byte buffer implementing io.Writer,
// avoiding a bytes.Buffer import's extra surface for this single use.
type writeBuffer struct {
	data []byte
}

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writeBuffer) Bytes() []byte { return b.data }

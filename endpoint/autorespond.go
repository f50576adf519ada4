package endpoint

import (
	"sync"
	"time"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
)

// receivedQoS2 tracks inbound QoS2 PUBLISH packet ids that have been PUBREC'd
// but not yet PUBREL'd, generalizing qos.Handler.qos2Received to the engine
// boundary.
type receivedQoS2 struct {
	mu  sync.Mutex
	ids map[uint16]struct{}
}

func newReceivedQoS2() *receivedQoS2 { return &receivedQoS2{ids: make(map[uint16]struct{})} }

func (r *receivedQoS2) mark(id uint16) (already bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, already = r.ids[id]
	r.ids[id] = struct{}{}
	return already
}

func (r *receivedQoS2) clear(id uint16) (existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed = r.ids[id]
	delete(r.ids, id)
	return existed
}

// handleInbound applies the auto-response policy (spec §6.4) and forwards
// application-visible packets to Recv. PUBACK/PUBREC/PUBREL/PUBCOMP/PINGREQ/
// PINGRESP are handled here and never surfaced on recvCh.
func (e *Engine) handleInbound(pkt encoding.Packet, fh *encoding.FixedHeader) {
	if e.serverKeepAlive != nil {
		e.serverKeepAlive.Touch(time.Now())
	}

	switch p := pkt.(type) {
	case *encoding.PublishPacket:
		if err := e.resolveInboundAlias(p); err != nil {
			e.deliver(Inbound{Err: err})
			go e.Close()
			return
		}
		e.handlePublish(p.PacketID, fh.QoS, pkt)
	case *encoding.PublishPacket311:
		e.handlePublish(p.PacketID, fh.QoS, pkt)

	case *encoding.PubackPacket:
		e.completeOutbound(p.PacketID)
		e.fireAck(AckEvent{Kind: AckPuback, PacketID: p.PacketID, ReasonCode: uint8(p.ReasonCode)})
	case *encoding.PubackPacket311:
		e.completeOutbound(p.PacketID)
		e.fireAck(AckEvent{Kind: AckPuback, PacketID: p.PacketID})

	case *encoding.PubrecPacket:
		e.handlePubrec(p.PacketID, uint8(p.ReasonCode))
	case *encoding.PubrecPacket311:
		e.handlePubrec(p.PacketID, 0)

	case *encoding.PubrelPacket:
		e.handlePubrel(p.PacketID)
	case *encoding.PubrelPacket311:
		e.handlePubrel(p.PacketID)

	case *encoding.PubcompPacket:
		e.completeOutbound(p.PacketID)
		e.fireAck(AckEvent{Kind: AckPubcomp, PacketID: p.PacketID, ReasonCode: uint8(p.ReasonCode)})
	case *encoding.PubcompPacket311:
		e.completeOutbound(p.PacketID)
		e.fireAck(AckEvent{Kind: AckPubcomp, PacketID: p.PacketID})

	case *encoding.PingreqPacket:
		if e.cfg.AutoRespond {
			_ = e.Send(&encoding.PingrespPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PINGRESP}})
		}

	case *encoding.PingrespPacket:
		if e.clientKeepAlive != nil {
			e.clientKeepAlive.OnPong(time.Now())
		}

	default:
		e.deliver(Inbound{Packet: pkt})
	}
}

func (e *Engine) handlePublish(packetID uint16, qos encoding.QoS, pkt encoding.Packet) {
	e.deliver(Inbound{Packet: pkt})

	if !e.cfg.AutoRespond {
		return
	}

	switch qos {
	case encoding.QoS1:
		_ = e.sendPuback(packetID)
	case encoding.QoS2:
		e.recv2.mark(packetID)
		_ = e.sendPubrec(packetID)
	}
}

// resolveInboundAlias applies the receive-side topic alias table to an
// inbound v5 PUBLISH, rewriting p.TopicName in place: a non-empty TopicName
// accompanied by a PropTopicAlias binds that alias for later reuse, while an
// empty TopicName resolves the alias from a prior binding. A no-op when no
// alias table was negotiated or the PUBLISH carries no alias property.
func (e *Engine) resolveInboundAlias(p *encoding.PublishPacket) error {
	if e.recvAlias == nil {
		return nil
	}

	prop := p.Properties.GetProperty(encoding.PropTopicAlias)
	if prop == nil {
		return nil
	}
	alias, _ := prop.Value.(uint16)

	if p.TopicName != "" {
		return e.recvAlias.Bind(alias, p.TopicName)
	}

	topic, err := e.recvAlias.Resolve(alias)
	if err != nil {
		return err
	}
	p.TopicName = topic
	return nil
}

func (e *Engine) is311() bool { return e.cfg.Version == packet.Version311 }

func (e *Engine) sendPuback(packetID uint16) error {
	if e.is311() {
		return e.Send(&encoding.PubackPacket311{FixedHeader: encoding.FixedHeader{Type: encoding.PUBACK}, PacketID: packetID})
	}
	return e.Send(&encoding.PubackPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PUBACK}, PacketID: packetID})
}

func (e *Engine) sendPubrec(packetID uint16) error {
	if e.is311() {
		return e.Send(&encoding.PubrecPacket311{FixedHeader: encoding.FixedHeader{Type: encoding.PUBREC}, PacketID: packetID})
	}
	return e.Send(&encoding.PubrecPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PUBREC}, PacketID: packetID})
}

func (e *Engine) sendPubrel(packetID uint16) error {
	if e.is311() {
		return e.Send(&encoding.PubrelPacket311{FixedHeader: encoding.FixedHeader{Type: encoding.PUBREL, Flags: 0x02}, PacketID: packetID})
	}
	return e.Send(&encoding.PubrelPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PUBREL, Flags: 0x02}, PacketID: packetID})
}

func (e *Engine) sendPubcomp(packetID uint16) error {
	if e.is311() {
		return e.Send(&encoding.PubcompPacket311{FixedHeader: encoding.FixedHeader{Type: encoding.PUBCOMP}, PacketID: packetID})
	}
	return e.Send(&encoding.PubcompPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PUBCOMP}, PacketID: packetID})
}

// handlePubrec advances an outbound QoS2 publish to its PUBREL wait state.
// reasonCode >= 0x80 short-circuits the flow without a PUBREL, v5 only —
// v3.1.1's PubrecPacket311 carries no reason code so reasonCode is always 0
// for that path and the short-circuit never triggers.
func (e *Engine) handlePubrec(packetID uint16, reasonCode uint8) {
	if reasonCode >= 0x80 {
		e.inflight.Remove(packetID)
		e.idAlloc.Release(packetID)
		e.fireAck(AckEvent{Kind: AckPubrecError, PacketID: packetID, ReasonCode: reasonCode})
		return
	}

	if e.inflight.Transition(packetID, KindPubrel) {
		_ = e.sendPubrel(packetID)
	}
}

func (e *Engine) handlePubrel(packetID uint16) {
	e.recv2.clear(packetID)
	_ = e.sendPubcomp(packetID)
}

func (e *Engine) completeOutbound(packetID uint16) {
	e.inflight.Remove(packetID)
	e.idAlloc.Release(packetID)
}

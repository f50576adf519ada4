package client

import (
	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
	"github.com/mqttframe/broker/endpoint"
)

// AsyncPublish sends PUBLISH and returns a future resolving per QoS:
// immediately for QoS0 once the bytes are enqueued, on PUBACK for QoS1,
// on PUBCOMP (or an error-reason PUBREC short-circuit) for QoS2.
func (c *Client) AsyncPublish(version packet.Version, topic string, payload []byte, opts PublishOptions) (*PublishFuture, error) {
	if opts.QoS > 0 && opts.PacketID == 0 {
		pid, err := c.eng.AcquireUniquePacketID()
		if err != nil {
			return nil, err
		}
		opts.PacketID = pid
	}

	f := &PublishFuture{future: newFuture(), QoS: uint8(opts.QoS), PacketID: opts.PacketID}

	if opts.QoS > 0 {
		c.mu.Lock()
		c.pubs[opts.PacketID] = f
		c.mu.Unlock()
	}

	var pkt encoding.Packet
	if version == packet.Version311 {
		pkt = &encoding.PublishPacket311{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBLISH, QoS: encoding.QoS(opts.QoS), Retain: opts.Retain, DUP: opts.Dup},
			TopicName:   topic,
			PacketID:    opts.PacketID,
			Payload:     payload,
		}
	} else {
		pkt = &encoding.PublishPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBLISH, QoS: encoding.QoS(opts.QoS), Retain: opts.Retain, DUP: opts.Dup},
			TopicName:   topic,
			PacketID:    opts.PacketID,
			Properties:  opts.Properties,
			Payload:     payload,
		}
	}

	if err := c.eng.Send(pkt); err != nil {
		if opts.QoS > 0 {
			c.mu.Lock()
			delete(c.pubs, opts.PacketID)
			c.mu.Unlock()
		}
		f.complete(err)
		return f, err
	}

	if opts.QoS == 0 {
		f.complete(nil)
	}
	return f, nil
}

// onAck is registered with the engine via OnAck and resolves the
// PublishFuture matching ev.PacketID, if the caller is still waiting on it.
func (c *Client) onAck(ev endpoint.AckEvent) {
	c.mu.Lock()
	f, ok := c.pubs[ev.PacketID]
	if ok {
		delete(c.pubs, ev.PacketID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	f.ReasonCode = ev.ReasonCode

	switch ev.Kind {
	case endpoint.AckPuback:
		if isErrorReasonCode(ev.ReasonCode) {
			f.complete(&encoding.PacketError{Err: ErrPublishNacked, ReasonCode: encoding.ReasonCode(ev.ReasonCode)})
			return
		}
		f.complete(nil)
	case endpoint.AckPubrecError:
		f.complete(&encoding.PacketError{Err: ErrPublishNacked, ReasonCode: encoding.ReasonCode(ev.ReasonCode)})
	case endpoint.AckPubcomp:
		f.complete(nil)
	}
}

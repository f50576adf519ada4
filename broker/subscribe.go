package broker

import (
	"context"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
	"github.com/mqttframe/broker/endpoint"
	"github.com/mqttframe/broker/session"
	"github.com/mqttframe/broker/topic"
)

// handleSubscribe authorizes and installs each filter in subs, replies with
// the version-appropriate SUBACK, and delivers matching retained messages
// per each subscription's RetainHandling.
func (c *Coordinator) handleSubscribe(ctx context.Context, eng *endpoint.Engine, sess *session.Session, username string, version packet.Version, packetID uint16, subs []topic.Subscription, props encoding.Properties) {
	clientID := sess.GetClientID()
	reasonCodes := make([]encoding.ReasonCode, len(subs))
	returnCodes311 := make([]byte, len(subs))

	for i, sub := range subs {
		if !c.auth.AuthorizeSubscribe(ctx, sub.TopicFilter, username) {
			reasonCodes[i] = encoding.ReasonNotAuthorized
			returnCodes311[i] = 0x80
			continue
		}

		isNew := true
		if _, existed := sess.GetSubscription(sub.TopicFilter); existed {
			isNew = false
		}

		sub.ClientID = clientID
		if err := c.router.Subscribe(&sub); err != nil {
			reasonCodes[i] = encoding.ReasonUnspecifiedError
			returnCodes311[i] = 0x80
			continue
		}

		sess.AddSubscription(&session.Subscription{
			TopicFilter:            sub.TopicFilter,
			QoS:                    sub.QoS,
			NoLocal:                sub.NoLocal,
			RetainAsPublished:      sub.RetainAsPublished,
			RetainHandling:         sub.RetainHandling,
			SubscriptionIdentifier: sub.SubscriptionIdentifier,
		})

		reasonCodes[i] = grantedQoSReason(sub.QoS)
		returnCodes311[i] = sub.QoS

		if c.metrics != nil {
			c.metrics.SubscriptionsTotal.Inc()
		}

		c.deliverRetained(ctx, eng, sess, sub, isNew)
	}

	if version == packet.Version311 {
		_ = eng.Send(&encoding.SubackPacket311{
			FixedHeader: encoding.FixedHeader{Type: encoding.SUBACK},
			PacketID:    packetID,
			ReturnCodes: returnCodes311,
		})
		return
	}

	_ = eng.Send(&encoding.SubackPacket{
		FixedHeader: encoding.FixedHeader{Type: encoding.SUBACK},
		PacketID:    packetID,
		ReasonCodes: reasonCodes,
	})
}

// deliverRetained pushes retained messages matching sub's filter to the
// newly (re-)subscribed endpoint, honoring RetainHandling: 0 always sends,
// 1 sends only on a brand new subscription, 2 never sends.
func (c *Coordinator) deliverRetained(ctx context.Context, eng *endpoint.Engine, sess *session.Session, sub topic.Subscription, isNew bool) {
	if sub.RetainHandling == 2 {
		return
	}
	if sub.RetainHandling == 1 && !isNew {
		return
	}

	msgs, err := c.retained.Match(ctx, sub.TopicFilter, c.matcher)
	if err != nil {
		return
	}

	for _, msg := range msgs {
		deliverQoS := msg.QoS
		if encoding.QoS(sub.QoS) < deliverQoS {
			deliverQoS = encoding.QoS(sub.QoS)
		}

		var packetID uint16
		if deliverQoS > 0 {
			packetID = sess.NextPacketID()
		}

		pkt := publishPacketFor(sess.ProtocolVersion, packetID, msg.Topic, msg.Payload, deliverQoS, true, false, msg.Properties)
		if err := eng.Send(pkt); err != nil {
			continue
		}
		if deliverQoS > 0 {
			sess.AddPendingPublish(&session.PendingMessage{
				PacketID:   packetID,
				Topic:      msg.Topic,
				Payload:    msg.Payload,
				QoS:        byte(deliverQoS),
				Retain:     true,
				Properties: msg.Properties,
			})
		}
	}
}

// handleUnsubscribe removes each filter from the router and session, and
// replies with the version-appropriate UNSUBACK.
func (c *Coordinator) handleUnsubscribe(eng *endpoint.Engine, sess *session.Session, version packet.Version, packetID uint16, filters []string) {
	clientID := sess.GetClientID()
	reasonCodes := make([]encoding.ReasonCode, len(filters))

	for i, filter := range filters {
		found := c.router.Unsubscribe(clientID, filter)
		sess.RemoveSubscription(filter)
		if found {
			reasonCodes[i] = encoding.ReasonSuccess
		} else {
			reasonCodes[i] = encoding.ReasonNoSubscriptionExisted
		}
	}

	if version == packet.Version311 {
		_ = eng.Send(&encoding.UnsubackPacket311{
			FixedHeader: encoding.FixedHeader{Type: encoding.UNSUBACK},
			PacketID:    packetID,
		})
		return
	}

	_ = eng.Send(&encoding.UnsubackPacket{
		FixedHeader: encoding.FixedHeader{Type: encoding.UNSUBACK},
		PacketID:    packetID,
		ReasonCodes: reasonCodes,
	})
}

func grantedQoSReason(qos byte) encoding.ReasonCode {
	switch qos {
	case 1:
		return encoding.ReasonGrantedQoS1
	case 2:
		return encoding.ReasonGrantedQoS2
	default:
		return encoding.ReasonGrantedQoS0
	}
}

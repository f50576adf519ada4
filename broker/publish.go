package broker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
	"github.com/mqttframe/broker/session"
	"github.com/mqttframe/broker/topic"
	"github.com/mqttframe/broker/types/message"
)

// handlePublish authorizes an inbound PUBLISH, stores/clears its retained
// copy, and fans it out to every matching subscriber. The engine has
// already auto-acked the PUBLISH at the protocol level (AutoRespond is on),
// so an authorization failure here silently drops the message rather than
// re-signaling over PUBACK/PUBREC.
func (c *Coordinator) handlePublish(ctx context.Context, sess *session.Session, username string, version packet.Version, topicName string, payload []byte, qos encoding.QoS, retain bool, props encoding.Properties) {
	if !c.auth.AuthorizePublish(ctx, topicName, username) {
		if c.metrics != nil {
			c.metrics.ConnectFailures.WithLabelValues("publish_not_authorized").Inc()
		}
		return
	}

	if c.metrics != nil {
		c.metrics.PublishesTotal.WithLabelValues(qosLabel(qos)).Inc()
		c.metrics.BytesReceived.Add(float64(len(payload)))
	}

	if retain {
		c.storeRetained(ctx, topicName, payload, qos, props)
	}

	c.fanOut(ctx, sess.GetClientID(), topicName, payload, qos, props)
}

// storeRetained updates or clears the retained message for topicName. An
// empty payload clears any existing retained message, per the protocol.
func (c *Coordinator) storeRetained(ctx context.Context, topicName string, payload []byte, qos encoding.QoS, props encoding.Properties) {
	if len(payload) == 0 {
		_ = c.retained.Delete(ctx, topicName)
		return
	}
	msg := message.NewMessage(0, topicName, payload, qos, true, propertiesToMap(props))
	_ = c.retained.Set(ctx, topicName, msg)
}

// fanOut delivers a published message to every matching subscriber,
// concurrently, mirroring the errgroup-driven exchange pattern used to fan
// PUBLISH traffic out to a topic's active subscriber set.
func (c *Coordinator) fanOut(ctx context.Context, publisherClientID, topicName string, payload []byte, qos encoding.QoS, props encoding.Properties) {
	subs := c.router.MatchWithPublisher(topicName, publisherClientID)
	if len(subs) == 0 {
		return
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			c.deliverTo(gctx, sub, topicName, payload, qos, props)
			return nil
		})
	}
	_ = group.Wait()
}

// deliverTo pushes one message to a single subscriber, downgrading qos to
// the subscription's granted maximum, queuing it offline if the
// subscriber's session has no live endpoint bound.
func (c *Coordinator) deliverTo(ctx context.Context, sub topic.SubscriberInfo, topicName string, payload []byte, qos encoding.QoS, props encoding.Properties) {
	deliverQoS := qos
	if encoding.QoS(sub.QoS) < deliverQoS {
		deliverQoS = encoding.QoS(sub.QoS)
	}

	target, err := c.sessions.GetSession(ctx, sub.ClientID)
	if err != nil || target == nil {
		return
	}

	eng := target.Endpoint()
	if eng == nil {
		c.queueOffline(target, topicName, payload, deliverQoS, props)
		return
	}

	var packetID uint16
	if deliverQoS > 0 {
		packetID = target.NextPacketID()
	}

	pkt := publishPacketFor(target.ProtocolVersion, packetID, topicName, payload, deliverQoS, false, false, propertiesToMap(props))
	if err := eng.Send(pkt); err != nil {
		c.queueOffline(target, topicName, payload, deliverQoS, props)
		return
	}

	if deliverQoS > 0 {
		target.AddPendingPublish(&session.PendingMessage{
			PacketID:   packetID,
			Topic:      topicName,
			Payload:    payload,
			QoS:        byte(deliverQoS),
			Properties: propertiesToMap(props),
		})
	}

	if c.metrics != nil {
		c.metrics.BytesSent.Add(float64(len(payload)))
	}
}

func (c *Coordinator) queueOffline(target *session.Session, topicName string, payload []byte, qos encoding.QoS, props encoding.Properties) {
	target.OfflineQueue.Push(&session.PendingMessage{
		Topic:      topicName,
		Payload:    payload,
		QoS:        byte(qos),
		Properties: propertiesToMap(props),
	})
}

// publishPacketFor builds the version-appropriate outbound PUBLISH for one
// subscriber, since a v3.1.1-bound endpoint's codec will reject a
// PublishPacket built for v5 and vice versa.
func publishPacketFor(version byte, packetID uint16, topicName string, payload []byte, qos encoding.QoS, retain, dup bool, properties map[string]interface{}) encoding.Packet {
	fh := encoding.FixedHeader{Type: encoding.PUBLISH, QoS: qos, Retain: retain, DUP: dup}

	if version == byte(packet.ProtocolVersion311) {
		return &encoding.PublishPacket311{FixedHeader: fh, TopicName: topicName, PacketID: packetID, Payload: payload}
	}

	props := encoding.Properties{}
	for k, v := range properties {
		switch k {
		case "ContentType":
			if s, ok := v.(string); ok {
				_ = props.AddProperty(encoding.PropContentType, s)
			}
		case "ResponseTopic":
			if s, ok := v.(string); ok {
				_ = props.AddProperty(encoding.PropResponseTopic, s)
			}
		case "CorrelationData":
			if b, ok := v.([]byte); ok {
				_ = props.AddProperty(encoding.PropCorrelationData, b)
			}
		}
	}

	return &encoding.PublishPacket{FixedHeader: fh, TopicName: topicName, PacketID: packetID, Payload: payload, Properties: props}
}

func qosLabel(q encoding.QoS) string {
	switch q {
	case encoding.QoS1:
		return "1"
	case encoding.QoS2:
		return "2"
	default:
		return "0"
	}
}

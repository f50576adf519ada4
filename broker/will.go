package broker

import (
	"context"

	"github.com/mqttframe/broker/encoding"
	"github.com/mqttframe/broker/hook"
	"github.com/mqttframe/broker/session"
)

// PublishWill implements session.WillPublisher: the session manager calls
// this once a disconnected session's will delay has elapsed (or
// immediately, for an ungraceful disconnect with no delay), routing the
// will message through the same retained-store and fan-out path as any
// other publish. The will is not checked against the AuthProvider.
func (c *Coordinator) PublishWill(ctx context.Context, will *session.WillMessage, clientID string) error {
	qos := encoding.QoS(will.QoS)

	if will.Retain {
		c.storeRetained(ctx, will.Topic, will.Payload, qos, encoding.Properties{})
	}

	c.fanOut(ctx, clientID, will.Topic, will.Payload, qos, encoding.Properties{})

	if c.hooks != nil {
		c.hooks.OnWillSent(&hook.Client{ID: clientID}, &hook.WillMessage{
			Topic:   will.Topic,
			Payload: will.Payload,
			QoS:     will.QoS,
			Retain:  will.Retain,
		})
	}

	return nil
}

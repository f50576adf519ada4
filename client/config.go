package client

import (
	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
)

// ConnectArgs carries everything AsyncStart needs to build a CONNECT
// packet, mirroring encoding.ConnectPacket/ConnectPacket311's fields
// rather than introducing a parallel vocabulary.
type ConnectArgs struct {
	ClientID     string
	CleanStart   bool
	KeepAlive    uint16
	Username     string
	Password     []byte
	WillTopic    string
	WillPayload  []byte
	WillQoS      packet.QoS
	WillRetain   bool

	// Properties (v5 only, ignored under Version311).
	Properties     encoding.Properties
	WillProperties encoding.Properties
}

// PublishOptions configures a single AsyncPublish call. PacketID is
// assigned automatically for QoS>0 when left zero.
type PublishOptions struct {
	QoS        packet.QoS
	Retain     bool
	Dup        bool
	PacketID   uint16
	Properties encoding.Properties
}

// SubscribeEntry is one (filter, options) pair within an AsyncSubscribe
// call, mirroring encoding.Subscription/Subscription311.
type SubscribeEntry struct {
	TopicFilter            string
	QoS                    packet.QoS
	NoLocal                bool
	RetainAsPublished      bool
	RetainHandling         byte
	SubscriptionIdentifier uint32
}

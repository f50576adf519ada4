package client

import "github.com/mqttframe/broker/encoding"

// ConnectFuture resolves once CONNACK arrives (or the connect attempt
// fails outright).
type ConnectFuture struct {
	future
	SessionPresent bool
	ReasonCode     uint8
	Properties     encoding.Properties
}

// SubscribeFuture resolves once the matching SUBACK arrives. If every
// reason code is an error, Err() returns ErrAllReasonCodesError; a
// response of the wrong packet type instead surfaces ErrProtocolError.
type SubscribeFuture struct {
	future
	ReasonCodes []byte
	Properties  encoding.Properties
}

// UnsubscribeFuture resolves once the matching UNSUBACK arrives.
type UnsubscribeFuture struct {
	future
	ReasonCodes []byte
}

// PublishFuture resolves according to the negotiated QoS: immediately
// after the bytes are written for QoS0, on PUBACK for QoS1, on PUBCOMP
// (or an error-reason PUBREC short-circuit) for QoS2.
type PublishFuture struct {
	future
	QoS        uint8
	PacketID   uint16
	ReasonCode uint8
}

// RecvFuture resolves with the next application-visible inbound packet:
// PUBLISH, DISCONNECT, or AUTH.
type RecvFuture struct {
	future
	Packet encoding.Packet
}

func (f *RecvFuture) complete(pkt encoding.Packet, err error) {
	f.Packet = pkt
	f.future.complete(err)
}

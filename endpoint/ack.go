package endpoint

// AckKind classifies which outbound-QoS lifecycle event fired, for
// callers (the Client Facade) that need to resolve a PublishFuture.
// Generalizes qos.Handler's onPuback/onPubrec/onPubcomp callback set into
// a single notification, since the engine itself already drives the
// PUBREC->PUBREL->PUBCOMP state machine via the auto-response policy.
type AckKind int

const (
	// AckPuback is the terminal event for an outbound QoS1 publish.
	AckPuback AckKind = iota
	// AckPubrecError is the terminal event for an outbound QoS2 publish
	// whose PUBREC carried an error reason code; no PUBREL follows.
	AckPubrecError
	// AckPubcomp is the terminal event for an outbound QoS2 publish that
	// completed the full PUBREC/PUBREL/PUBCOMP handshake.
	AckPubcomp
	// AckGivenUp is the terminal event for an outbound QoS1/QoS2 publish
	// abandoned by the in-flight retry sweep, either because it exhausted
	// its retry budget or its message-expiry deadline passed with no ack.
	AckGivenUp
)

// AckEvent reports completion of one outbound QoS1/QoS2 publish.
type AckEvent struct {
	Kind       AckKind
	PacketID   uint16
	ReasonCode uint8
}

// OnAck registers cb to be invoked, from the driver-loop goroutine, each
// time an outbound QoS1/QoS2 publish reaches a terminal ack. Must be
// called before Start.
func (e *Engine) OnAck(cb func(AckEvent)) {
	e.ackCb = cb
}

func (e *Engine) fireAck(ev AckEvent) {
	if e.ackCb != nil {
		e.ackCb(ev)
	}
}

package client

import "errors"

var (
	// ErrAllReasonCodesError is returned by AsyncSubscribe/AsyncUnsubscribe
	// futures when every reason code in the SUBACK/UNSUBACK is >= 0x80.
	ErrAllReasonCodesError = errors.New("client: every reason code in response is an error")

	// ErrProtocolError is returned when the packet correlated to a pending
	// request is the wrong type for that request (e.g. an UNSUBACK arrives
	// for a pending SUBSCRIBE's packet id).
	ErrProtocolError = errors.New("client: unexpected response packet type")

	// ErrNotConnected names the not-yet-connected condition. Async* calls
	// do not check for a completed CONNACK and never return it.
	ErrNotConnected = errors.New("client: not connected")

	// ErrClosed names the closed-endpoint condition. Pending futures are
	// failed with the error the engine reports instead (see failAll), so
	// no Client method returns this value.
	ErrClosed = errors.New("client: endpoint closed")

	// ErrConnectRefused is the underlying error wrapped by a ConnectFuture
	// whose v5 CONNACK reason code was >= 0x80 or whose 3.1.1 CONNACK
	// return code was nonzero.
	ErrConnectRefused = errors.New("client: broker refused connect")

	// ErrPublishNacked is the underlying error wrapped by a PublishFuture
	// whose PUBACK or PUBREC carried an error reason code.
	ErrPublishNacked = errors.New("client: publish rejected by peer")
)

// isErrorReasonCode reports whether rc (as a raw byte) signals failure per
// the MQTT 5.0 convention that every reason code >= 0x80 is an error.
func isErrorReasonCode(rc byte) bool {
	return rc >= 0x80
}

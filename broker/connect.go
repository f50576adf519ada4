package broker

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/mqttframe/broker/codec/packet"
	"github.com/mqttframe/broker/encoding"
)

var errShortConnectBody = errors.New("broker: CONNECT body too short to contain a protocol version")

// connectRequest is the version-neutral view of a CONNECT packet the rest
// of the coordinator operates on, built from whichever of
// encoding.ConnectPacket/ConnectPacket311 the wire actually carried.
type connectRequest struct {
	version         packet.Version
	protocolVersion byte
	clientID        string
	cleanStart      bool
	keepAlive       uint16
	username        string
	usernameSet     bool
	password        []byte
	willTopic       string
	willPayload     []byte
	willQoS         encoding.QoS
	willRetain      bool
	willProperties  encoding.Properties
	properties      encoding.Properties // v5 only; zero value for 3.1.1
	expiryInterval  uint32
	willDelay       uint32
}

// peekProtocolVersion reads the CONNECT protocol-level byte out of an
// already-buffered variable-header body without fully parsing it, so the
// coordinator can pick ParseConnectPacket vs ParseConnectPacket311 before
// committing to either.
func peekProtocolVersion(body []byte) (byte, error) {
	if len(body) < 2 {
		return 0, errShortConnectBody
	}
	nameLen := int(binary.BigEndian.Uint16(body[:2]))
	if len(body) < 2+nameLen+1 {
		return 0, errShortConnectBody
	}
	return body[2+nameLen], nil
}

// parseConnect decodes body (the CONNECT packet's variable header and
// payload, with fh.RemainingLength bytes already read off the wire) into a
// connectRequest, dispatching on the embedded protocol-level byte.
func parseConnect(fh *encoding.FixedHeader, body []byte) (*connectRequest, error) {
	protoVersion, err := peekProtocolVersion(body)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(body)

	if protoVersion == byte(packet.ProtocolVersion50) {
		pkt, err := encoding.ParseConnectPacket(r, fh)
		if err != nil {
			return nil, err
		}
		return &connectRequest{
			version:         packet.Version5,
			protocolVersion: protoVersion,
			clientID:        pkt.ClientID,
			cleanStart:      pkt.CleanStart,
			keepAlive:       pkt.KeepAlive,
			username:        pkt.Username,
			usernameSet:     pkt.UsernameFlag,
			password:        pkt.Password,
			willTopic:       pkt.WillTopic,
			willPayload:     pkt.WillPayload,
			willQoS:         pkt.WillQoS,
			willRetain:      pkt.WillRetain,
			willProperties:  pkt.WillProperties,
			properties:      pkt.Properties,
			expiryInterval:  propUint32(pkt.Properties, encoding.PropSessionExpiryInterval),
			willDelay:       propUint32(pkt.WillProperties, encoding.PropWillDelayInterval),
		}, nil
	}

	if protoVersion == byte(packet.ProtocolVersion311) {
		pkt, err := encoding.ParseConnectPacket311(r, fh)
		if err != nil {
			return nil, err
		}
		return &connectRequest{
			version:         packet.Version311,
			protocolVersion: protoVersion,
			clientID:        pkt.ClientID,
			cleanStart:      pkt.CleanSession,
			keepAlive:       pkt.KeepAlive,
			username:        pkt.Username,
			usernameSet:     pkt.UsernameFlag,
			password:        pkt.Password,
			willTopic:       pkt.WillTopic,
			willPayload:     pkt.WillPayload,
			willQoS:         pkt.WillQoS,
			willRetain:      pkt.WillRetain,
		}, nil
	}

	return nil, encoding.ErrInvalidProtocolVersion
}

// propUint32 reads a FourByteInt property, returning 0 if absent.
func propUint32(props encoding.Properties, id encoding.PropertyID) uint32 {
	prop := props.GetProperty(id)
	if prop == nil {
		return 0
	}
	n, _ := prop.Value.(uint32)
	return n
}

// hasWill reports whether the request carries a will message.
func (r *connectRequest) hasWill() bool {
	return r.willTopic != ""
}

// buildConnack constructs the version-appropriate CONNACK for req. reason
// is an encoding.ReasonCode; for Version311 it is narrowed to the nearest
// legacy return code via to311ReturnCode.
func buildConnack(req *connectRequest, sessionPresent bool, reason encoding.ReasonCode, props encoding.Properties) encoding.Packet {
	if req.version == packet.Version311 {
		return &encoding.ConnackPacket311{
			FixedHeader:    encoding.FixedHeader{Type: encoding.CONNACK},
			SessionPresent: sessionPresent,
			ReturnCode:     to311ReturnCode(reason),
		}
	}
	return &encoding.ConnackPacket{
		FixedHeader:    encoding.FixedHeader{Type: encoding.CONNACK},
		SessionPresent: sessionPresent,
		ReasonCode:     reason,
		Properties:     props,
	}
}

// to311ReturnCode narrows a v5 reason code to the nearest 3.1.1 CONNACK
// return code; unrecognized non-success reasons fall back to the generic
// "server unavailable" code since 3.1.1 has no catch-all.
func to311ReturnCode(reason encoding.ReasonCode) byte {
	switch reason {
	case encoding.ReasonSuccess:
		return encoding.ConnectAccepted311
	case encoding.ReasonUnsupportedProtocolVersion:
		return encoding.ConnectRefusedUnacceptableProtocol311
	case encoding.ReasonClientIdentifierNotValid:
		return encoding.ConnectRefusedIdentifierRejected311
	case encoding.ReasonBadUsernameOrPassword:
		return encoding.ConnectRefusedBadUsernamePassword311
	case encoding.ReasonNotAuthorized:
		return encoding.ConnectRefusedNotAuthorized311
	default:
		return encoding.ConnectRefusedServerUnavailable311
	}
}

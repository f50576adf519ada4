package encoding

import (
	"io"

	"github.com/mqttframe/broker/codec/packet"
)

// Packet is the tagged-union boundary every control packet crosses through
// once it reaches the endpoint engine, regardless of which protocol version
// produced it. Every per-version packet struct in this package and in
// encoder_311.go already implements Encode, so they satisfy this interface
// without modification.
type Packet interface {
	Encode(w io.Writer) error
}

// Codec decodes and encodes control packets for one negotiated protocol
// version, dispatching to the per-version Parse*/Encode functions already
// defined in this package rather than duplicating their body parsing.
type Codec struct {
	Version packet.Version
}

// NewCodec returns a Codec bound to the given protocol version. Version must
// be Version311 or Version5; it is fixed for the lifetime of a connection
// once CONNECT has been exchanged, per ProtocolVersion in the data model.
func NewCodec(version packet.Version) *Codec {
	return &Codec{Version: version}
}

// DecodeAny reads the packet body following fh from r and returns the
// decoded Packet, dispatching on fh.Type and the codec's bound version.
func (c *Codec) DecodeAny(r io.Reader, fh *FixedHeader) (Packet, error) {
	if c.Version == packet.Version311 {
		return c.decode311(r, fh)
	}
	return c.decode5(r, fh)
}

func (c *Codec) decode5(r io.Reader, fh *FixedHeader) (Packet, error) {
	switch fh.Type {
	case CONNECT:
		return ParseConnectPacket(r, fh)
	case CONNACK:
		return ParseConnackPacket(r, fh)
	case PUBLISH:
		return ParsePublishPacket(r, fh)
	case PUBACK:
		return ParsePubackPacket(r, fh)
	case PUBREC:
		return ParsePubrecPacket(r, fh)
	case PUBREL:
		return ParsePubrelPacket(r, fh)
	case PUBCOMP:
		return ParsePubcompPacket(r, fh)
	case SUBSCRIBE:
		return ParseSubscribePacket(r, fh)
	case SUBACK:
		return ParseSubackPacket(r, fh)
	case UNSUBSCRIBE:
		return ParseUnsubscribePacket(r, fh)
	case UNSUBACK:
		return ParseUnsubackPacket(r, fh)
	case PINGREQ:
		return ParsePingreqPacket(fh)
	case PINGRESP:
		return ParsePingrespPacket(fh)
	case DISCONNECT:
		return ParseDisconnectPacket(r, fh)
	case AUTH:
		return ParseAuthPacket(r, fh)
	default:
		return nil, ErrInvalidType
	}
}

func (c *Codec) decode311(r io.Reader, fh *FixedHeader) (Packet, error) {
	switch fh.Type {
	case CONNECT:
		return ParseConnectPacket311(r, fh)
	case CONNACK:
		return ParseConnackPacket311(r, fh)
	case PUBLISH:
		return ParsePublishPacket311(r, fh)
	case PUBACK:
		return ParsePubackPacket311(r, fh)
	case PUBREC:
		return ParsePubrecPacket311(r, fh)
	case PUBREL:
		return ParsePubrelPacket311(r, fh)
	case PUBCOMP:
		return ParsePubcompPacket311(r, fh)
	case SUBSCRIBE:
		return ParseSubscribePacket311(r, fh)
	case SUBACK:
		return ParseSubackPacket311(r, fh)
	case UNSUBSCRIBE:
		return ParseUnsubscribePacket311(r, fh)
	case UNSUBACK:
		return ParseUnsubackPacket311(r, fh)
	case PINGREQ:
		return ParsePingreqPacket(fh)
	case PINGRESP:
		return ParsePingrespPacket(fh)
	case DISCONNECT:
		return ParseDisconnectPacket311(r, fh)
	default:
		return nil, ErrInvalidType
	}
}

// EncodeAny writes p's wire representation to w. It exists alongside Packet's
// own Encode method so callers holding only the Codec (not the concrete
// packet type) have a uniform call site in the endpoint write path.
func (c *Codec) EncodeAny(w io.Writer, p Packet) error {
	return p.Encode(w)
}

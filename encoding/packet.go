package encoding

import (
	"io"

	"github.com/mqttframe/broker/codec/packet"
)

// PacketType, QoS and FixedHeader are re-exported from codec/packet so that
// every per-version packet body defined in this package shares one
// definition of the wire vocabulary instead of redeclaring it.
type (
	PacketType      = packet.Type
	QoS             = packet.QoS
	FixedHeader     = packet.FixedHeader
	ProtocolVersion = packet.ProtocolVersion
)

const (
	Reserved    = packet.Reserved
	CONNECT     = packet.CONNECT
	CONNACK     = packet.CONNACK
	PUBLISH     = packet.PUBLISH
	PUBACK      = packet.PUBACK
	PUBREC      = packet.PUBREC
	PUBREL      = packet.PUBREL
	PUBCOMP     = packet.PUBCOMP
	SUBSCRIBE   = packet.SUBSCRIBE
	SUBACK      = packet.SUBACK
	UNSUBSCRIBE = packet.UNSUBSCRIBE
	UNSUBACK    = packet.UNSUBACK
	PINGREQ     = packet.PINGREQ
	PINGRESP    = packet.PINGRESP
	DISCONNECT  = packet.DISCONNECT
	AUTH        = packet.AUTH

	QoS0 = packet.QoS0
	QoS1 = packet.QoS1
	QoS2 = packet.QoS2

	ProtocolVersion30  = packet.ProtocolVersion30
	ProtocolVersion311 = packet.ProtocolVersion311
	ProtocolVersion50  = packet.ProtocolVersion50
)

// ParseFixedHeader parses the MQTT fixed header from a reader, translating
// codec/packet's sentinel errors into this package's error values so callers
// only need to handle one error vocabulary.
func ParseFixedHeader(r io.Reader) (*FixedHeader, error) {
	h, err := packet.ParseFixedHeader(r)
	if err != nil {
		return nil, translatePacketErr(err)
	}
	return h, nil
}

// ParseFixedHeaderFromBytes is the zero-allocation, in-memory counterpart of
// ParseFixedHeader. It returns ErrUnexpectedEOF when data does not yet hold a
// complete fixed header, which callers use as the "need more bytes" signal
// when reassembling packets from a growing buffer.
func ParseFixedHeaderFromBytes(data []byte) (*FixedHeader, int, error) {
	h, n, err := packet.ParseFixedHeaderFromBytes(data)
	if err != nil {
		return nil, 0, translatePacketErr(err)
	}
	return h, n, nil
}

// ParseFixedHeaderWithVersion parses a fixed header, additionally rejecting
// AUTH for protocol versions older than 5.0.
func ParseFixedHeaderWithVersion(r io.Reader, v ProtocolVersion) (*FixedHeader, error) {
	h, err := packet.ParseFixedHeaderWithVersion(r, v)
	if err != nil {
		return nil, translatePacketErr(err)
	}
	return h, nil
}

// ParseFixedHeaderFromBytesWithVersion is the byte-slice counterpart of
// ParseFixedHeaderWithVersion.
func ParseFixedHeaderFromBytesWithVersion(data []byte, v ProtocolVersion) (*FixedHeader, int, error) {
	h, n, err := packet.ParseFixedHeaderFromBytesWithVersion(data, v)
	if err != nil {
		return nil, 0, translatePacketErr(err)
	}
	return h, n, nil
}

// ParseFixedHeader311 parses a fixed header under MQTT 3.1.1 rules.
func ParseFixedHeader311(r io.Reader) (*FixedHeader, error) {
	return ParseFixedHeaderWithVersion(r, ProtocolVersion311)
}

// ParseFixedHeaderFromBytes311 is the byte-slice counterpart of ParseFixedHeader311.
func ParseFixedHeaderFromBytes311(data []byte) (*FixedHeader, int, error) {
	return ParseFixedHeaderFromBytesWithVersion(data, ProtocolVersion311)
}

func translatePacketErr(err error) error {
	switch err {
	case packet.ErrUnexpectedEOF:
		return ErrUnexpectedEOF
	case packet.ErrInvalidReservedType:
		return ErrInvalidReservedType
	case packet.ErrInvalidType:
		return ErrInvalidType
	case packet.ErrInvalidQoS:
		return ErrInvalidQoS
	case packet.ErrInvalidFlags:
		return ErrInvalidFlags
	case packet.ErrMalformedRemainingLen:
		return ErrMalformedVariableByteInteger
	case packet.ErrBufferTooSmall:
		return ErrBufferTooSmall
	default:
		return err
	}
}

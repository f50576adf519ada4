package packet

import "io"

// ProtocolVersion is the wire-level protocol level byte carried in CONNECT
// (distinct from Version, which tags an already-negotiated endpoint). MQTT
// 3.0 used "MQIsdp" with level 3; 3.1.1 uses "MQTT" with level 4; 5.0 uses
// "MQTT" with level 5. AUTH (packet type 15) was introduced in 5.0 and is
// rejected by the 3.0/3.1.1 parsers below.
type ProtocolVersion byte

const (
	ProtocolVersion30  ProtocolVersion = 3
	ProtocolVersion311 ProtocolVersion = 4
	ProtocolVersion50  ProtocolVersion = 5
)

// ParseFixedHeaderWithVersion parses a fixed header the same way
// ParseFixedHeader does, but additionally rejects AUTH for pre-5.0 versions.
func ParseFixedHeaderWithVersion(r io.Reader, v ProtocolVersion) (*FixedHeader, error) {
	h, err := ParseFixedHeader(r)
	if err != nil {
		return nil, err
	}
	if v != ProtocolVersion50 && h.Type == AUTH {
		return nil, ErrInvalidType
	}
	return h, nil
}

// ParseFixedHeaderFromBytesWithVersion is the zero-allocation counterpart of
// ParseFixedHeaderWithVersion.
func ParseFixedHeaderFromBytesWithVersion(data []byte, v ProtocolVersion) (*FixedHeader, int, error) {
	h, n, err := ParseFixedHeaderFromBytes(data)
	if err != nil {
		return nil, 0, err
	}
	if v != ProtocolVersion50 && h.Type == AUTH {
		return nil, 0, ErrInvalidType
	}
	return h, n, nil
}

// ParseFixedHeader311 is ParseFixedHeaderWithVersion bound to MQTT 3.1.1.
func ParseFixedHeader311(r io.Reader) (*FixedHeader, error) {
	return ParseFixedHeaderWithVersion(r, ProtocolVersion311)
}

// ParseFixedHeaderFromBytes311 is the byte-slice counterpart of ParseFixedHeader311.
func ParseFixedHeaderFromBytes311(data []byte) (*FixedHeader, int, error) {
	return ParseFixedHeaderFromBytesWithVersion(data, ProtocolVersion311)
}

// EncodeFixedHeader writes fh to w in MQTT 5.0 format, the undecorated
// counterpart of ParseFixedHeader.
func (fh *FixedHeader) EncodeFixedHeader(w io.Writer) error {
	return fh.EncodeFixedHeaderWithVersion(w, ProtocolVersion50)
}

// EncodeFixedHeaderToBytes is the zero-allocation, MQTT 5.0 counterpart of
// EncodeFixedHeader.
func (fh *FixedHeader) EncodeFixedHeaderToBytes(buf []byte) (int, error) {
	return fh.EncodeFixedHeaderToBytesWithVersion(buf, ProtocolVersion50)
}

// EncodeFixedHeaderWithVersion writes fh to w, rejecting AUTH for pre-5.0
// versions before any bytes are written.
func (fh *FixedHeader) EncodeFixedHeaderWithVersion(w io.Writer, v ProtocolVersion) error {
	if v != ProtocolVersion50 && fh.Type == AUTH {
		return ErrInvalidType
	}

	firstByte := byte(fh.Type) << 4
	if fh.Type == PUBLISH {
		if fh.DUP {
			firstByte |= 0x08
		}
		firstByte |= byte(fh.QoS) << 1
		if fh.Retain {
			firstByte |= 0x01
		}
	} else {
		firstByte |= fh.Flags
	}

	if _, err := w.Write([]byte{firstByte}); err != nil {
		return err
	}

	remLen, err := EncodeVariableByteInteger(fh.RemainingLength)
	if err != nil {
		return err
	}
	_, err = w.Write(remLen)
	return err
}

// EncodeFixedHeader311 is EncodeFixedHeaderWithVersion bound to MQTT 3.1.1.
func (fh *FixedHeader) EncodeFixedHeader311(w io.Writer) error {
	return fh.EncodeFixedHeaderWithVersion(w, ProtocolVersion311)
}

// EncodeFixedHeaderToBytesWithVersion writes fh into buf and returns the
// number of bytes used, rejecting AUTH for pre-5.0 versions.
func (fh *FixedHeader) EncodeFixedHeaderToBytesWithVersion(buf []byte, v ProtocolVersion) (int, error) {
	if v != ProtocolVersion50 && fh.Type == AUTH {
		return 0, ErrInvalidType
	}
	if len(buf) < 1 {
		return 0, ErrBufferTooSmall
	}

	firstByte := byte(fh.Type) << 4
	if fh.Type == PUBLISH {
		if fh.DUP {
			firstByte |= 0x08
		}
		firstByte |= byte(fh.QoS) << 1
		if fh.Retain {
			firstByte |= 0x01
		}
	} else {
		firstByte |= fh.Flags
	}
	buf[0] = firstByte

	remLen, err := EncodeVariableByteInteger(fh.RemainingLength)
	if err != nil {
		return 0, err
	}
	if len(buf) < 1+len(remLen) {
		return 0, ErrBufferTooSmall
	}
	copy(buf[1:], remLen)

	return 1 + len(remLen), nil
}

// EncodeFixedHeaderToBytes311 is EncodeFixedHeaderToBytesWithVersion bound to MQTT 3.1.1.
func (fh *FixedHeader) EncodeFixedHeaderToBytes311(buf []byte) (int, error) {
	return fh.EncodeFixedHeaderToBytesWithVersion(buf, ProtocolVersion311)
}

package pomelo

import (
	"github.com/pkg/errors"
)

// Package framing constants.
const (
	// HeaderLength is the size of the package header: one type byte followed
	// by a 24-bit big-endian body length.
	HeaderLength = 4
	// MaxBodyLength is the largest body a 24-bit length can describe.
	MaxBodyLength = 1<<24 - 1
)

// PackageType is the logical kind of an outer package.
type PackageType byte

const (
	PackageUnknown PackageType = iota
	PackageHandshake
	PackageHandshakeAck
	PackageHeartbeat
	PackageData
	PackageKick
)

// String returns the string representation of the package type.
func (t PackageType) String() string {
	switch t {
	case PackageHandshake:
		return "handshake"
	case PackageHandshakeAck:
		return "handshake_ack"
	case PackageHeartbeat:
		return "heartbeat"
	case PackageData:
		return "data"
	case PackageKick:
		return "kick"
	default:
		return "unknown"
	}
}

// PackageCodes maps package kinds to the type bytes agreed with the server.
type PackageCodes struct {
	Handshake    byte
	HandshakeAck byte
	Heartbeat    byte
	Data         byte
	Kick         byte
}

// DefaultPackageCodes returns the codes used by pomelo servers.
func DefaultPackageCodes() PackageCodes {
	return PackageCodes{
		Handshake:    0x01,
		HandshakeAck: 0x02,
		Heartbeat:    0x03,
		Data:         0x04,
		Kick:         0x05,
	}
}

func (c PackageCodes) all() [5]byte {
	return [5]byte{c.Handshake, c.HandshakeAck, c.Heartbeat, c.Data, c.Kick}
}

// validate checks that every code is set and no two kinds share a byte.
func (c PackageCodes) validate() error {
	var seen [256]bool
	for _, code := range c.all() {
		if code == 0 || seen[code] {
			return ErrInvalidPackageCodes
		}
		seen[code] = true
	}
	return nil
}

// Code returns the wire byte for t.
func (c PackageCodes) Code(t PackageType) byte {
	switch t {
	case PackageHandshake:
		return c.Handshake
	case PackageHandshakeAck:
		return c.HandshakeAck
	case PackageHeartbeat:
		return c.Heartbeat
	case PackageData:
		return c.Data
	case PackageKick:
		return c.Kick
	default:
		return 0
	}
}

// Type returns the kind for a wire byte, or PackageUnknown.
func (c PackageCodes) Type(code byte) PackageType {
	switch code {
	case c.Handshake:
		return PackageHandshake
	case c.HandshakeAck:
		return PackageHandshakeAck
	case c.Heartbeat:
		return PackageHeartbeat
	case c.Data:
		return PackageData
	case c.Kick:
		return PackageKick
	default:
		return PackageUnknown
	}
}

// Package is one decoded frame.
type Package struct {
	Type PackageType
	Body []byte
}

// Encode frames body under the code for t.
func (c PackageCodes) Encode(t PackageType, body []byte) ([]byte, error) {
	return EncodePackage(c.Code(t), body)
}

// Decode splits a complete frame into its kind and body.
// Unknown type bytes yield PackageUnknown without an error.
func (c PackageCodes) Decode(frame []byte) (*Package, error) {
	code, body, err := DecodePackage(frame)
	if err != nil {
		return nil, err
	}
	return &Package{Type: c.Type(code), Body: body}, nil
}

// EncodePackage returns header+body for the given type byte.
func EncodePackage(code byte, body []byte) ([]byte, error) {
	length := len(body)
	if length > MaxBodyLength {
		return nil, errors.Wrapf(ErrPackageTooLarge, "%d bytes", length)
	}

	buf := make([]byte, HeaderLength+length)
	buf[0] = code
	buf[1] = byte(length >> 16)
	buf[2] = byte(length >> 8)
	buf[3] = byte(length)
	copy(buf[HeaderLength:], body)
	return buf, nil
}

// DecodePackage validates a complete frame and returns its type byte and body.
// The body aliases frame.
func DecodePackage(frame []byte) (byte, []byte, error) {
	if len(frame) < HeaderLength {
		return 0, nil, errors.Errorf("short frame: %d bytes", len(frame))
	}

	length := bodyLength(frame)
	if len(frame) != HeaderLength+length {
		return 0, nil, errors.Errorf("frame length mismatch: header says %d, have %d", length, len(frame)-HeaderLength)
	}

	return frame[0], frame[HeaderLength:], nil
}

func bodyLength(header []byte) int {
	return int(header[1])<<16 | int(header[2])<<8 | int(header[3])
}

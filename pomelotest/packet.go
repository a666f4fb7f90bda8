package pomelotest

import (
	"io"

	"github.com/pkg/errors"

	"github.com/Zereker/pomelo"
)

// Packet is one outer package as seen by the server.
type Packet struct {
	Code byte
	Body []byte
}

// Length returns the length of the packet body.
func (p *Packet) Length() int {
	return len(p.Body)
}

// Encode frames the packet.
func (p *Packet) Encode() ([]byte, error) {
	return pomelo.EncodePackage(p.Code, p.Body)
}

// ReadPacket reads exactly one packet from r, rejecting bodies larger than
// maxLength with ErrMessageTooLarge. Reading a header first and then the
// announced number of body bytes is what makes TCP fragmentation harmless.
func ReadPacket(r io.Reader, maxLength int) (*Packet, error) {
	var header [pomelo.HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	if length > maxLength {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d bytes", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return &Packet{Code: header[0], Body: body}, nil
}

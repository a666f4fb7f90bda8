package pomelo

import (
	"github.com/pkg/errors"
)

// Reassembler recovers complete frames from an arbitrarily chunked byte stream.
// It performs no I/O; the owner feeds it chunks in arrival order.
type Reassembler struct {
	header  [HeaderLength]byte
	frame   []byte
	offset  int
	inBody  bool
	maxBody int
	onFrame func(frame []byte) error
}

// NewReassembler returns a reassembler that calls onFrame once per complete
// frame with the full header+body buffer. Bodies larger than maxBody are
// rejected with ErrMessageTooLarge.
func NewReassembler(maxBody int, onFrame func(frame []byte) error) *Reassembler {
	if maxBody <= 0 || maxBody > MaxBodyLength {
		maxBody = MaxBodyLength
	}
	return &Reassembler{maxBody: maxBody, onFrame: onFrame}
}

// ReadingBody reports whether a header has been read and the body is being collected.
func (r *Reassembler) ReadingBody() bool {
	return r.inBody
}

// Feed consumes chunk. Partial headers and bodies are kept until the next
// call. Feeding stops at the first error returned by onFrame and the rest of
// chunk is discarded.
func (r *Reassembler) Feed(chunk []byte) error {
	for len(chunk) > 0 {
		if !r.inBody {
			n := copy(r.header[r.offset:], chunk)
			r.offset += n
			chunk = chunk[n:]
			if r.offset < HeaderLength {
				return nil
			}

			length := bodyLength(r.header[:])
			if length > r.maxBody {
				r.Reset()
				return errors.Wrapf(ErrMessageTooLarge, "body of %d bytes exceeds %d", length, r.maxBody)
			}

			r.frame = make([]byte, HeaderLength+length)
			copy(r.frame, r.header[:])
			r.inBody = true
		}

		n := copy(r.frame[r.offset:], chunk)
		r.offset += n
		chunk = chunk[n:]
		if r.offset < len(r.frame) {
			return nil
		}

		// zero-length bodies complete here without consuming any bytes
		frame := r.frame
		r.Reset()
		if err := r.onFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops any partially collected frame.
func (r *Reassembler) Reset() {
	r.frame = nil
	r.offset = 0
	r.inBody = false
}

package message

import (
	"encoding/binary"
	"math"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

const (
	flagRouteCompressed = 0x01
	maxRouteLength      = math.MaxUint8
)

// StandardCodec is the default Codec. It compresses routes found in the
// handshake dictionary and encodes bodies of proto-listed routes as protobuf.
type StandardCodec struct {
	dict         map[string]uint16
	abbrs        map[uint16]string
	serverProtos map[string]bool
	clientProtos map[string]bool
}

var _ Codec = (*StandardCodec)(nil)

// NewCodec builds a codec from the handshake route dictionary and the
// server and client proto tables. All arguments may be nil.
func NewCodec(dict map[string]int, serverProtos, clientProtos map[string]any) (*StandardCodec, error) {
	c := &StandardCodec{
		dict:         make(map[string]uint16, len(dict)),
		abbrs:        make(map[uint16]string, len(dict)),
		serverProtos: make(map[string]bool, len(serverProtos)),
		clientProtos: make(map[string]bool, len(clientProtos)),
	}

	for route, code := range dict {
		if code < 0 || code > math.MaxUint16 {
			return nil, errors.Errorf("message: route code %d for %q out of range", code, route)
		}
		c.dict[route] = uint16(code)
		c.abbrs[uint16(code)] = route
	}

	for route := range serverProtos {
		c.serverProtos[route] = true
	}
	for route := range clientProtos {
		c.clientProtos[route] = true
	}

	return c, nil
}

// Encode builds a request (id > 0) or notify (id == 0) for route.
func (c *StandardCodec) Encode(route string, id uint32, payload any) ([]byte, error) {
	kind := Notify
	if id > 0 {
		kind = Request
	}

	body, err := c.encodeBody(route, c.clientProtos, payload)
	if err != nil {
		return nil, err
	}

	return c.EncodeMessage(&Message{Kind: kind, ID: id, Route: route, Body: body})
}

// EncodeReply builds a response or push; it is the server side of Encode.
func (c *StandardCodec) EncodeReply(kind Kind, route string, id uint32, payload any) ([]byte, error) {
	body, err := c.encodeBody(route, c.serverProtos, payload)
	if err != nil {
		return nil, err
	}

	return c.EncodeMessage(&Message{Kind: kind, ID: id, Route: route, Body: body})
}

// EncodeMessage lays out m, whose body is already encoded.
func (c *StandardCodec) EncodeMessage(m *Message) ([]byte, error) {
	if m.Kind > Push {
		return nil, errors.Wrapf(ErrInvalidMessage, "kind %d", m.Kind)
	}

	buf := make([]byte, 0, 1+binary.MaxVarintLen32+1+len(m.Route)+len(m.Body))

	code, compressed := c.dict[m.Route]
	flag := byte(m.Kind) << 1
	if m.Kind.hasRoute() && compressed {
		flag |= flagRouteCompressed
	}
	buf = append(buf, flag)

	if m.Kind.hasID() {
		buf = protowire.AppendVarint(buf, uint64(m.ID))
	}

	if m.Kind.hasRoute() {
		if compressed {
			buf = binary.BigEndian.AppendUint16(buf, code)
		} else {
			if len(m.Route) > maxRouteLength {
				return nil, errors.Wrapf(ErrRouteTooLong, "%q", m.Route)
			}
			buf = append(buf, byte(len(m.Route)))
			buf = append(buf, m.Route...)
		}
	}

	return append(buf, m.Body...), nil
}

// Decode parses one message. The body aliases data.
func (c *StandardCodec) Decode(data []byte) (*Message, error) {
	if len(data) < 1 {
		return nil, errors.Wrap(ErrInvalidMessage, "empty")
	}

	flag := data[0]
	offset := 1

	m := &Message{Kind: Kind(flag >> 1 & 0x07), isProto: c.isServerProto}
	if m.Kind > Push {
		return nil, errors.Wrapf(ErrInvalidMessage, "kind %d", m.Kind)
	}

	if m.Kind.hasID() {
		id, n := protowire.ConsumeVarint(data[offset:])
		if n < 0 {
			return nil, errors.Wrap(ErrInvalidMessage, protowire.ParseError(n).Error())
		}
		if id > math.MaxUint32 {
			return nil, errors.Wrapf(ErrInvalidMessage, "id %d overflows", id)
		}
		m.ID = uint32(id)
		offset += n
	}

	if m.Kind.hasRoute() {
		if flag&flagRouteCompressed != 0 {
			if len(data) < offset+2 {
				return nil, errors.Wrap(ErrInvalidMessage, "short route code")
			}
			code := binary.BigEndian.Uint16(data[offset:])
			route, ok := c.abbrs[code]
			if !ok {
				return nil, errors.Wrapf(ErrUnknownRouteCode, "%d", code)
			}
			m.Route = route
			offset += 2
		} else {
			if len(data) < offset+1 {
				return nil, errors.Wrap(ErrInvalidMessage, "missing route length")
			}
			length := int(data[offset])
			offset++
			if len(data) < offset+length {
				return nil, errors.Wrap(ErrInvalidMessage, "short route")
			}
			m.Route = string(data[offset : offset+length])
			offset += length
		}
	}

	m.Body = data[offset:]
	return m, nil
}

func (c *StandardCodec) isServerProto(route string) bool {
	return c.serverProtos[route]
}

// encodeBody marshals payload. []byte is sent as is, proto messages on
// proto-listed routes as protobuf, other proto messages as protojson, and
// anything else as JSON. A nil payload is sent as an empty object.
func (c *StandardCodec) encodeBody(route string, protos map[string]bool, payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return v, nil
	case proto.Message:
		if protos[route] {
			return proto.Marshal(v)
		}
		return protojson.Marshal(v)
	default:
		return sonic.Marshal(v)
	}
}

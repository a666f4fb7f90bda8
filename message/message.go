// Package message implements the application message layer carried inside
// data packages: a flag byte, a varint request id, a plain or dictionary
// compressed route, and a JSON or protobuf body.
//
// Layout:
//
//	flag (1 byte)      kind<<1 | route-compressed bit
//	id   (varint)      request and response only
//	route              request, notify and push only:
//	                     compressed: 2-byte big-endian dictionary code
//	                     plain:      1-byte length + bytes
//	body               remaining bytes
package message

import (
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Kind is the kind of an application message.
type Kind byte

const (
	Request Kind = iota
	Notify
	Response
	Push
)

// String returns the string representation of the message kind.
func (k Kind) String() string {
	switch k {
	case Request:
		return "request"
	case Notify:
		return "notify"
	case Response:
		return "response"
	case Push:
		return "push"
	default:
		return "unknown"
	}
}

// hasID reports whether messages of kind k carry a request id.
func (k Kind) hasID() bool {
	return k == Request || k == Response
}

// hasRoute reports whether messages of kind k carry a route.
func (k Kind) hasRoute() bool {
	return k != Response
}

// Errors returned by the codec.
var (
	ErrInvalidMessage   = errors.New("message: invalid message")
	ErrRouteTooLong     = errors.New("message: route longer than 255 bytes")
	ErrUnknownRouteCode = errors.New("message: unknown route code")
	ErrProtoRequired    = errors.New("message: body is protobuf, decode into a proto.Message")
)

// Message is one decoded application message.
type Message struct {
	Kind  Kind
	ID    uint32
	Route string
	Body  []byte

	isProto func(route string) bool
}

// Proto reports whether the body is protobuf encoded.
func (m *Message) Proto() bool {
	return m.isProto != nil && m.isProto(m.Route)
}

// Decode unmarshals the body into v. Protobuf bodies need a proto.Message;
// a proto.Message given a JSON body is filled through protojson.
func (m *Message) Decode(v any) error {
	if pm, ok := v.(proto.Message); ok {
		if m.Proto() {
			return proto.Unmarshal(m.Body, pm)
		}
		return protojson.Unmarshal(m.Body, pm)
	}

	if m.Proto() {
		return ErrProtoRequired
	}
	return sonic.Unmarshal(m.Body, v)
}

// Codec encodes outbound and decodes inbound application messages.
type Codec interface {
	// Encode builds a request (id > 0) or notify (id == 0).
	Encode(route string, id uint32, payload any) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

package pomelo

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by client operations.
var (
	// ErrNotWorking is returned when application traffic is sent before the
	// handshake completed or after the connection was closed.
	ErrNotWorking = errors.New("pomelo: connection is not working")
	// ErrAlreadyStarted is returned when Connect is called more than once.
	ErrAlreadyStarted = errors.New("pomelo: connection already started")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("pomelo: connection closed")
	// ErrKicked is reported when the server sends a kick package.
	ErrKicked = errors.New("pomelo: kicked by server")
	// ErrHeartbeatTimeout is reported when no heartbeat or data package arrived
	// within the liveness window.
	ErrHeartbeatTimeout = errors.New("pomelo: heartbeat timeout")
	// ErrPackageTooLarge is returned when a package body does not fit in 24 bits.
	ErrPackageTooLarge = errors.New("pomelo: package body too large")
	// ErrMessageTooLarge is returned when a peer announces a body larger than
	// the configured maximum.
	ErrMessageTooLarge = errors.New("pomelo: message too large")
	// ErrTooManyPending is returned when the in-flight request bound is reached.
	ErrTooManyPending = errors.New("pomelo: too many pending requests")
	// ErrWouldBlock is returned by a Socket when an operation cannot complete
	// without blocking.
	ErrWouldBlock = errors.New("pomelo: operation would block")
	// ErrConnectTimeout is reported when the socket did not become writable in time.
	ErrConnectTimeout = errors.New("pomelo: connect timeout")
	// ErrInvalidAddr is returned for an empty or unresolvable server address.
	ErrInvalidAddr = errors.New("pomelo: invalid address")
	// ErrInvalidPackageCodes is returned when package codes are zero or collide.
	ErrInvalidPackageCodes = errors.New("pomelo: invalid package codes")
)

// errStopped tells the reassembler to stop feeding bytes because the
// connection was closed from inside a frame callback.
var errStopped = errors.New("pomelo: stopped")

// HandshakeError reports a malformed or rejected handshake reply.
type HandshakeError struct {
	Code   int
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	msg := fmt.Sprintf("pomelo: handshake failed: %s", e.Reason)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// TransportError reports a socket failure other than would-block.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "pomelo: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a malformed package or inner message.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return "pomelo: decode " + e.Stage + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// disconnectReason maps a teardown error to a short label for metrics and logs.
func disconnectReason(err error) string {
	var (
		handshakeErr *HandshakeError
		transportErr *TransportError
		decodeErr    *DecodeError
	)
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, ErrKicked):
		return "kicked"
	case errors.Is(err, ErrHeartbeatTimeout):
		return "heartbeat"
	case errors.As(err, &handshakeErr):
		return "handshake"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "error"
	}
}

package pomelo

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// TransportState is the state of the byte-level connection.
type TransportState int

const (
	TransportIdle TransportState = iota
	TransportConnecting
	TransportReadingHeader
	TransportReadingBody
	TransportClosed
)

// String returns the string representation of the transport state.
func (s TransportState) String() string {
	switch s {
	case TransportIdle:
		return "idle"
	case TransportConnecting:
		return "connecting"
	case TransportReadingHeader:
		return "reading_header"
	case TransportReadingBody:
		return "reading_body"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transport owns one non-blocking socket and the reassembler fed from it.
type transport struct {
	addr   string
	opts   *options
	logger Logger

	sock        Socket
	connecting  bool
	open        bool
	closed      bool
	dialedAt    time.Time
	reassembler *Reassembler
	readBuf     []byte
	outbound    []byte
	err         error

	onConnect    func() error
	onDisconnect func()
}

func newTransport(addr string, opts *options, onFrame func([]byte) error) *transport {
	return &transport{
		addr:        addr,
		opts:        opts,
		logger:      opts.logger,
		reassembler: NewReassembler(opts.maxBodyLength, onFrame),
		readBuf:     make([]byte, opts.readBufferSize),
	}
}

// State returns the current transport state.
func (t *transport) State() TransportState {
	switch {
	case t.closed:
		return TransportClosed
	case t.connecting:
		return TransportConnecting
	case !t.open:
		return TransportIdle
	case t.reassembler.ReadingBody():
		return TransportReadingBody
	default:
		return TransportReadingHeader
	}
}

// Err returns the error that closed the transport, if any.
func (t *transport) Err() error {
	return t.err
}

// connect starts a non-blocking connection attempt.
func (t *transport) connect() error {
	if t.closed || t.connecting || t.open {
		return nil
	}

	sock, err := t.opts.dialer(t.addr)
	if err != nil {
		return t.fail("dial", err)
	}

	t.sock = sock
	t.connecting = true
	t.dialedAt = t.opts.now()
	t.logger.Debug("connecting", "addr", t.addr)
	return nil
}

// poll advances the connection: it finishes a pending connect, flushes queued
// writes and performs at most one read, feeding the reassembler.
// Errors returned by the frame callback are passed through unchanged.
func (t *transport) poll() error {
	if t.closed || (!t.connecting && !t.open) {
		return nil
	}

	if t.connecting {
		ok, err := t.sock.WaitConnected(t.opts.connectWait)
		if err != nil {
			return t.fail("connect", err)
		}
		if !ok {
			if t.opts.connectTimeout > 0 && t.opts.now().Sub(t.dialedAt) >= t.opts.connectTimeout {
				return t.fail("connect", ErrConnectTimeout)
			}
			return nil
		}

		t.connecting = false
		t.open = true
		t.logger.Info("connection established", "addr", t.addr)

		if t.onConnect != nil {
			if err = t.onConnect(); err != nil {
				return err
			}
		}
		if t.closed {
			return nil
		}
	}

	if err := t.flush(); err != nil {
		return err
	}

	n, err := t.sock.Read(t.readBuf)
	switch {
	case errors.Is(err, ErrWouldBlock):
		return nil
	case err == io.EOF || (err == nil && n == 0):
		return t.fail("read", io.EOF)
	case err != nil:
		return t.fail("read", err)
	}

	return t.reassembler.Feed(t.readBuf[:n])
}

// send queues b and writes as much as the socket accepts. Sending on a closed
// transport is a no-op.
func (t *transport) send(b []byte) error {
	if t.closed {
		return nil
	}

	t.outbound = append(t.outbound, b...)
	if !t.open {
		return nil
	}
	return t.flush()
}

func (t *transport) flush() error {
	for len(t.outbound) > 0 {
		n, err := t.sock.Write(t.outbound)
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return t.fail("write", err)
		}
		t.outbound = t.outbound[n:]
	}
	t.outbound = nil
	return nil
}

// fail records the first transport error and closes.
func (t *transport) fail(op string, err error) error {
	terr := &TransportError{Op: op, Err: err}
	if t.err == nil {
		t.err = terr
	}
	t.logger.Debug("transport error", "addr", t.addr, "op", op, "error", err)
	t.close()
	return terr
}

// close releases the socket and fires onDisconnect exactly once.
func (t *transport) close() {
	if t.closed {
		return
	}

	t.closed = true
	t.connecting = false
	t.open = false
	t.outbound = nil
	t.reassembler.Reset()

	if t.sock != nil {
		_ = t.sock.Close()
		t.sock = nil
	}

	if t.onDisconnect != nil {
		t.onDisconnect()
	}
}

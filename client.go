// Package pomelo is a client engine for the pomelo protocol: length-framed
// handshake, heartbeat, data and kick packages multiplexed over one TCP
// connection.
//
// A Client never starts goroutines. The owner calls Poll repeatedly, for
// example once per tick; every callback runs synchronously inside Poll (or
// inside the Request/Notify/Close call that triggered it) in stream order.
// A Client must not be used from more than one goroutine at a time.
package pomelo

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zereker/pomelo/message"
)

// EventDisconnect is the reserved event fired once, with a nil message, when
// the connection is torn down.
const EventDisconnect = "disconnect"

// Handler handles a response or push.
type Handler func(msg *message.Message)

type pendingRequest struct {
	route    string
	callback Handler
	span     trace.Span
}

// Client is one connection to a pomelo server.
type Client struct {
	addr     string
	opts     options
	logger   Logger
	protocol *protocol

	nextID       uint32
	pending      map[uint32]*pendingRequest
	events       map[string][]Handler
	onDisconnect []Handler
	disconnected bool
}

// NewClient returns a client for addr. Nothing is dialed until Connect.
func NewClient(addr string, opt ...Option) (*Client, error) {
	if addr == "" {
		return nil, ErrInvalidAddr
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	c := &Client{
		addr:    addr,
		opts:    opts,
		logger:  opts.logger,
		nextID:  1,
		pending: make(map[uint32]*pendingRequest),
		events:  make(map[string][]Handler),
	}
	c.protocol = newProtocol(addr, &c.opts, c.processMessage, c.disconnect)
	return c, nil
}

// Connect starts connecting and handshaking. user is sent to the server in
// the handshake; onHandshake receives the user object echoed back once the
// connection is working. Both may be nil. Connect may only be called once.
func (c *Client) Connect(user map[string]any, onHandshake func(user map[string]any)) error {
	return c.protocol.start(user, onHandshake)
}

// Request sends a request and registers cb for its response. The id is
// returned. Nothing is sent or registered unless the connection is working.
//
// A request whose response never arrives stays pending until the connection
// is closed; then it is dropped without calling cb. Use MaxPendingOption to
// bound the number of such requests.
func (c *Client) Request(route string, payload any, cb Handler) (uint32, error) {
	if c.protocol.state != StateWorking {
		return 0, ErrNotWorking
	}
	if c.opts.maxPending > 0 && len(c.pending) >= c.opts.maxPending {
		return 0, ErrTooManyPending
	}

	var id uint32
	for {
		id = c.nextID
		c.nextID++
		if c.nextID == 0 {
			c.nextID = 1
		}
		// ids still awaiting a response after a wrap are skipped
		if _, busy := c.pending[id]; !busy {
			break
		}
	}

	_, span := c.opts.tracer.Start(context.Background(), "pomelo.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("pomelo.route", route),
			attribute.Int64("pomelo.request_id", int64(id)),
		),
	)

	c.pending[id] = &pendingRequest{route: route, callback: cb, span: span}
	if err := c.protocol.send(route, id, payload); err != nil {
		delete(c.pending, id)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		span.End()
		return 0, err
	}

	c.opts.metrics.PendingRequests(len(c.pending))
	return id, nil
}

// Notify sends a message that expects no response.
func (c *Client) Notify(route string, payload any) error {
	return c.protocol.send(route, 0, payload)
}

// On registers h for pushes on event. Handlers for the same event run in
// registration order. Register EventDisconnect to learn about teardown.
func (c *Client) On(event string, h Handler) {
	if event == EventDisconnect {
		c.onDisconnect = append(c.onDisconnect, h)
		return
	}
	c.events[event] = append(c.events[event], h)
}

// Poll performs one round of I/O and timer work and runs the resulting
// callbacks. It returns the error that closed the connection during this
// call; polls before Connect or after teardown return nil.
func (c *Client) Poll() error {
	return c.protocol.poll()
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.protocol.close()
	return nil
}

// State returns the protocol state.
func (c *Client) State() ProtocolState {
	return c.protocol.state
}

// TransportState returns the state of the underlying connection.
func (c *Client) TransportState() TransportState {
	return c.protocol.transport.State()
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	return len(c.pending)
}

// Err returns the error that closed the connection, or nil if it is open or
// was closed by Close.
func (c *Client) Err() error {
	return c.protocol.err
}

// Handshake returns a copy of the negotiated handshake, or nil before it
// completed.
func (c *Client) Handshake() *HandshakeResult {
	if c.protocol.result == nil {
		return nil
	}
	return c.protocol.result.clone()
}

func (c *Client) processMessage(msg *message.Message) {
	switch msg.Kind {
	case message.Response:
		req, ok := c.pending[msg.ID]
		if !ok {
			c.logger.Debug("dropping response without pending request", "id", msg.ID)
			return
		}
		delete(c.pending, msg.ID)
		c.opts.metrics.PendingRequests(len(c.pending))

		msg.Route = req.route
		req.span.End()
		if req.callback != nil {
			req.callback(msg)
		}

	case message.Push:
		handlers := c.events[msg.Route]
		if len(handlers) == 0 {
			c.logger.Debug("no handler for push", "route", msg.Route)
			return
		}
		for _, h := range handlers {
			h(msg)
			if c.protocol.state == StateClosed {
				return
			}
		}

	default:
		c.logger.Debug("ignoring message", "kind", msg.Kind, "route", msg.Route)
	}
}

// disconnect drops pending requests and fires EventDisconnect exactly once.
func (c *Client) disconnect(err error) {
	if c.disconnected {
		return
	}
	c.disconnected = true

	for id, req := range c.pending {
		req.span.SetStatus(codes.Error, "connection closed")
		if err != nil {
			req.span.RecordError(err)
		} else {
			req.span.RecordError(ErrConnectionClosed)
		}
		req.span.End()
		delete(c.pending, id)
	}
	c.opts.metrics.PendingRequests(0)

	if err != nil && !errors.Is(err, ErrKicked) {
		c.logger.Debug("disconnected with error", "addr", c.addr, "error", err)
	}

	for _, h := range c.onDisconnect {
		h(nil)
	}
}

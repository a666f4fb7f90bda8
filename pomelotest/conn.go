// Package pomelotest provides a small pomelo server for tests and demos.
//
// It speaks the outer package protocol with a blocking reader per
// connection, which is simpler than the client's poll loop and is enough to
// exercise it over real sockets.
package pomelotest

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/pomelo"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnPacket is returned when no packet handler is provided.
	ErrInvalidOnPacket = errors.New("invalid on packet callback")
	// ErrMessageTooLarge is returned when a packet exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrBufferFull is returned when the send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
)

// Default configuration values.
const (
	defaultBufferSize    = 64
	defaultMaxReadLength = pomelo.MaxBodyLength
	defaultIdleTimeout   = 30 * time.Second
)

type outbound struct {
	data  []byte
	close bool // close the connection once data is written
}

// Conn is the server side of one client connection.
type Conn struct {
	rawConn *net.TCPConn
	reader  *bufio.Reader
	logger  pomelo.Logger

	opts options

	sendMsg chan outbound
	closed  atomic.Bool
	cancel  context.CancelFunc
}

// NewConn wraps conn. An OnPacketOption is required.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return &Conn{
		rawConn: conn,
		reader:  bufio.NewReader(conn),
		logger:  opts.logger,
		opts:    opts,
		sendMsg: make(chan outbound, opts.bufferSize),
	}, nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxReadLength
	}

	if opts.onPacket == nil {
		return ErrInvalidOnPacket
	}

	if opts.idleTimeout <= 0 {
		opts.idleTimeout = defaultIdleTimeout
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	return nil
}

// Run starts the read and write loops and blocks until one of them fails or
// ctx is canceled. The connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Debug("connection established", "addr", c.Addr())

	ctx, c.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)
	// a blocked read only returns once the socket is closed
	stop := context.AfterFunc(child, func() { _ = c.rawConn.Close() })
	defer stop()

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Debug("connection closed", "addr", c.Addr())
	}

	return err
}

// Close closes the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Write queues p without blocking. It returns ErrBufferFull when the send
// buffer is full.
func (c *Conn) Write(p *Packet) error {
	data, err := c.encode(p)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- outbound{data: data}:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues p, waiting for buffer space until ctx is done.
func (c *Conn) WriteBlocking(ctx context.Context, p *Packet) error {
	data, err := c.encode(p)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, outbound{data: data})
}

// WriteTimeout queues p, waiting at most timeout for buffer space.
func (c *Conn) WriteTimeout(p *Packet, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := c.WriteBlocking(ctx, p)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBufferFull
	}
	return err
}

// WriteRaw queues bytes as they are, for tests that fragment or corrupt the stream.
func (c *Conn) WriteRaw(ctx context.Context, b []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.enqueue(ctx, outbound{data: b})
}

// Shutdown queues p and closes the connection once it has been written.
func (c *Conn) Shutdown(ctx context.Context, p *Packet) error {
	data, err := c.encode(p)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, outbound{data: data, close: true})
}

func (c *Conn) encode(p *Packet) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return p.Encode()
}

func (c *Conn) enqueue(ctx context.Context, o outbound) error {
	select {
	case c.sendMsg <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop reads packets and hands them to the packet handler.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout * 2))

			p, err := ReadPacket(c.reader, c.opts.maxReadLength)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Debug("read error", "addr", c.Addr(), "error", err)
				if c.opts.onError(err) == Disconnect {
					return err
				}
				continue
			}

			if err = c.opts.onPacket(p); err != nil {
				return err
			}
		}
	}
}

// writeLoop sends queued data until ctx is done or a write fails.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-c.sendMsg:
			if err := c.write(o.data); err != nil {
				return err
			}
			if o.close {
				return ErrConnectionClosed
			}
		}
	}
}

// write sends data with a deadline. Errors are suppressed when onError
// returns Continue.
func (c *Conn) write(data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout * 2))

	_, err := c.rawConn.Write(data)
	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return err
		}
	}

	return nil
}

// closeConn marks the connection as closed and closes the underlying TCP connection.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	_ = c.rawConn.Close()
}

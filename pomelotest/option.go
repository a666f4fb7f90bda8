package pomelotest

import (
	"time"

	"github.com/Zereker/pomelo"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	logger pomelo.Logger

	onPacket func(p *Packet) error
	// onError is called when an error occurs.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	bufferSize    int           // size of buffered channel
	maxReadLength int           // maximum size of a single packet body
	idleTimeout   time.Duration // read/write deadlines are twice this
}

// Option is a function that configures connection options.
type Option func(*options)

// BufferSizeOption returns an Option that sets the size of the send channel buffer.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// IdleTimeoutOption returns an Option that sets the idle timeout.
// This determines the read/write deadline timeout (idle * 2).
func IdleTimeoutOption(idle time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = idle
	}
}

// MessageMaxSize returns an Option that sets the maximum packet body size.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// OnErrorOption returns an Option that sets the error callback.
// Return Disconnect to close the connection, or Continue to suppress the error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnPacketOption returns an Option that sets the packet handler callback.
// This callback is required and is invoked for each received packet.
func OnPacketOption(cb func(*Packet) error) Option {
	return func(o *options) {
		o.onPacket = cb
	}
}

// LoggerOption returns an Option that sets the logger.
func LoggerOption(logger pomelo.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

package pomelo

import (
	"github.com/pkg/errors"

	"github.com/Zereker/pomelo/message"
)

// ProtocolState is the state of the protocol state machine.
// States only move forward: Start, Handshaking, Working, Closed.
type ProtocolState int

const (
	StateStart ProtocolState = iota
	StateHandshaking
	StateWorking
	StateClosed
)

// String returns the string representation of the protocol state.
func (s ProtocolState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateHandshaking:
		return "handshaking"
	case StateWorking:
		return "working"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// protocol interprets frames according to the current state and owns the
// handshake and heartbeat lifecycles.
type protocol struct {
	opts      *options
	logger    Logger
	metrics   Metrics
	state     ProtocolState
	transport *transport
	codec     message.Codec
	heartbeat *heartbeat
	result    *HandshakeResult
	err       error

	handshakeUser     map[string]any
	handshakeCallback func(user map[string]any)

	onMessage func(msg *message.Message)
	onClose   func(err error)
}

func newProtocol(addr string, opts *options, onMessage func(*message.Message), onClose func(error)) *protocol {
	p := &protocol{
		opts:      opts,
		logger:    opts.logger,
		metrics:   opts.metrics,
		onMessage: onMessage,
		onClose:   onClose,
	}

	p.transport = newTransport(addr, opts, p.handleFrame)
	p.transport.onConnect = p.handleConnect
	p.transport.onDisconnect = p.handleDisconnect
	return p
}

// start stashes the handshake payload and callback and begins connecting.
func (p *protocol) start(user map[string]any, callback func(user map[string]any)) error {
	if p.state != StateStart {
		return ErrAlreadyStarted
	}

	p.handshakeUser = user
	p.handshakeCallback = callback
	p.state = StateHandshaking

	if err := p.transport.connect(); err != nil {
		p.shutdown(err)
		return err
	}
	return nil
}

// poll drives the transport and heartbeat once. It returns the error that
// closed the connection during this call, if any.
func (p *protocol) poll() error {
	if p.state == StateStart || p.state == StateClosed {
		return nil
	}

	err := p.transport.poll()
	if err == nil && p.state == StateWorking {
		err = p.tickHeartbeat()
	}

	if errors.Is(err, errStopped) {
		return nil
	}
	if err != nil {
		p.shutdown(err)
		return err
	}
	return nil
}

// handleConnect sends the handshake exactly once.
func (p *protocol) handleConnect() error {
	body, err := encodeHandshakeRequest(p.opts, p.handshakeUser)
	if err != nil {
		return &HandshakeError{Reason: "encode request", Err: err}
	}
	p.handshakeUser = nil

	return p.sendSystem(PackageHandshake, body)
}

// handleFrame is the reassembler callback.
func (p *protocol) handleFrame(frame []byte) error {
	pkg, err := p.opts.packageCodes.Decode(frame)
	if err != nil {
		return &DecodeError{Stage: "package", Err: err}
	}
	p.metrics.FrameReceived(pkg.Type.String(), len(frame))

	switch {
	case pkg.Type == PackageKick:
		p.logger.Info("kicked by server", "state", p.state)
		return ErrKicked

	case (pkg.Type == PackageHandshake || pkg.Type == PackageHandshakeAck) && p.state == StateHandshaking:
		if err = p.processHandshake(pkg.Body); err != nil {
			return err
		}

	case pkg.Type == PackageHeartbeat && p.state == StateWorking:
		p.heartbeat.received(p.opts.now())

	case pkg.Type == PackageData && p.state == StateWorking:
		p.heartbeat.received(p.opts.now())

		msg, err := p.codec.Decode(pkg.Body)
		if err != nil {
			return &DecodeError{Stage: "message", Err: err}
		}
		p.onMessage(msg)

	default:
		p.logger.Debug("ignoring package", "type", pkg.Type, "state", p.state)
	}

	if p.state == StateClosed {
		return errStopped
	}
	return nil
}

func (p *protocol) processHandshake(body []byte) error {
	result, err := parseHandshakeReply(body, p.opts.heartbeatUnit)
	if err == nil {
		p.codec, err = p.opts.codecs(*result)
		if err != nil {
			err = &HandshakeError{Code: result.Code, Reason: "build message codec", Err: err}
		}
	}
	if err != nil {
		p.metrics.HandshakeDone(false)
		p.logger.Error("handshake failed", "error", err)
		return err
	}

	// the server must see the ack before anything the callback sends
	if err = p.sendSystem(PackageHandshakeAck, nil); err != nil {
		return err
	}

	p.result = result
	p.heartbeat = newHeartbeat(result.Heartbeat, p.opts.heartbeatTimeoutFactor)
	p.heartbeat.start(p.opts.now())
	p.state = StateWorking
	p.metrics.HandshakeDone(true)
	p.logger.Info("handshake complete", "heartbeat", result.Heartbeat)

	callback := p.handshakeCallback
	p.handshakeCallback = nil
	if callback != nil {
		callback(result.User)
	}
	return nil
}

func (p *protocol) tickHeartbeat() error {
	now := p.opts.now()
	if p.heartbeat.expired(now) {
		p.metrics.HeartbeatTimeout()
		p.logger.Warn("heartbeat timeout", "timeout", p.heartbeat.timeout)
		return ErrHeartbeatTimeout
	}
	if p.heartbeat.due(now) {
		return p.sendSystem(PackageHeartbeat, nil)
	}
	return nil
}

// send encodes an application message and sends it as a data package.
// id 0 marks a notify.
func (p *protocol) send(route string, id uint32, payload any) error {
	if p.state != StateWorking {
		return ErrNotWorking
	}

	body, err := p.codec.Encode(route, id, payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", route)
	}
	return p.sendPackage(PackageData, body)
}

// sendSystem sends handshake, handshake ack and heartbeat packages, which
// bypass the message codec.
func (p *protocol) sendSystem(t PackageType, body []byte) error {
	if t == PackageData {
		return errors.Errorf("pomelo: %s is not a system package", t)
	}
	return p.sendPackage(t, body)
}

func (p *protocol) sendPackage(t PackageType, body []byte) error {
	if p.state == StateClosed {
		return nil
	}

	buf, err := p.opts.packageCodes.Encode(t, body)
	if err != nil {
		return err
	}
	p.metrics.FrameSent(t.String(), len(buf))
	return p.transport.send(buf)
}

// close is idempotent; it stops the heartbeat and closes the transport.
func (p *protocol) close() {
	p.shutdown(nil)
}

func (p *protocol) shutdown(err error) {
	if p.state == StateClosed {
		return
	}
	if p.err == nil {
		p.err = err
	}
	p.state = StateClosed
	if p.heartbeat != nil {
		p.heartbeat.stop()
	}
	p.transport.close()
}

// handleDisconnect runs once when the transport closes, whoever closed it.
func (p *protocol) handleDisconnect() {
	if p.err == nil {
		p.err = p.transport.Err()
	}
	p.state = StateClosed
	if p.heartbeat != nil {
		p.heartbeat.stop()
	}

	p.metrics.Disconnected(disconnectReason(p.err))
	p.logger.Info("connection closed", "addr", p.transport.addr, "reason", disconnectReason(p.err))

	if p.onClose != nil {
		p.onClose(p.err)
	}
}

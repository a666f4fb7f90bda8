package pomelo

import (
	"time"

	"github.com/Zereker/pomelo/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	// defaultReadBufferSize bounds a single read per poll.
	defaultReadBufferSize = 4096
	// defaultConnectWait bounds the writability check made by one poll while connecting.
	defaultConnectWait = 10 * time.Millisecond
	// defaultConnectTimeout gives up on a connect that never completes.
	defaultConnectTimeout = 10 * time.Second
	// defaultHeartbeatUnit is the unit of the handshake heartbeat value.
	defaultHeartbeatUnit = time.Millisecond
	// defaultHeartbeatTimeoutFactor multiplies the interval into the liveness window.
	defaultHeartbeatTimeoutFactor = 2
	// defaultClientType and defaultClientVersion describe this client in the handshake.
	defaultClientType    = "go-tcp"
	defaultClientVersion = "0.3.0"

	tracerName = "github.com/Zereker/pomelo"
)

// CodecFactory builds the inner message codec from a successful handshake.
type CodecFactory func(result HandshakeResult) (message.Codec, error)

// options holds the configuration for a client.
type options struct {
	logger  Logger
	metrics Metrics
	tracer  trace.Tracer
	dialer  Dialer
	codecs  CodecFactory
	now     func() time.Time

	packageCodes PackageCodes

	readBufferSize         int           // bytes read per poll
	maxBodyLength          int           // largest accepted package body
	connectWait            time.Duration // bounded writability wait per poll
	connectTimeout         time.Duration // 0 disables
	heartbeatUnit          time.Duration // unit of sys.heartbeat
	heartbeatTimeoutFactor int
	maxPending             int // 0 = unbounded

	clientType    string
	clientVersion string
}

// Option is a function that configures client options.
type Option func(*options)

// checkOptions validates and sets default values for client options.
func checkOptions(opts *options) error {
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.metrics == nil {
		opts.metrics = nopMetrics{}
	}

	if opts.tracer == nil {
		opts.tracer = otel.Tracer(tracerName)
	}

	if opts.dialer == nil {
		opts.dialer = DialSocket
	}

	if opts.codecs == nil {
		opts.codecs = defaultCodecFactory
	}

	if opts.now == nil {
		opts.now = time.Now
	}

	if opts.packageCodes == (PackageCodes{}) {
		opts.packageCodes = DefaultPackageCodes()
	}
	if err := opts.packageCodes.validate(); err != nil {
		return err
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.maxBodyLength <= 0 || opts.maxBodyLength > MaxBodyLength {
		opts.maxBodyLength = MaxBodyLength
	}

	if opts.connectWait < 0 {
		opts.connectWait = 0
	} else if opts.connectWait == 0 {
		opts.connectWait = defaultConnectWait
	}

	if opts.connectTimeout == 0 {
		opts.connectTimeout = defaultConnectTimeout
	}

	if opts.heartbeatUnit <= 0 {
		opts.heartbeatUnit = defaultHeartbeatUnit
	}

	if opts.heartbeatTimeoutFactor <= 0 {
		opts.heartbeatTimeoutFactor = defaultHeartbeatTimeoutFactor
	}

	if opts.clientType == "" {
		opts.clientType = defaultClientType
	}

	if opts.clientVersion == "" {
		opts.clientVersion = defaultClientVersion
	}

	return nil
}

func defaultCodecFactory(result HandshakeResult) (message.Codec, error) {
	return message.NewCodec(result.Dict, result.ServerProtos, result.ClientProtos)
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that sets the metrics hook.
func MetricsOption(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// TracerOption returns an Option that sets the tracer used for request spans.
// If not set, the tracer of the global OpenTelemetry provider is used.
func TracerOption(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// DialerOption returns an Option that replaces the socket dialer.
func DialerOption(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// CodecFactoryOption returns an Option that replaces the inner message codec.
func CodecFactoryOption(f CodecFactory) Option {
	return func(o *options) {
		o.codecs = f
	}
}

// ClockOption returns an Option that sets the clock used for heartbeat and
// connect deadlines.
func ClockOption(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// PackageCodesOption returns an Option that sets the package type bytes.
// They must match the server.
func PackageCodesOption(codes PackageCodes) Option {
	return func(o *options) {
		o.packageCodes = codes
	}
}

// ReadBufferSizeOption returns an Option that bounds the bytes read by one poll.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// MessageMaxSize returns an Option that sets the largest accepted package body.
// Larger packages close the connection.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxBodyLength = size
	}
}

// ConnectWaitOption returns an Option that bounds how long one poll waits for
// the socket to become writable while connecting. A negative value makes the
// check non-blocking.
func ConnectWaitOption(d time.Duration) Option {
	return func(o *options) {
		o.connectWait = d
	}
}

// ConnectTimeoutOption returns an Option that fails the connection when it is
// still connecting after d. A negative value disables the timeout.
func ConnectTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// HeartbeatUnitOption returns an Option that sets the unit of the heartbeat
// interval announced by the server. Stock pomelo servers announce seconds.
func HeartbeatUnitOption(unit time.Duration) Option {
	return func(o *options) {
		o.heartbeatUnit = unit
	}
}

// HeartbeatTimeoutFactorOption returns an Option that sets how many heartbeat
// intervals may pass without inbound traffic before the connection is closed.
func HeartbeatTimeoutFactorOption(factor int) Option {
	return func(o *options) {
		o.heartbeatTimeoutFactor = factor
	}
}

// MaxPendingOption returns an Option that bounds the number of requests
// awaiting a response. Zero means unbounded.
func MaxPendingOption(n int) Option {
	return func(o *options) {
		o.maxPending = n
	}
}

// ClientInfoOption returns an Option that sets the client type and version
// sent in the handshake.
func ClientInfoOption(clientType, version string) Option {
	return func(o *options) {
		o.clientType = clientType
		o.clientVersion = version
	}
}

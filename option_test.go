package pomelo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestCheckOptions_Defaults(t *testing.T) {
	opts := &options{}
	require.NoError(t, checkOptions(opts))

	assert.NotNil(t, opts.logger)
	assert.Equal(t, nopMetrics{}, opts.metrics)
	assert.NotNil(t, opts.tracer)
	assert.NotNil(t, opts.dialer)
	assert.NotNil(t, opts.codecs)
	assert.NotNil(t, opts.now)
	assert.Equal(t, DefaultPackageCodes(), opts.packageCodes)
	assert.Equal(t, defaultReadBufferSize, opts.readBufferSize)
	assert.Equal(t, MaxBodyLength, opts.maxBodyLength)
	assert.Equal(t, defaultConnectWait, opts.connectWait)
	assert.Equal(t, defaultConnectTimeout, opts.connectTimeout)
	assert.Equal(t, time.Millisecond, opts.heartbeatUnit)
	assert.Equal(t, 2, opts.heartbeatTimeoutFactor)
	assert.Zero(t, opts.maxPending)
	assert.Equal(t, "go-tcp", opts.clientType)
	assert.Equal(t, "0.3.0", opts.clientVersion)
}

func TestCheckOptions_Custom(t *testing.T) {
	var opts options
	for _, o := range []Option{
		TracerOption(noop.NewTracerProvider().Tracer("test")),
		ReadBufferSizeOption(128),
		MessageMaxSize(1024),
		ConnectWaitOption(-1),
		ConnectTimeoutOption(-1),
		HeartbeatUnitOption(time.Second),
		HeartbeatTimeoutFactorOption(3),
		MaxPendingOption(16),
		ClientInfoOption("robot", "1.2.3"),
	} {
		o(&opts)
	}
	require.NoError(t, checkOptions(&opts))

	assert.Equal(t, 128, opts.readBufferSize)
	assert.Equal(t, 1024, opts.maxBodyLength)
	assert.Zero(t, opts.connectWait)
	assert.Equal(t, time.Duration(-1), opts.connectTimeout)
	assert.Equal(t, time.Second, opts.heartbeatUnit)
	assert.Equal(t, 3, opts.heartbeatTimeoutFactor)
	assert.Equal(t, 16, opts.maxPending)
	assert.Equal(t, "robot", opts.clientType)
	assert.Equal(t, "1.2.3", opts.clientVersion)
}

func TestCheckOptions_MaxBodyLengthCapped(t *testing.T) {
	opts := &options{maxBodyLength: MaxBodyLength + 1}
	require.NoError(t, checkOptions(opts))
	assert.Equal(t, MaxBodyLength, opts.maxBodyLength)
}

func TestCheckOptions_InvalidPackageCodes(t *testing.T) {
	opts := &options{packageCodes: PackageCodes{Handshake: 1}}
	assert.Equal(t, ErrInvalidPackageCodes, checkOptions(opts))
}

func TestDefaultCodecFactory(t *testing.T) {
	codec, err := defaultCodecFactory(HandshakeResult{Dict: map[string]int{"a": 1}})
	require.NoError(t, err)

	b, err := codec.Encode("a", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0x01, '{', '}'}, b)
}

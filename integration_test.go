//go:build unix

package pomelo_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/pomelo"
	"github.com/Zereker/pomelo/message"
	"github.com/Zereker/pomelo/metrics"
	"github.com/Zereker/pomelo/pomelotest"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func startServer(t *testing.T, cfg pomelotest.Config) (string, *pomelotest.App) {
	t.Helper()

	cfg.Logger = quiet
	app, err := pomelotest.NewApp(cfg)
	require.NoError(t, err)

	server, err := pomelotest.New(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0},
		pomelotest.ServerLoggerOption(quiet))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx, app)

	t.Cleanup(func() {
		cancel()
		server.Close()
		app.Close()
	})

	return server.Addr().String(), app
}

func newClient(t *testing.T, addr string, opts ...pomelo.Option) *pomelo.Client {
	t.Helper()

	c, err := pomelo.NewClient(addr, append([]pomelo.Option{pomelo.LoggerOption(quiet)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// pollUntil polls c until cond holds, failing after a few seconds.
func pollUntil(t *testing.T, c *pomelo.Client, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.NoError(t, c.Poll())
		require.True(t, time.Now().Before(deadline), "condition not met in time")
		time.Sleep(time.Millisecond)
	}
}

func TestIntegration_RequestNotifyPush(t *testing.T) {
	addr, _ := startServer(t, pomelotest.Config{
		Heartbeat: 1,
		Dict:      map[string]int{"chat.send": 1, "onChat": 2},
		OnNotify: func(s *pomelotest.Session, msg *message.Message) {
			_ = s.Push("onChat", msg.Body)
		},
	})

	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(metrics.WithRegistry(reg))
	c := newClient(t, addr, pomelo.HeartbeatUnitOption(time.Second), pomelo.MetricsOption(m))

	var user map[string]any
	require.NoError(t, c.Connect(map[string]any{"name": "gopher"}, func(u map[string]any) {
		user = u
	}))
	pollUntil(t, c, func() bool { return c.State() == pomelo.StateWorking })

	assert.Equal(t, map[string]any{"name": "gopher"}, user)
	assert.Equal(t, time.Second, c.Handshake().Heartbeat)

	var response *message.Message
	_, err := c.Request("echo.say", map[string]string{"text": "hello"}, func(msg *message.Message) {
		response = msg
	})
	require.NoError(t, err)
	pollUntil(t, c, func() bool { return response != nil })

	assert.Equal(t, "echo.say", response.Route)
	assert.Equal(t, `{"text":"hello"}`, string(response.Body))
	assert.Zero(t, c.Pending())

	var pushed []string
	c.On("onChat", func(msg *message.Message) {
		var v map[string]string
		require.NoError(t, msg.Decode(&v))
		pushed = append(pushed, v["msg"])
	})

	require.NoError(t, c.Notify("chat.send", map[string]string{"msg": "hi"}))
	pollUntil(t, c, func() bool { return len(pushed) > 0 })
	assert.Equal(t, []string{"hi"}, pushed)

	expected := `
# HELP pomelo_client_handshakes_total Completed handshakes, by result
# TYPE pomelo_client_handshakes_total counter
pomelo_client_handshakes_total{result="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pomelo_client_handshakes_total"))
}

func TestIntegration_Kick(t *testing.T) {
	addr, _ := startServer(t, pomelotest.Config{
		OnHandshake: func(s *pomelotest.Session) {
			_ = s.Kick()
		},
	})

	c := newClient(t, addr)

	disconnects := 0
	c.On(pomelo.EventDisconnect, func(*message.Message) { disconnects++ })

	require.NoError(t, c.Connect(nil, nil))

	var err error
	deadline := time.Now().Add(5 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = c.Poll()
		time.Sleep(time.Millisecond)
	}

	assert.True(t, errors.Is(err, pomelo.ErrKicked), "got %v", err)
	assert.Equal(t, pomelo.StateClosed, c.State())
	assert.Equal(t, 1, disconnects)
}

func TestIntegration_RejectedHandshake(t *testing.T) {
	addr, _ := startServer(t, pomelotest.Config{Code: 500})

	c := newClient(t, addr)
	require.NoError(t, c.Connect(nil, nil))

	var err error
	deadline := time.Now().Add(5 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = c.Poll()
		time.Sleep(time.Millisecond)
	}

	var handshakeErr *pomelo.HandshakeError
	require.True(t, errors.As(err, &handshakeErr), "got %v", err)
	assert.Equal(t, 500, handshakeErr.Code)
	assert.NotEqual(t, pomelo.StateWorking, c.State())
}

func TestIntegration_FragmentedStream(t *testing.T) {
	var handshaken atomic.Pointer[pomelotest.Session]
	addr, _ := startServer(t, pomelotest.Config{
		OnHandshake: func(s *pomelotest.Session) { handshaken.Store(s) },
	})

	c := newClient(t, addr)
	require.NoError(t, c.Connect(nil, nil))
	pollUntil(t, c, func() bool { return c.State() == pomelo.StateWorking })

	got := 0
	c.On("onTick", func(*message.Message) { got++ })

	require.Eventually(t, func() bool { return handshaken.Load() != nil }, 5*time.Second, time.Millisecond)
	session := handshaken.Load()

	codec, err := message.NewCodec(nil, nil, nil)
	require.NoError(t, err)
	body, err := codec.EncodeReply(message.Push, "onTick", 0, nil)
	require.NoError(t, err)
	frame, err := pomelo.EncodePackage(0x04, body)
	require.NoError(t, err)

	stream := append(append([]byte{}, frame...), frame...)
	for _, b := range stream {
		require.NoError(t, session.SendRaw([]byte{b}))
	}

	pollUntil(t, c, func() bool { return got == 2 })
}

func TestIntegration_ConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	c := newClient(t, addr)

	// the refusal shows up either at dial time or on a later poll
	err = c.Connect(nil, nil)
	deadline := time.Now().Add(5 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = c.Poll()
	}

	var transportErr *pomelo.TransportError
	require.True(t, errors.As(err, &transportErr), "got %v", err)
	assert.Contains(t, []string{"dial", "connect"}, transportErr.Op)
	assert.Equal(t, pomelo.StateClosed, c.State())
}

func TestIntegration_InvalidAddr(t *testing.T) {
	c := newClient(t, "not an address")

	err := c.Connect(nil, nil)
	assert.True(t, errors.Is(err, pomelo.ErrInvalidAddr), "got %v", err)
}

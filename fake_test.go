package pomelo

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zereker/pomelo/message"
)

// fakeSocket is a scripted Socket. Reads pop queued chunks and report
// ErrWouldBlock once the queue is empty.
type fakeSocket struct {
	connected  bool
	connectErr error

	chunks  [][]byte
	eof     bool
	readErr error

	written    []byte
	writeLimit int // bytes accepted per Write, 0 = unlimited
	writeBlock bool
	writeErr   error

	closes int
}

func (s *fakeSocket) WaitConnected(time.Duration) (bool, error) {
	return s.connected, s.connectErr
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		switch {
		case s.readErr != nil:
			return 0, s.readErr
		case s.eof:
			return 0, io.EOF
		default:
			return 0, ErrWouldBlock
		}
	}

	n := copy(p, s.chunks[0])
	if n < len(s.chunks[0]) {
		s.chunks[0] = s.chunks[0][n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.writeBlock {
		return 0, ErrWouldBlock
	}

	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	s.written = append(s.written, p[:n]...)
	return n, nil
}

func (s *fakeSocket) Close() error {
	s.closes++
	return nil
}

// push queues chunks for the next reads.
func (s *fakeSocket) push(chunks ...[]byte) {
	s.chunks = append(s.chunks, chunks...)
}

// take returns the packages written so far and forgets them.
func (s *fakeSocket) take(t *testing.T) []*Package {
	t.Helper()

	var packages []*Package
	r := NewReassembler(0, func(frame []byte) error {
		pkg, err := DefaultPackageCodes().Decode(frame)
		require.NoError(t, err)
		packages = append(packages, pkg)
		return nil
	})
	require.NoError(t, r.Feed(s.written))
	require.False(t, r.ReadingBody(), "partial package written")

	s.written = nil
	return packages
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// recordingMetrics keeps every event it receives.
type recordingMetrics struct {
	received     map[string]int
	sent         map[string]int
	handshakes   []bool
	timeouts     int
	pending      []int
	disconnected []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{received: map[string]int{}, sent: map[string]int{}}
}

func (m *recordingMetrics) FrameReceived(kind string, _ int) { m.received[kind]++ }
func (m *recordingMetrics) FrameSent(kind string, _ int)     { m.sent[kind]++ }
func (m *recordingMetrics) HandshakeDone(ok bool)            { m.handshakes = append(m.handshakes, ok) }
func (m *recordingMetrics) HeartbeatTimeout()                { m.timeouts++ }
func (m *recordingMetrics) PendingRequests(n int)            { m.pending = append(m.pending, n) }
func (m *recordingMetrics) Disconnected(reason string) {
	m.disconnected = append(m.disconnected, reason)
}

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient returns a client whose dialer hands out sock.
func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeSocket, *fakeClock) {
	t.Helper()

	sock := &fakeSocket{connected: true}
	clock := newFakeClock()

	base := []Option{
		DialerOption(func(string) (Socket, error) { return sock, nil }),
		ClockOption(clock.Now),
		LoggerOption(discardLogger()),
	}

	c, err := NewClient("127.0.0.1:3010", append(base, opts...)...)
	require.NoError(t, err)
	return c, sock, clock
}

func frame(t *testing.T, typ PackageType, body []byte) []byte {
	t.Helper()

	b, err := DefaultPackageCodes().Encode(typ, body)
	require.NoError(t, err)
	return b
}

// serverCodec encodes what a server would send.
func serverCodec(t *testing.T) *message.StandardCodec {
	t.Helper()

	codec, err := message.NewCodec(nil, nil, nil)
	require.NoError(t, err)
	return codec
}

func dataFrame(t *testing.T, kind message.Kind, route string, id uint32, payload any) []byte {
	t.Helper()

	body, err := serverCodec(t).EncodeReply(kind, route, id, payload)
	require.NoError(t, err)
	return frame(t, PackageData, body)
}

// connectWorking connects c and completes the handshake with reply.
func connectWorking(t *testing.T, c *Client, sock *fakeSocket, reply string) {
	t.Helper()

	require.NoError(t, c.Connect(nil, nil))
	require.NoError(t, c.Poll())

	sent := sock.take(t)
	require.Len(t, sent, 1)
	require.Equal(t, PackageHandshake, sent[0].Type)

	sock.push(frame(t, PackageHandshake, []byte(reply)))
	require.NoError(t, c.Poll())
	require.Equal(t, StateWorking, c.State())

	sent = sock.take(t)
	require.Len(t, sent, 1)
	require.Equal(t, PackageHandshakeAck, sent[0].Type)
	require.Empty(t, sent[0].Body)
}

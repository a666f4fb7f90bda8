package pomelo

// Metrics receives connection events. Implementations must be cheap; they are
// called from Poll.
type Metrics interface {
	FrameReceived(kind string, size int)
	FrameSent(kind string, size int)
	HandshakeDone(ok bool)
	HeartbeatTimeout()
	PendingRequests(n int)
	Disconnected(reason string)
}

type nopMetrics struct{}

func (nopMetrics) FrameReceived(string, int) {}
func (nopMetrics) FrameSent(string, int)     {}
func (nopMetrics) HandshakeDone(bool)        {}
func (nopMetrics) HeartbeatTimeout()         {}
func (nopMetrics) PendingRequests(int)       {}
func (nopMetrics) Disconnected(string)       {}

package pomelo

import "time"

// Socket is a non-blocking stream socket.
//
// Read and Write return ErrWouldBlock instead of blocking. Read returns
// io.EOF once the peer closed the stream.
type Socket interface {
	// WaitConnected waits at most timeout for a pending connect to finish.
	// It reports false with a nil error while the attempt is still in progress.
	WaitConnected(timeout time.Duration) (bool, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Dialer starts a non-blocking connection attempt to addr.
type Dialer func(addr string) (Socket, error)

package pomelo

import "time"

// heartbeat tracks the two heartbeat deadlines. It is driven from Poll, so
// it needs no timers or goroutines.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	nextSend time.Time
	deadline time.Time
	running  bool
}

func newHeartbeat(interval time.Duration, factor int) *heartbeat {
	return &heartbeat{
		interval: interval,
		timeout:  interval * time.Duration(factor),
	}
}

// start arms both deadlines. A zero interval leaves heartbeats disabled.
func (h *heartbeat) start(now time.Time) {
	if h.interval <= 0 {
		return
	}
	h.running = true
	h.nextSend = now.Add(h.interval)
	h.deadline = now.Add(h.timeout)
}

// received pushes the liveness deadline forward.
func (h *heartbeat) received(now time.Time) {
	if h.running {
		h.deadline = now.Add(h.timeout)
	}
}

func (h *heartbeat) stop() {
	h.running = false
}

// expired reports whether the liveness window elapsed without inbound traffic.
func (h *heartbeat) expired(now time.Time) bool {
	return h.running && !now.Before(h.deadline)
}

// due reports whether an outbound heartbeat should be sent, and if so
// schedules the next one.
func (h *heartbeat) due(now time.Time) bool {
	if !h.running || now.Before(h.nextSend) {
		return false
	}
	h.nextSend = now.Add(h.interval)
	return true
}

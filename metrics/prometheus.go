// Package metrics exports pomelo client metrics to Prometheus.
//
//	m := metrics.NewPrometheus(metrics.WithNamespace("game"))
//	client, err := pomelo.NewClient(addr, pomelo.MetricsOption(m))
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the Prometheus metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "pomelo").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the Prometheus metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "pomelo",
		Subsystem: "client",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Prometheus records client events as Prometheus metrics.
type Prometheus struct {
	framesReceived    *prometheus.CounterVec
	bytesReceived     *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	bytesSent         *prometheus.CounterVec
	handshakes        *prometheus.CounterVec
	heartbeatTimeouts prometheus.Counter
	pendingRequests   prometheus.Gauge
	disconnects       *prometheus.CounterVec
}

// NewPrometheus registers the client metrics and returns the recorder.
// Registering twice on the same registry panics.
func NewPrometheus(opts ...Option) *Prometheus {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Prometheus{
		framesReceived: counterVec("frames_received_total", "Packages received, by type", "type"),
		bytesReceived:  counterVec("bytes_received_total", "Package bytes received, by type", "type"),
		framesSent:     counterVec("frames_sent_total", "Packages sent, by type", "type"),
		bytesSent:      counterVec("bytes_sent_total", "Package bytes sent, by type", "type"),
		handshakes:     counterVec("handshakes_total", "Completed handshakes, by result", "result"),
		disconnects:    counterVec("disconnects_total", "Connection teardowns, by reason", "reason"),

		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "heartbeat_timeouts_total",
			Help:        "Connections closed because the server went silent",
			ConstLabels: config.ConstLabels,
		}),

		pendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_requests",
			Help:        "Requests awaiting a response",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (p *Prometheus) FrameReceived(kind string, size int) {
	p.framesReceived.WithLabelValues(kind).Inc()
	p.bytesReceived.WithLabelValues(kind).Add(float64(size))
}

func (p *Prometheus) FrameSent(kind string, size int) {
	p.framesSent.WithLabelValues(kind).Inc()
	p.bytesSent.WithLabelValues(kind).Add(float64(size))
}

func (p *Prometheus) HandshakeDone(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	p.handshakes.WithLabelValues(result).Inc()
}

func (p *Prometheus) HeartbeatTimeout() {
	p.heartbeatTimeouts.Inc()
}

func (p *Prometheus) PendingRequests(n int) {
	p.pendingRequests.Set(float64(n))
}

func (p *Prometheus) Disconnected(reason string) {
	p.disconnects.WithLabelValues(reason).Inc()
}

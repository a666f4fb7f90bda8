package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/pomelo"
	"github.com/Zereker/pomelo/metrics"
)

// clientFlags are shared by every command that connects to a server.
type clientFlags struct {
	addr          string
	user          string
	heartbeatUnit time.Duration
	pollInterval  time.Duration
	timeout       time.Duration
	metricsAddr   string
}

func (f *clientFlags) register(cmd *cobra.Command, timeout time.Duration) {
	cmd.Flags().StringVarP(&f.addr, "addr", "a", "127.0.0.1:3010", "Server address")
	cmd.Flags().StringVar(&f.user, "user", "", "User object sent in the handshake, as JSON")
	cmd.Flags().DurationVar(&f.heartbeatUnit, "heartbeat-unit", time.Second, "Unit of the heartbeat announced by the server")
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", 10*time.Millisecond, "Interval between polls")
	cmd.Flags().DurationVar(&f.timeout, "timeout", timeout, "Give up after this long (0 waits forever)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// session is one client run: a poll loop plus an optional metrics endpoint.
type session struct {
	flags    *clientFlags
	client   *pomelo.Client
	registry *prometheus.Registry
	done     bool
}

func newSession(flags *clientFlags) (*session, error) {
	s := &session{flags: flags, registry: prometheus.NewRegistry()}

	client, err := pomelo.NewClient(flags.addr,
		pomelo.LoggerOption(slog.Default()),
		pomelo.HeartbeatUnitOption(flags.heartbeatUnit),
		pomelo.MetricsOption(metrics.NewPrometheus(metrics.WithRegistry(s.registry))),
	)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

// finish ends the run after the current poll.
func (s *session) finish() {
	s.done = true
}

// run connects and polls until the session is finished, closed or interrupted.
// onWorking runs inside a poll once the handshake completed.
func (s *session) run(onWorking func(user map[string]any)) error {
	var user map[string]any
	if s.flags.user != "" {
		if err := sonic.UnmarshalString(s.flags.user, &user); err != nil {
			return errors.Wrap(err, "parse --user")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.flags.timeout)
		defer cancel()
	}

	if err := s.client.Connect(user, onWorking); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	loopCtx, loopDone := context.WithCancel(ctx)

	group.Go(func() error {
		defer loopDone()
		return s.poll(loopCtx)
	})

	if s.flags.metricsAddr != "" {
		group.Go(func() error {
			return s.serveMetrics(loopCtx)
		})
	}

	return group.Wait()
}

func (s *session) poll(ctx context.Context) error {
	interval := s.flags.pollInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.client.Poll(); err != nil {
			return err
		}
		if s.done || s.client.State() == pomelo.StateClosed {
			_ = s.client.Close()
			return s.client.Err()
		}

		select {
		case <-ctx.Done():
			_ = s.client.Close()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Errorf("timed out after %s", s.flags.timeout)
			}
			return nil
		case <-ticker.C:
		}
	}
}

func (s *session) serveMetrics(ctx context.Context) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: s.flags.metricsAddr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", "addr", s.flags.metricsAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// payload returns the raw JSON given on the command line, or nil.
func payload(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if !sonic.Valid([]byte(raw)) {
		return nil, errors.New("--payload is not valid JSON")
	}
	return []byte(raw), nil
}

package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/pomelo"
	"github.com/Zereker/pomelo/message"
	"github.com/Zereker/pomelo/pomelotest"
)

type chat struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

// newServer starts an echo server that also pushes every notify back as onChat.
func newServer(ctx context.Context) (net.Addr, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	server, err := pomelotest.New(addr)
	if err != nil {
		return nil, err
	}

	app, err := pomelotest.NewApp(pomelotest.Config{
		Heartbeat: 1,
		OnNotify: func(s *pomelotest.Session, msg *message.Message) {
			if err := s.Push("onChat", msg.Body); err != nil {
				slog.Error("push failed", "error", err)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := server.Serve(ctx, app); err != nil && ctx.Err() == nil {
			slog.Error("server error", "error", err)
		}
		app.Close()
	}()

	return server.Addr(), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr, err := newServer(ctx)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	client, err := pomelo.NewClient(addr.String(), pomelo.HeartbeatUnitOption(time.Second))
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	done := false
	client.On("onChat", func(msg *message.Message) {
		var c chat
		if err := msg.Decode(&c); err != nil {
			slog.Error("decode push", "error", err)
			return
		}
		slog.Info("push", "route", msg.Route, "from", c.From, "content", c.Content)
		done = true
	})

	err = client.Connect(map[string]any{"name": "gopher"}, func(user map[string]any) {
		slog.Info("handshake complete", "user", user)

		_, err := client.Request("echo.say", chat{From: "gopher", Content: "hello"}, func(msg *message.Message) {
			slog.Info("response", "route", msg.Route, "body", string(msg.Body))

			if err := client.Notify("chat.send", chat{From: "gopher", Content: "hi all"}); err != nil {
				slog.Error("notify failed", "error", err)
			}
		})
		if err != nil {
			slog.Error("request failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !done {
		if err := client.Poll(); err != nil {
			slog.Error("connection closed", "error", err)
			os.Exit(1)
		}

		select {
		case <-ctx.Done():
			done = true
		case <-ticker.C:
		}
	}

	_ = client.Close()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Zereker/pomelo/message"
	"github.com/Zereker/pomelo/pomelotest"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		heartbeat int
		pushRoute string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo server",
		Long: `Run a demo pomelo server.

Requests are echoed back as responses. Every notify is pushed to all
connected clients on the push route, which makes a minimal chat room.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
			if err != nil {
				return err
			}

			var app *pomelotest.App
			app, err = pomelotest.NewApp(pomelotest.Config{
				Heartbeat: heartbeat,
				Logger:    slog.Default(),
				OnHandshake: func(s *pomelotest.Session) {
					slog.Info("session joined", "id", s.ID, "user", s.User())
				},
				OnNotify: func(s *pomelotest.Session, msg *message.Message) {
					if err := app.Broadcast(pushRoute, msg.Body); err != nil {
						slog.Warn("broadcast failed", "route", pushRoute, "error", err)
					}
				},
				OnClose: func(s *pomelotest.Session, err error) {
					slog.Info("session left", "id", s.ID, "error", err)
				},
			})
			if err != nil {
				return err
			}
			defer app.Close()

			server, err := pomelotest.New(tcpAddr, pomelotest.ServerLoggerOption(slog.Default()))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", server.Addr())
			if err = server.Serve(ctx, app); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:3010", "Listen address")
	cmd.Flags().IntVar(&heartbeat, "heartbeat", 10, "Heartbeat interval announced to clients, in the client's heartbeat unit")
	cmd.Flags().StringVar(&pushRoute, "push-route", "onChat", "Route used to push notifies back")

	return cmd
}

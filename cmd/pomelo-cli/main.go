// Command pomelo-cli talks to pomelo servers from the terminal and can run a
// small demo server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "pomelo-cli",
		Short: "Command line client for pomelo servers",
		Long: `pomelo-cli speaks the pomelo protocol over TCP.

Examples:
  pomelo-cli serve --addr 127.0.0.1:3010
  pomelo-cli request --addr 127.0.0.1:3010 --route connector.entryHandler.entry --payload '{"uid":1}'
  pomelo-cli notify --addr 127.0.0.1:3010 --route chat.chatHandler.send --payload '{"msg":"hi"}'
  pomelo-cli listen --addr 127.0.0.1:3010 --event onChat`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		requestCmd(),
		notifyCmd(),
		listenCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

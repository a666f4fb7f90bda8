package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zereker/pomelo/message"
)

func listenCmd() *cobra.Command {
	var (
		flags   clientFlags
		events  []string
		route   string
		rawBody string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print pushes until interrupted",
		Long: `Print pushes for the given events until interrupted or disconnected.

An optional request is sent once the handshake completed, which is how most
servers are told to start pushing (for example an entry handler).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := payload(rawBody)
			if err != nil {
				return err
			}

			s, err := newSession(&flags)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, event := range events {
				s.client.On(event, func(msg *message.Message) {
					fmt.Fprintf(out, "%s %s\n", msg.Route, msg.Body)
				})
			}

			var sendErr error
			err = s.run(func(user map[string]any) {
				if route == "" {
					return
				}
				_, sendErr = s.client.Request(route, body, func(msg *message.Message) {
					fmt.Fprintf(out, "%s %s\n", msg.Route, msg.Body)
				})
				if sendErr != nil {
					s.finish()
				}
			})
			if sendErr != nil {
				return sendErr
			}
			return err
		},
	}

	flags.register(cmd, 0)
	cmd.Flags().StringSliceVarP(&events, "event", "e", nil, "Push routes to print (repeatable)")
	cmd.Flags().StringVarP(&route, "route", "r", "", "Request sent after the handshake")
	cmd.Flags().StringVarP(&rawBody, "payload", "p", "", "Body of that request as JSON")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

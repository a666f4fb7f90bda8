package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/pomelo/message"
)

func requestCmd() *cobra.Command {
	var (
		flags   clientFlags
		route   string
		rawBody string
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send a request and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := payload(rawBody)
			if err != nil {
				return err
			}

			s, err := newSession(&flags)
			if err != nil {
				return err
			}

			var sendErr error
			answered := false
			err = s.run(func(map[string]any) {
				_, sendErr = s.client.Request(route, body, func(msg *message.Message) {
					fmt.Fprintln(cmd.OutOrStdout(), string(msg.Body))
					answered = true
					s.finish()
				})
				if sendErr != nil {
					s.finish()
				}
			})

			switch {
			case sendErr != nil:
				return sendErr
			case err != nil:
				return err
			case !answered:
				return errors.New("connection closed before the response arrived")
			}
			return nil
		},
	}

	flags.register(cmd, 10*time.Second)
	cmd.Flags().StringVarP(&route, "route", "r", "", "Request route")
	cmd.Flags().StringVarP(&rawBody, "payload", "p", "", "Request body as JSON")
	_ = cmd.MarkFlagRequired("route")

	return cmd
}

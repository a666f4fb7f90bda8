package main

import (
	"time"

	"github.com/spf13/cobra"
)

func notifyCmd() *cobra.Command {
	var (
		flags   clientFlags
		route   string
		rawBody string
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a notify and disconnect",
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
			err = s.run(func(map[string]any) {
				sendErr = s.client.Notify(route, body)
				s.finish()
			})
			if sendErr != nil {
				return sendErr
			}
			return err
		},
	}

	flags.register(cmd, 10*time.Second)
	cmd.Flags().StringVarP(&route, "route", "r", "", "Notify route")
	cmd.Flags().StringVarP(&rawBody, "payload", "p", "", "Notify body as JSON")
	_ = cmd.MarkFlagRequired("route")

	return cmd
}

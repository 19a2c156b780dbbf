package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chadiek/voice-bridge/internal/twilio"
)

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <number>",
		Short: "Place an outbound call that connects to this server's media stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := twilio.NewClient(cfg.Twilio, cfg.PublicHost, log.Sub("twilio"))
			if err != nil {
				return err
			}
			sid, err := client.Call(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sid)
			return nil
		},
	}
}

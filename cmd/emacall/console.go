package main

import (
	"github.com/koscakluka/ema-call/internal/console"
	"github.com/spf13/cobra"
)

func newConsoleCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to a running server by typing what the caller says",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return console.Run(cmd.Context(), url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:3000/ws", "websocket endpoint of the server")
	return cmd
}

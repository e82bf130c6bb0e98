package main

import (
	"github.com/spf13/cobra"

	"merchant-sync/internal/log"
)

func relayCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events left behind by earlier imports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if once {
				n, err := a.processor.Flush(ctx)
				a.logger.Info("Relay pass finished", log.Int("published", n))
				return err
			}

			a.logger.Info("Outbox relay started. To exit press CTRL+C")
			a.processor.Start(ctx)
			a.logger.Info("Outbox relay stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "drain the outbox once and exit")
	return cmd
}

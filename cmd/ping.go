package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingTimeout time.Duration

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the configured store answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
		defer cancel()

		b, err := openBackend(ctx)
		if err != nil {
			return fmt.Errorf("failed to ping store: %w", err)
		}
		defer func() {
			_ = b.close()
		}()

		if err := b.pinger.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping store: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Ping successful!")
		return nil
	},
}

func init() {
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 10*time.Second, "give up after this long")
	rootCmd.AddCommand(pingCmd)
}

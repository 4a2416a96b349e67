// Package cmd is the courier command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"

	"github.com/nexus-im/courier/internal/config"
)

var (
	envFile string

	cfg config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "courier",
	Short:         "Real-time chat backend",
	Long:          `courier stores conversations and messages and pushes new messages to connected clients over websockets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		log = logs.GetLoggerFromString(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

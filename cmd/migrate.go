package cmd

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations",
	Long:  `Create or upgrade the Postgres schema. Badger needs no migration and the command is a no-op for it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = b.close()
		}()
		return migrateBackend(ctx, b)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-im/courier/store/user"
)

var (
	userName   string
	userAvatar string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the profiles shown next to conversations and messages",
}

var userSetCmd = &cobra.Command{
	Use:   "set <user-id>",
	Short: "Create or update a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = b.close()
		}()

		u := &user.User{ID: args[0], Username: userName, Avatar: userAvatar}
		if err := b.users.Save(ctx, u); err != nil {
			return fmt.Errorf("failed to save user %s: %w", args[0], err)
		}
		log.Info("User saved", "user_id", u.ID)
		return nil
	},
}

var userGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Print a user profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = b.close()
		}()

		u, err := b.users.Get(ctx, args[0])
		if err != nil {
			return err
		}
		data, _ := json.MarshalIndent(u, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	userSetCmd.Flags().StringVar(&userName, "username", "", "display name")
	userSetCmd.Flags().StringVar(&userAvatar, "avatar", "", "avatar URL")
	userCmd.AddCommand(userSetCmd, userGetCmd)
	rootCmd.AddCommand(userCmd)
}

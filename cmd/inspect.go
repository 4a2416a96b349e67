package cmd

import (
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nexus-im/courier/internal/chat"
	"github.com/nexus-im/courier/internal/presence"
	"github.com/nexus-im/courier/store/message"
)

var (
	inspectLimit int
	inspectOrder string
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations <user-id>",
	Short: "List the conversations of a user as the REST API returns them",
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

		views, err := readOnlyService(b).ListConversations(ctx, args[0])
		if err != nil {
			return err
		}

		table := newTable(cmd.OutOrStdout(), "ID", "Name", "Last Message", "Time", "Unread")
		for _, v := range views {
			last := ""
			if v.LastMessage != nil {
				last = v.LastMessage.Content
			}
			table.Append([]string{v.ID, v.Name, last, v.Time.Format(time.RFC3339), strconv.Itoa(v.Unread)})
		}
		table.Render()
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "List the most recent messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := message.ParseOrder(inspectOrder)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = b.close()
		}()

		views, err := readOnlyService(b).ListMessages(ctx, args[0], message.Query{Order: order, Limit: inspectLimit})
		if err != nil {
			return err
		}

		table := newTable(cmd.OutOrStdout(), "ID", "Sender", "Content", "Timestamp", "Read")
		for _, v := range views {
			table.Append([]string{v.ID, v.SenderID, v.Content, v.Timestamp.Format(time.RFC3339Nano), strconv.FormatBool(v.IsRead)})
		}
		table.Render()
		return nil
	},
}

func init() {
	messagesCmd.Flags().IntVar(&inspectLimit, "limit", 0, "number of messages, capped by MESSAGE_LIMIT")
	messagesCmd.Flags().StringVar(&inspectOrder, "order", "asc", "asc (oldest first) or desc (newest first)")
	rootCmd.AddCommand(conversationsCmd, messagesCmd)
}

// readOnlyService serves the query paths. Nobody is connected, so the
// registry stays empty.
func readOnlyService(b *backend) *chat.Service {
	return chat.NewService(log, b.conversations, b.messages, b.users,
		presence.NewRegistry(presence.ModeSingle), chat.Options{
			MessageLimit:  cfg.MessageLimit,
			DefaultAvatar: cfg.DefaultAvatar,
		})
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

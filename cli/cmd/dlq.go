package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/numberoneson/nos-analytics/cli/internal/client"
	"github.com/numberoneson/nos-analytics/cli/pkg/output"
)

func dlqError(err error) error {
	if errors.Is(err, client.ErrNotFound) {
		return errors.New("dead letter queue is not enabled on the server")
	}
	return requireSession(err)
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and drain the dead letter queue",
	Long:  "Events whose storage write failed are kept in the server's dead letter queue.",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered events, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, p := apiClient(cmd)
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := c.DLQ(cmd.Context(), p.Session, limit)
		if err != nil {
			return dlqError(err)
		}
		if jsonOutput(cmd) {
			return output.JSON(list)
		}
		output.Info("%s queue: %d pending, %d written since start", list.Stats.Backend, list.Stats.Pending, list.Stats.Written)
		if len(list.Entries) == 0 {
			return nil
		}
		table := output.NewTable("ID", "TIME", "SITE", "TYPE", "ERROR")
		for _, e := range list.Entries {
			table.AddRow(e.ID, e.Timestamp.Format(time.RFC3339), e.Event.Site, e.Event.Type, e.Error)
		}
		table.Render()
		return nil
	},
}

var dlqDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one dead-lettered event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, p := apiClient(cmd)
		err := c.DeleteDLQEntry(cmd.Context(), p.Session, args[0])
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("no dlq entry %q (or the queue is disabled)", args[0])
		}
		if err != nil {
			return requireSession(err)
		}
		output.Success("Deleted %s", args[0])
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every dead-lettered event",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("purge drops every entry: pass --yes to confirm")
		}
		c, p := apiClient(cmd)
		n, err := c.PurgeDLQ(cmd.Context(), p.Session)
		if err != nil {
			return dlqError(err)
		}
		output.Success("Purged %d entries", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqDeleteCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqListCmd.Flags().Int("limit", 0, "maximum entries (server default when 0)")
	dlqPurgeCmd.Flags().Bool("yes", false, "confirm the purge")
}

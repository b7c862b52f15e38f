package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/numberoneson/nos-analytics/cli/pkg/output"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run retention cleanup on the server",
	Long: `Trigger the server's retention maintenance. The cron secret comes from
--cron-secret, the profile, or $ANALYTICS_AUTH_CRON_SECRET.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, p := apiClient(cmd)
		secret, _ := cmd.Flags().GetString("cron-secret")
		if secret == "" {
			secret = p.CronSecret
		}
		if secret == "" {
			secret = envOr("ANALYTICS_AUTH_CRON_SECRET", "")
		}

		res, err := c.Cleanup(cmd.Context(), secret)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		if jsonOutput(cmd) {
			return output.JSON(res)
		}

		output.Success("Deleted %d records", res.Deleted)
		kinds := make([]string, 0, len(res.ByKind))
		for k := range res.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		table := output.NewTable("KIND", "DELETED")
		for _, k := range kinds {
			table.AddRow(k, res.ByKind[k])
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().String("cron-secret", "", "cron secret configured on the server")
}

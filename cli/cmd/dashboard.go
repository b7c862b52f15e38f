package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/numberoneson/nos-analytics/cli/internal/client"
	"github.com/numberoneson/nos-analytics/cli/pkg/output"
)

func requireSession(err error) error {
	if errors.Is(err, client.ErrUnauthorized) {
		return errors.New("not logged in or session expired: run 'nosctl login'")
	}
	return err
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard [site]",
	Short: "Show aggregated traffic",
	Long:  "Show the all-sites overview, or one site's breakdown when a site is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, p := apiClient(cmd)
		days, _ := cmd.Flags().GetInt("days")

		if len(args) == 0 {
			ov, err := c.Overview(cmd.Context(), p.Session, days)
			if err != nil {
				return requireSession(err)
			}
			if jsonOutput(cmd) {
				return output.JSON(ov)
			}
			output.Info("Period %s: %d events, %d visitors, %d active now",
				ov.Period, ov.Summary.Events, ov.Summary.Visitors, ov.Summary.Realtime)
			table := output.NewTable("SITE", "EVENTS", "VISITORS", "BOTS", "REALTIME")
			for _, s := range ov.Sites {
				table.AddRow(s.Site, s.Totals.Events, s.Totals.Visitors, s.Totals.BotEvents, s.Realtime)
			}
			table.Render()
			return nil
		}

		res, err := c.Site(cmd.Context(), p.Session, args[0], days)
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("unknown site %q", args[0])
		}
		if err != nil {
			return requireSession(err)
		}
		if jsonOutput(cmd) {
			return output.JSON(res)
		}
		printSite(res)
		return nil
	},
}

func printSite(res *client.SiteResult) {
	label := res.Label
	if label == "" {
		label = res.Site
	}
	output.Info("%s (%s): %d events, %d visitors, %d flagged as bots, %d active now",
		label, res.Period, res.Totals.Events, res.Totals.Visitors, res.Totals.BotEvents, res.Realtime)
	output.Info("Funnel: %d visits, %d signups, %d paid", res.Funnel.Visits, res.Funnel.Signups, res.Funnel.Paid)

	for _, section := range []struct {
		title  string
		counts []client.Count
	}{
		{"PAGE", res.Pages},
		{"REFERRER", res.Referrers},
		{"COUNTRY", res.Countries},
		{"BROWSER", res.Browsers},
		{"OS", res.OS},
		{"DEVICE", res.Devices},
		{"CAMPAIGN", res.Campaigns},
	} {
		if len(section.counts) == 0 {
			continue
		}
		fmt.Fprintln(output.Stdout)
		table := output.NewTable(section.title, "COUNT")
		for _, c := range section.counts {
			table.AddRow(c.Name, c.Count)
		}
		table.Render()
	}
}

var errorsCmd = &cobra.Command{
	Use:   "errors <site>",
	Short: "List recent client errors for a site",
	Long:  "List recent client-side errors for a site. Use 'system' for server-side failures.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, p := apiClient(cmd)
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := c.Errors(cmd.Context(), p.Session, args[0], limit)
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("unknown site %q", args[0])
		}
		if err != nil {
			return requireSession(err)
		}
		if jsonOutput(cmd) {
			return output.JSON(records)
		}
		if len(records) == 0 {
			output.Info("No errors recorded")
			return nil
		}
		table := output.NewTable("TIME", "MESSAGE", "SOURCE", "BROWSER")
		for _, r := range records {
			table.AddRow(r.CreatedAt.Format(time.RFC3339), r.Message, r.Source, r.Browser)
		}
		table.Render()
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server and storage health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _ := apiClient(cmd)
		h, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(h)
		}
		if h.Status != "healthy" {
			output.Warn("Server is %s (database: %s)", h.Status, h.Checks.Database)
			return fmt.Errorf("server %s", h.Status)
		}
		output.Success("Server is healthy (database latency %dms)", h.Checks.LatencyMS)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(healthCmd)

	dashboardCmd.Flags().Int("days", 0, "days to include (server default when 0)")
	errorsCmd.Flags().Int("limit", 0, "maximum records (server default when 0)")
}

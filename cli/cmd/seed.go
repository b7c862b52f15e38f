package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/numberoneson/nos-analytics/cli/internal/client"
	"github.com/numberoneson/nos-analytics/cli/internal/seeder"
	"github.com/numberoneson/nos-analytics/cli/pkg/output"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Send synthetic traffic to the collector",
	Long: `Generate realistic visitor events and post them to /api/collect.

Configuration cascade (priority order):
  1. Command-line flags
  2. ./seeder.yaml (project directory)
  3. ~/.nosctl/seeder.yaml (user directory)
  4. Built-in defaults

The collector rate-limits per client address, so large runs against a
single server report most events as rate limited unless the limit is
raised.

Examples:
  nosctl seed --count 500 --sites main,docs
  nosctl seed --seeder-config ./seeder.yaml --bot-ratio 0.2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("seeder-config")
		sc, err := seeder.LoadConfig(path)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("server") {
			sc.ServerURL, _ = flags.GetString("server")
		}
		if flags.Changed("count") {
			sc.Count, _ = flags.GetInt("count")
		}
		if flags.Changed("sites") {
			sc.Sites, _ = flags.GetStringSlice("sites")
		}
		if flags.Changed("workers") {
			sc.Workers, _ = flags.GetInt("workers")
		}
		if flags.Changed("interval") {
			sc.Interval, _ = flags.GetDuration("interval")
		}
		if flags.Changed("bot-ratio") {
			sc.BotRatio, _ = flags.GetFloat64("bot-ratio")
		}
		if flags.Changed("seed") {
			sc.Seed, _ = flags.GetInt64("seed")
		}
		if err := sc.Validate(); err != nil {
			return err
		}

		runner := seeder.NewRunner(sc, client.New(sc.ServerURL))
		stats, err := runner.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("seeding interrupted: %w", err)
		}

		output.Success("Sent %d events in %s", stats.Sent, stats.Elapsed.Round(time.Millisecond))
		if stats.RateLimited > 0 {
			output.Warn("%d events were rate limited", stats.RateLimited)
		}
		if stats.Failed > 0 {
			output.Error("%d events failed", stats.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("seeder-config", "", "seeder config file")
	seedCmd.Flags().Int("count", 0, "number of events")
	seedCmd.Flags().StringSlice("sites", nil, "site IDs to spread traffic over")
	seedCmd.Flags().Int("workers", 0, "concurrent senders")
	seedCmd.Flags().Duration("interval", 0, "delay between events")
	seedCmd.Flags().Float64("bot-ratio", 0, "fraction of events shaped like bot traffic")
	seedCmd.Flags().Int64("seed", 0, "random seed (0 picks one)")
}

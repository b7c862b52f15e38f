package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/numberoneson/nos-analytics/cli/internal/client"
	"github.com/numberoneson/nos-analytics/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nosctl",
	Short: "nos-analytics CLI",
	Long: `nosctl is the command-line interface for nos-analytics.

Log in to a deployment, read dashboards and recent errors, trigger
retention cleanup, manage schema migrations and session tokens, and
seed synthetic traffic from your terminal.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

// ExecuteContext runs the root command; ctx is cancelled on SIGINT.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.nosctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().String("server", "", "server URL, overrides the profile")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// profileFor resolves the active profile with the --server override applied.
func profileFor(cmd *cobra.Command) (string, *config.Profile) {
	name, _ := cmd.Flags().GetString("profile")
	if name == "" {
		name = cfg.CurrentProfile
	}
	p := *cfg.Resolve(name)
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		p.ServerURL = server
	}
	return name, &p
}

func apiClient(cmd *cobra.Command) (*client.Client, *config.Profile) {
	_, p := profileFor(cmd)
	return client.New(p.ServerURL), p
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}

// envOr returns the environment value of key, or def when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

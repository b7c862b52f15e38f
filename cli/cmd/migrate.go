package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/numberoneson/nos-analytics/analytics/pkg/schema"
	"github.com/numberoneson/nos-analytics/cli/pkg/output"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Apply or roll back schema migrations for the relational storage backend.
The database URL defaults to $ANALYTICS_DATABASE_URL.`,
}

func migrateTarget(cmd *cobra.Command) (source, dbURL string, err error) {
	source, _ = cmd.Flags().GetString("source")
	dbURL, _ = cmd.Flags().GetString("database-url")
	if dbURL == "" {
		dbURL = envOr("ANALYTICS_DATABASE_URL", "")
	}
	if dbURL == "" {
		return "", "", errors.New("database URL is required (--database-url or $ANALYTICS_DATABASE_URL)")
	}
	return source, dbURL, nil
}

func printStatus(cmd *cobra.Command, st schema.Status) error {
	if jsonOutput(cmd) {
		return output.JSON(map[string]any{"version": st.Version, "dirty": st.Dirty})
	}
	if st.Dirty {
		output.Warn("Schema version %d is dirty; fix the failed migration and force the version", st.Version)
		return nil
	}
	output.Success("Schema at version %d", st.Version)
	return nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, dbURL, err := migrateTarget(cmd)
		if err != nil {
			return err
		}
		st, err := schema.Up(source, dbURL)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return printStatus(cmd, st)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		all, _ := cmd.Flags().GetBool("all")
		if all {
			steps = 0
		} else if steps <= 0 {
			return errors.New("--steps must be positive; use --all to roll back everything")
		}

		source, dbURL, err := migrateTarget(cmd)
		if err != nil {
			return err
		}
		st, err := schema.Down(source, dbURL, steps)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return printStatus(cmd, st)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, dbURL, err := migrateTarget(cmd)
		if err != nil {
			return err
		}
		st, err := schema.Version(source, dbURL)
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		return printStatus(cmd, st)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")
	migrateCmd.PersistentFlags().String("source", "file://migrations", "migration source URL")
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back")
	migrateDownCmd.Flags().Bool("all", false, "roll back every migration")
}

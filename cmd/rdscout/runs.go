package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/rdscout/internal/config"
)

var runsJSON bool

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and prune discovery run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list [scope]",
	Short: "List recent discovery runs, newest first",
	Long: `List recent discovery runs. With no scope, runs across all scopes are shown.

Examples:
  rdscout runs list
  rdscout runs list acme --limit 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		scope := ""
		if len(args) == 1 {
			scope = args[0]
		}

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.ListRuns(ctx, scope, limit)
		if err != nil {
			return err
		}
		if runsJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one discovery run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		if runsJSON {
			return writeJSON(cmd.OutOrStdout(), run)
		}
		printRun(cmd.OutOrStdout(), run)
		return nil
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune <scope>",
	Short: "Delete old runs that produced no persisted projects",
	Long: `Delete finished runs older than the retention period that own no projects
(failed runs and runs that found nothing). Runs with projects are never pruned,
and the most recent --keep runs of the scope are always kept.

Defaults come from RDSCOUT_RUN_RETENTION_DAYS and RDSCOUT_RUN_RETENTION_KEEP.

Examples:
  rdscout runs prune acme
  rdscout runs prune acme --retention-days 7 --keep 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		retention, err := config.RunRetentionConfigFromEnv()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("retention-days") {
			retention.RetentionDays, _ = cmd.Flags().GetInt("retention-days")
		}
		if cmd.Flags().Changed("keep") {
			retention.Keep, _ = cmd.Flags().GetInt("keep")
		}
		if err := retention.Validate(); err != nil {
			return err
		}
		if !retention.Enabled() {
			fmt.Fprintln(cmd.OutOrStdout(), "Run pruning is disabled (retention days is 0)")
			return nil
		}

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.store.PruneRuns(ctx, args[0], retention.Cutoff(time.Now()), retention.Keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s pruned %s run(s) from %s (%s)\n",
			color.GreenString("✓"), formatNumber(deleted), args[0], retention)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsPruneCmd)
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "Print as JSON")
	runsListCmd.Flags().Int("limit", 20, "Maximum number of runs to show")
	runsPruneCmd.Flags().Int("retention-days", 0, "Prune runs completed more than this many days ago")
	runsPruneCmd.Flags().Int("keep", 0, "Always keep this many recent runs")
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/rdscout/internal/discovery"
)

var (
	discoverDryRun bool
	discoverJSON   bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover <scope>",
	Short: "Cluster a scope's documents into candidate R&D projects",
	Long: `Run full discovery over every processed document in a scope.

Documents are clustered by content, time, team and signal mix. Each cluster
becomes a candidate project with a name, summary, eligibility score and a
high/medium/low confidence tier. Documents that fit no cluster are reported
as unassigned.

Only one discovery run per scope may be active at a time. Set
wait_for_lock in .rdscout/discovery.yaml to wait instead of failing.

Examples:
  rdscout discover acme              # Run discovery and persist candidates
  rdscout discover acme --dry-run    # Preview without recording anything
  rdscout discover acme --json       # Machine-readable output`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.orchestrator(discoverDryRun)
		if err != nil {
			return err
		}
		result, err := orch.Discover(ctx, args[0])
		if err != nil {
			return err
		}

		if discoverJSON {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		printDiscoverResult(cmd.OutOrStdout(), result, discoverDryRun)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().BoolVar(&discoverDryRun, "dry-run", false, "Compute candidates without recording the run or persisting projects")
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Print the result as JSON")
}

func printDiscoverResult(w io.Writer, result *discovery.Result, dryRun bool) {
	if dryRun {
		fmt.Fprintf(w, "%s\n", color.YellowString("DRY RUN - nothing was persisted"))
	}
	fmt.Fprintln(w, result.Summary())
	fmt.Fprintln(w)

	candidates := result.Candidates()
	if len(candidates) == 0 {
		fmt.Fprintln(w, "No candidate projects found")
	} else {
		printCandidates(w, candidates)
	}
	if len(result.Unassigned) > 0 {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Fprintf(w, "%s\n", gray(fmt.Sprintf("Unassigned: %v", result.Unassigned)))
	}
}

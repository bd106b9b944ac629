package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/steveyegge/rdscout/internal/types"
)

var (
	changesBatch string
	changesFile  string
	changesJSON  bool
)

var changesCmd = &cobra.Command{
	Use:   "changes <scope>",
	Short: "Propose how newly uploaded documents relate to existing projects",
	Long: `Analyze new documents against the projects already persisted for a scope.

The result is a proposal only; nothing is applied:
  - additions of new documents to existing projects, tiered by similarity
  - new candidate projects for documents that fit no existing project
  - narrative impacts where an addition may change a project's story

New documents come either from an upload batch in the document store or from
a JSON file holding an array of documents.

Examples:
  rdscout changes acme --batch 2024-03-upload
  rdscout changes acme --file new_docs.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (changesBatch == "") == (changesFile == "") {
			return fmt.Errorf("exactly one of --batch or --file is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		scope := args[0]
		existing, err := a.projects.ExistingProjects(ctx, scope)
		if err != nil {
			return fmt.Errorf("loading existing projects: %w", err)
		}
		detector, err := a.detector()
		if err != nil {
			return err
		}

		var result *types.ChangeAnalysisResult
		if changesBatch != "" {
			result, err = detector.AnalyzeBatch(ctx, scope, changesBatch, existing)
		} else {
			docs, readErr := readDocumentsFile(changesFile)
			if readErr != nil {
				return readErr
			}
			result, err = detector.Analyze(ctx, scope, docs, existing)
		}
		if err != nil {
			return err
		}

		if changesJSON {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		printChanges(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().StringVar(&changesBatch, "batch", "", "Upload batch ID to analyze")
	changesCmd.Flags().StringVar(&changesFile, "file", "", "JSON file with an array of documents to analyze")
	changesCmd.Flags().BoolVar(&changesJSON, "json", false, "Print the result as JSON")
}

// readDocumentsFile reads a JSON array of documents
func readDocumentsFile(path string) ([]types.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var docs []types.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return docs, nil
}

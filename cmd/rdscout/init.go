package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/rdscout/internal/discovery"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [project-root]",
	Short: "Write an example .rdscout/discovery.yaml",
	Long: `Create .rdscout/discovery.yaml under the project root (default: the
current directory) with every tunable setting and its default value.

An existing file is left alone unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		path, err := writeExampleConfig(root, initForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", color.GreenString("✓"), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

// writeExampleConfig writes the example config file, refusing to overwrite
// unless force is set. The written file must load into a valid config.
func writeExampleConfig(root string, force bool) (string, error) {
	path := discovery.ConfigPath(root)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating .rdscout directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(discovery.ExampleConfigFile()), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}

	cf, err := discovery.LoadConfigFile(root)
	if err != nil {
		return "", err
	}
	if _, err := cf.ToConfig(); err != nil {
		return "", err
	}
	return path, nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abdul-hamid-achik/hitrun/packages/core/config"
	"github.com/spf13/cobra"
)

var (
	forceInit  bool
	initFormat string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a hitrun config file with the defaults",
	Long: `Initialize hitrun in the current directory.

This creates .hitrun.yaml (or hitrun.config.json with --format json)
holding the default settings, with run history recorded to
.hitrun/history.db.

Examples:
  hitrun init
  hitrun init --format json --force`,
	Args: cobra.NoArgs,
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing file")
	initCmd.Flags().StringVar(&initFormat, "format", "yaml", "File format: yaml or json")
}

func initCommand(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	var name string
	switch initFormat {
	case "yaml", "yml":
		name = ".hitrun.yaml"
	case "json":
		name = "hitrun.config.json"
	default:
		return withCode(ExitUsageError, fmt.Errorf("unknown format %q", initFormat))
	}
	path := filepath.Join(cwd, name)

	if !forceInit {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s (use --force to overwrite)", path)
		}
	}

	cfg := config.DefaultConfig()
	cfg.History = filepath.Join(".hitrun", "history.db")
	if err := os.MkdirAll(filepath.Join(cwd, ".hitrun"), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := cfg.SaveConfig(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", path)
	fmt.Fprintf(cmd.OutOrStdout(), "\nhitrun initialized! Register suites with session.Register and call cmd.Execute from your main package.\n")
	return nil
}

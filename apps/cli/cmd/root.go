package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/abdul-hamid-achik/hitrun/packages/core/config"
	"github.com/abdul-hamid-achik/hitrun/packages/history"
	"github.com/abdul-hamid-achik/hitrun/packages/session"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configFlag  string
	historyFlag string
)

// registeredSuites is swapped in tests.
var registeredSuites = session.Registered

var rootCmd = &cobra.Command{
	Use:   "hitrun",
	Short: "Run Go test suites as a task tree.",
	Long: `hitrun runs test suites registered with session.Register: it collects
them into a file > suite > test tree, resolves fixtures, sequences hooks
and streams results to reporters.

Programs embed the CLI by importing their suites and calling
cmd.Execute. The history, config and id commands work on their own.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", getEnvString("HITRUN_CONFIG", ""), "Path to config file (env: HITRUN_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&historyFlag, "history", getEnvString("HITRUN_HISTORY", ""), "SQLite history database (env: HITRUN_HISTORY)")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withCode(ExitUsageError, err)
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(idCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(testsCmd)
	rootCmd.AddCommand(failedCmd)
	rootCmd.AddCommand(metricsCmd)
}

// loadConfig reads --config, or the first config file found in the
// working directory, or the defaults.
func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		cfg, err := config.LoadConfig(configFlag)
		if err != nil {
			return nil, withCode(ExitConfigError, err)
		}
		return cfg, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoadConfig(cwd)
	if err != nil {
		return nil, withCode(ExitConfigError, err)
	}
	return cfg, nil
}

// openHistory opens --history, falling back to the config's history.
func openHistory() (*history.Store, error) {
	path := historyFlag
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.History
	}
	if path == "" {
		return nil, withCode(ExitUsageError, errors.New("no history database: pass --history or set history in the config"))
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, withCode(ExitHistoryError, err)
	}
	return store, nil
}

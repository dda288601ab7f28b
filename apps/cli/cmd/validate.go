package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/hitrun/packages/core/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate hitrun configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate config files against the schema",
	Long: `Validate config files without running anything. Without arguments the
config found in the working directory is checked.

Examples:
  hitrun config validate
  hitrun config validate .hitrun.yaml ci.hitrun.json`,
	RunE: validateCommand,
}

var showJSONFlag bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  showCommand,
}

func init() {
	configShowCmd.Flags().BoolVar(&showJSONFlag, "json", false, "Print JSON instead of YAML")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

func validateCommand(cmd *cobra.Command, args []string) error {
	files := args
	if len(files) == 0 && configFlag != "" {
		files = []string{configFlag}
	}
	if len(files) == 0 {
		if found := config.FindConfig("."); found != "" {
			files = []string{found}
		}
	}
	if len(files) == 0 {
		return withCode(ExitConfigError, errors.New("no config file found"))
	}

	hasErrors := false
	for _, file := range files {
		if err := config.ValidateFile(file); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s\n", file)
		}
	}

	if hasErrors {
		return withCode(ExitConfigError, nil)
	}
	return nil
}

func showCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var data []byte
	if showJSONFlag {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

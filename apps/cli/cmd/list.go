package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/abdul-hamid-achik/hitrun/packages/core/collect"
	"github.com/abdul-hamid-achik/hitrun/packages/core/runner"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/spf13/cobra"
)

var (
	listNameFlag string
	listTagsFlag string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the collected tasks without running them",
	Long: `Collect every registered suite and print the task tree with ids and
the mode each task would run in.

Examples:
  hitrun list
  hitrun list --tags smoke`,
	Args: cobra.NoArgs,
	RunE: listCommand,
}

func init() {
	listCmd.Flags().StringVarP(&listNameFlag, "name", "n", "", "Mark tests whose full name does not match as skipped")
	listCmd.Flags().StringVarP(&listTagsFlag, "tags", "t", "", "Mark tests without any of the tags as skipped")
}

func listCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rc := &runner.Config{
		ForbidOnly: !cfg.GetAllowOnly(),
		NameFilter: listNameFlag,
		TagsFilter: splitList(listTagsFlag),
	}

	suites := registeredSuites()
	if len(suites) == 0 {
		return fmt.Errorf("no suites registered")
	}

	w := cmd.OutOrStdout()
	for _, s := range suites {
		f, err := collect.Collect(cmd.Context(), s.Path, cfg.CollectOptions(), s.Factory)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error collecting %s: %v\n", s.Path, err)
			continue
		}
		runner.InterpretModes(f, rc)
		fmt.Fprintf(w, "\n%s (%s):\n", f.Name, f.ID)
		printTasks(w, f.Tasks, 1)
	}
	return nil
}

func printTasks(w io.Writer, tasks []task.Task, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, t := range tasks {
		b := t.Common()
		line := fmt.Sprintf("%s- %s  %s", indent, b.Name, b.ID)
		if b.Mode != task.ModeRun {
			line += fmt.Sprintf(" [%s]", b.Mode)
		}
		if len(b.Tags) > 0 {
			line += fmt.Sprintf(" tags: %v", b.Tags)
		}
		fmt.Fprintln(w, line)
		if s, ok := t.(*task.Suite); ok {
			printTasks(w, s.Tasks, depth+1)
		}
	}
}

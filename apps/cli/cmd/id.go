package cmd

import (
	"fmt"
	"strconv"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/spf13/cobra"
)

var (
	idRootFlag     string
	idProjectFlag  string
	idPositionFlag string
)

var idCmd = &cobra.Command{
	Use:   "id <file>",
	Short: "Compute the stable id of a file or task",
	Long: `Compute the id a file, or a task at a position in it, gets during
collection. Ids depend on the path relative to the root, the project
name and the task's index at each nesting level.

Examples:
  hitrun id api_test.go
  hitrun id /repo/api/users_test.go --root /repo --project api
  hitrun id api_test.go --position 2,0`,
	Args: cobra.ExactArgs(1),
	RunE: idCommand,
}

func init() {
	idCmd.Flags().StringVar(&idRootFlag, "root", "", "Project root the path is relative to")
	idCmd.Flags().StringVar(&idProjectFlag, "project", "", "Project name")
	idCmd.Flags().StringVar(&idPositionFlag, "position", "", "Index per nesting level, comma-separated")
}

func idCommand(cmd *cobra.Command, args []string) error {
	rel := args[0]
	if idRootFlag != "" {
		rel = task.RelativePath(idRootFlag, rel)
	}
	position, err := parsePosition(idPositionFlag)
	if err != nil {
		return withCode(ExitUsageError, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), task.ComputeID(rel, idProjectFlag, position))
	return nil
}

func parsePosition(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		i, err := strconv.Atoi(part)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("invalid position %q", part)
		}
		out = append(out, i)
	}
	return out, nil
}

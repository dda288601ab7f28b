package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/abdul-hamid-achik/hitrun/packages/history"
	"github.com/abdul-hamid-achik/hitrun/packages/output"
	"github.com/spf13/cobra"
)

var (
	runsLimitFlag   int
	reportFlag      string
	reportVerbose   bool
	reportNoColor   bool
	testsStateFlag  string
	testsMetaFlag   string
	failedNamesFlag bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runsCommand,
}

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Render a recorded run with any reporter",
	Long: `Rebuild the task tree of a recorded run (the latest by default) and
render it with a reporter.

Examples:
  hitrun report --history runs.db
  hitrun report 0b6f... -o junit > report.xml`,
	Args: cobra.MaximumNArgs(1),
	RunE: reportCommand,
}

var testsCmd = &cobra.Command{
	Use:   "tests [run-id]",
	Short: "Query the test results of a recorded run",
	Long: `Print the stored results of a run (the latest by default).

--meta takes a gjson path and keeps tests whose meta has it; the value
is printed next to the test.

Examples:
  hitrun tests --state fail
  hitrun tests --meta owner`,
	Args: cobra.MaximumNArgs(1),
	RunE: testsCommand,
}

var failedCmd = &cobra.Command{
	Use:   "failed [run-id]",
	Short: "Print the ids of the tests that failed in a recorded run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  failedCommand,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimitFlag, "limit", 20, "Maximum number of runs, 0 for all")

	reportCmd.Flags().StringVarP(&reportFlag, "output", "o", "console", "Reporter: console, json, junit, tap")
	reportCmd.Flags().BoolVarP(&reportVerbose, "verbose", "v", false, "Show passing suites and duration percentiles")
	reportCmd.Flags().BoolVar(&reportNoColor, "no-color", getEnvBool("HITRUN_NO_COLOR", false), "Disable colored output (env: HITRUN_NO_COLOR)")

	testsCmd.Flags().StringVar(&testsStateFlag, "state", "", "Only tests in this state: pass, fail, skip, todo")
	testsCmd.Flags().StringVar(&testsMetaFlag, "meta", "", "Only tests whose meta has this gjson path")

	failedCmd.Flags().BoolVar(&failedNamesFlag, "names", false, "Print full names next to the ids")
}

func runArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func runsCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs(cmd.Context(), runsLimitFlag)
	if err != nil {
		return withCode(ExitHistoryError, err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATE\tPASSED\tFAILED\tSKIPPED\tTOTAL\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Format(time.DateTime), r.State,
			r.Passed, r.Failed, r.Skipped, r.Total, r.Duration().Round(time.Millisecond))
	}
	return tw.Flush()
}

func reportCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	run, err := store.GetRun(ctx, runArg(args))
	if err != nil {
		return withCode(ExitHistoryError, err)
	}
	files, err := store.LoadFiles(ctx, run.ID)
	if err != nil {
		return withCode(ExitHistoryError, err)
	}

	f, err := output.New(reportFlag, cmd.OutOrStdout(), reportVerbose, reportNoColor)
	if err != nil {
		return withCode(ExitUsageError, err)
	}
	if err := output.Render(f, files, run.Duration()); err != nil {
		return err
	}
	if run.State == task.StateFail {
		return withCode(ExitTestFailure, nil)
	}
	return nil
}

func testsCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Tests(cmd.Context(), runArg(args), history.Filter{
		State: task.State(testsStateFlag),
		Meta:  testsMetaFlag,
	})
	if err != nil {
		return withCode(ExitHistoryError, err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, r := range records {
		line := fmt.Sprintf("%s\t%s > %s\t%s", r.State, r.File, r.FullName, r.Duration.Round(time.Microsecond))
		if testsMetaFlag != "" {
			line += "\t" + r.Meta.Get(testsMetaFlag).String()
		}
		fmt.Fprintln(tw, line)
		for _, e := range r.Errors {
			fmt.Fprintf(tw, "\t  %s\t\n", e.Error())
		}
	}
	return tw.Flush()
}

func failedCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if !failedNamesFlag {
		ids, err := store.FailedIDs(ctx, runArg(args))
		if err != nil {
			return withCode(ExitHistoryError, err)
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}

	records, err := store.Tests(ctx, runArg(args), history.Filter{State: task.StateFail})
	if err != nil {
		return withCode(ExitHistoryError, err)
	}
	for _, r := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s > %s\n", r.TaskID, r.File, r.FullName)
	}
	return nil
}

package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/fatih/color"
)

// formatValue formats a value for display, truncating long values
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
	files   []*task.File
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func (f *ConsoleFormatter) FormatFile(file *task.File) {
	f.files = append(f.files, file)

	tests := task.Tests(file)
	header := fmt.Sprintf("%s (%d tests)", file.Name, len(tests))
	if file.Result != nil {
		header += " " + cyan(fmt.Sprintf("%dms", file.Result.Duration.Milliseconds()))
	}
	symbol := green("✓")
	if stateOf(file.Result) == task.StateFail {
		symbol = red("✗")
	}
	fmt.Fprintf(f.writer, "\n %s %s\n", symbol, bold(header))
	f.suiteErrors(&file.Suite, "   ")

	for _, child := range file.Tasks {
		f.formatTask(child, 1)
	}
}

func (f *ConsoleFormatter) formatTask(t task.Task, depth int) {
	indent := strings.Repeat("  ", depth+1)
	switch v := t.(type) {
	case *task.Suite:
		if !f.verbose && stateOf(v.Result) != task.StateFail {
			// collapse passing suites unless verbose
			fmt.Fprintf(f.writer, "%s%s %s\n", indent, f.symbol(v.Result), v.Name)
			return
		}
		fmt.Fprintf(f.writer, "%s%s\n", indent, bold(v.Name))
		f.suiteErrors(v, indent+"  ")
		for _, child := range v.Tasks {
			f.formatTask(child, depth+1)
		}
	case *task.Test:
		f.formatTest(v, indent)
	}
}

func (f *ConsoleFormatter) formatTest(t *task.Test, indent string) {
	r := t.Result
	line := fmt.Sprintf("%s%s %s", indent, f.symbol(r), t.Name)
	if r != nil {
		switch r.State {
		case task.StatePass, task.StateFail:
			line += " " + cyan(fmt.Sprintf("(%dms)", r.Duration.Milliseconds()))
			if r.RetryCount > 0 {
				line += " " + yellow(fmt.Sprintf("[retry x%d]", r.RetryCount))
			}
			if r.RepeatCount > 0 {
				line += " " + gray(fmt.Sprintf("[repeat x%d]", r.RepeatCount))
			}
		case task.StateSkip:
			if r.Note != "" {
				line += " " + gray("("+r.Note+")")
			}
		}
	}
	fmt.Fprintln(f.writer, line)

	if r != nil && r.State == task.StateFail {
		for _, e := range r.Errors {
			fmt.Fprintf(f.writer, "%s  %s %s\n", indent, red("→"), formatValue(e.Error(), 500))
		}
	}
	if f.verbose {
		if meta := t.Meta.Snapshot(); len(meta) > 0 {
			fmt.Fprintf(f.writer, "%s  Meta:\n", indent)
			for k, v := range meta {
				fmt.Fprintf(f.writer, "%s    %s = %s\n", indent, k, formatValue(v, 100))
			}
		}
	}
}

func (f *ConsoleFormatter) suiteErrors(s *task.Suite, indent string) {
	if s.Result == nil {
		return
	}
	for _, e := range s.Result.Errors {
		fmt.Fprintf(f.writer, "%s%s %s\n", indent, red("→"), e.Error())
	}
}

func (f *ConsoleFormatter) symbol(r *task.Result) string {
	switch stateOf(r) {
	case task.StatePass:
		return green("✓")
	case task.StateFail:
		return red("✗")
	case task.StateTodo:
		return gray("○")
	case task.StateRun:
		return yellow("…")
	}
	return yellow("-")
}

// Flush prints the run summary.
func (f *ConsoleFormatter) Flush(totalDuration time.Duration) error {
	s := Summarize(f.files)

	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Files: %d\n", s.Files)
	fmt.Fprintf(f.writer, "Tests: ")
	if s.Passed > 0 {
		fmt.Fprintf(f.writer, "%s, ", green(fmt.Sprintf("%d passed", s.Passed)))
	}
	if s.Failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d failed", s.Failed)))
	}
	if s.Skipped > 0 {
		fmt.Fprintf(f.writer, "%s, ", yellow(fmt.Sprintf("%d skipped", s.Skipped)))
	}
	if s.Todo > 0 {
		fmt.Fprintf(f.writer, "%s, ", gray(fmt.Sprintf("%d todo", s.Todo)))
	}
	fmt.Fprintf(f.writer, "%d total\n", s.Total)
	if s.SuiteErrors > 0 {
		fmt.Fprintf(f.writer, "Errors: %s\n", red(fmt.Sprintf("%d suites failed", s.SuiteErrors)))
	}
	fmt.Fprintf(f.writer, "Time:  %dms\n", totalDuration.Milliseconds())

	if f.verbose && s.Passed+s.Failed > 0 {
		fmt.Fprintf(f.writer, "Durations: p50=%s p95=%s p99=%s max=%s\n", s.P50, s.P95, s.P99, s.Max)
		for _, t := range s.Slowest {
			fmt.Fprintf(f.writer, "  %s %s\n", cyan(fmt.Sprintf("%6dms", t.Result.Duration.Milliseconds())), task.FullName(t))
		}
	}
	fmt.Fprintf(f.writer, "\n")
	f.files = nil
	return nil
}

func (f *ConsoleFormatter) FormatError(err error) {
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	fmt.Fprintf(f.writer, "%s %s\n", bold("hitrun"), version)
}

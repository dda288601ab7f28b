package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

// Formatter renders finished files.
type Formatter interface {
	FormatFile(f *task.File)
	FormatError(err error)
	FormatHeader(version string)
}

// Flushable is implemented by formatters that write once all files are
// formatted.
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

// New returns the formatter registered under name.
func New(name string, w io.Writer, verbose, noColor bool) (Formatter, error) {
	switch name {
	case "", "console":
		return NewConsoleFormatter(WithWriter(w), WithVerbose(verbose), WithNoColor(noColor)), nil
	case "json":
		return NewJSONFormatter(JSONWithWriter(w)), nil
	case "junit":
		return NewJUnitFormatter(JUnitWithWriter(w)), nil
	case "tap":
		return NewTAPFormatter(TAPWithWriter(w)), nil
	}
	return nil, fmt.Errorf("unknown reporter %q", name)
}

// Extension returns the file extension used when a formatter writes to
// an output directory.
func Extension(name string) string {
	switch name {
	case "json":
		return ".json"
	case "junit":
		return ".xml"
	case "tap":
		return ".tap"
	}
	return ".txt"
}

// OpenOutput returns the destination for a reporter: stdout when dir is
// empty, otherwise dir/hitrun-<name><ext>.
func OpenOutput(dir, name string) (io.WriteCloser, error) {
	if dir == "" {
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(dir, "hitrun-"+name+Extension(name)))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Reporter adapts a Formatter to the runner's result stream: files are
// formatted once the run finishes.
type Reporter struct {
	formatter Formatter
	start     time.Time
}

func NewReporter(f Formatter) *Reporter {
	return &Reporter{formatter: f}
}

func (r *Reporter) Formatter() Formatter { return r.formatter }

func (r *Reporter) OnCollected(ctx context.Context, files []*task.File) error {
	r.start = time.Now()
	return nil
}

func (r *Reporter) OnTaskUpdate(ctx context.Context, packs []task.ResultPack) error {
	return nil
}

func (r *Reporter) OnFinished(ctx context.Context, files []*task.File) error {
	return Render(r.formatter, files, time.Since(r.start))
}

// Render formats files and flushes the formatter if it buffers output.
func Render(f Formatter, files []*task.File, total time.Duration) error {
	for _, file := range files {
		f.FormatFile(file)
	}
	if flushable, ok := f.(Flushable); ok {
		return flushable.Flush(total)
	}
	return nil
}

// errorText joins the messages of a result's errors.
func errorText(r *task.Result) string {
	if r == nil {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

// suitePath is the " > " joined path of the suites above t, or the file
// name for top level tests.
func suitePath(t *task.Test) string {
	if t.Suite == nil || t.Suite.Suite == nil {
		if t.File == nil {
			return ""
		}
		return t.File.Name
	}
	return task.FullName(t.Suite)
}

func stateOf(r *task.Result) task.State {
	if r == nil {
		return task.StateSkip
	}
	return r.State
}

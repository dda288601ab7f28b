package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

// JSONOutput represents the complete JSON output structure
type JSONOutput struct {
	Summary  JSONSummary `json:"summary"`
	Files    []JSONFile  `json:"files"`
	Tests    []JSONTest  `json:"tests"`
	Duration float64     `json:"duration"`
	Time     string      `json:"time"`
}

// JSONSummary represents the test summary
type JSONSummary struct {
	Total   int     `json:"total"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Skipped int     `json:"skipped"`
	Todo    int     `json:"todo"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

// JSONFile represents a collected file and the errors of its suites
type JSONFile struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	State           task.State  `json:"state"`
	Duration        float64     `json:"duration"`
	CollectDuration float64     `json:"collectDuration"`
	SetupDuration   float64     `json:"setupDuration"`
	Errors          []JSONError `json:"errors,omitempty"`
}

// JSONTest represents a single test result
type JSONTest struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	FullName    string         `json:"fullName"`
	File        string         `json:"file"`
	State       task.State     `json:"state"`
	Duration    float64        `json:"duration"`
	RetryCount  int            `json:"retryCount,omitempty"`
	RepeatCount int            `json:"repeatCount,omitempty"`
	Note        string         `json:"note,omitempty"`
	Location    *task.Location `json:"location,omitempty"`
	Errors      []JSONError    `json:"errors,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// JSONError represents one task error
type JSONError struct {
	Kind    task.ErrorKind `json:"kind"`
	Name    string         `json:"name,omitempty"`
	Message string         `json:"message"`
	// Task is the full name of the suite an error belongs to.
	Task string `json:"task,omitempty"`
}

// JSONFormatter formats test results as JSON
type JSONFormatter struct {
	writer  io.Writer
	files   []*task.File
	results []JSONFile
	tests   []JSONTest
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
		tests:  make([]JSONTest, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func jsonErrors(r *task.Result, owner string) []JSONError {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	out := make([]JSONError, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = JSONError{Kind: e.Kind, Name: e.Name, Message: e.Message, Task: owner}
	}
	return out
}

func (f *JSONFormatter) FormatFile(file *task.File) {
	f.files = append(f.files, file)

	jf := JSONFile{
		ID:              file.ID,
		Name:            file.Name,
		State:           stateOf(file.Result),
		CollectDuration: millis(file.CollectDuration),
		SetupDuration:   millis(file.SetupDuration),
	}
	if file.Result != nil {
		jf.Duration = millis(file.Result.Duration)
	}
	task.Walk(file, func(n task.Task) bool {
		switch v := n.(type) {
		case *task.File:
			jf.Errors = append(jf.Errors, jsonErrors(v.Result, "")...)
		case *task.Suite:
			jf.Errors = append(jf.Errors, jsonErrors(v.Result, task.FullName(v))...)
		case *task.Test:
			f.tests = append(f.tests, jsonTest(v))
		}
		return true
	})
	f.results = append(f.results, jf)
}

func jsonTest(t *task.Test) JSONTest {
	jt := JSONTest{
		ID:       t.ID,
		Name:     t.Name,
		FullName: task.FullName(t),
		State:    stateOf(t.Result),
		Location: t.Location,
	}
	if t.File != nil {
		jt.File = t.File.Name
	}
	if r := t.Result; r != nil {
		jt.Duration = millis(r.Duration)
		jt.RetryCount = r.RetryCount
		jt.RepeatCount = r.RepeatCount
		jt.Note = r.Note
		jt.Errors = jsonErrors(r, "")
	}
	if meta := t.Meta.Snapshot(); len(meta) > 0 {
		jt.Meta = meta
	}
	return jt
}

func (f *JSONFormatter) FormatError(err error) {
	// Errors are included in individual test results
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	s := Summarize(f.files)
	output := JSONOutput{
		Summary: JSONSummary{
			Total:   s.Total,
			Passed:  s.Passed,
			Failed:  s.Failed,
			Skipped: s.Skipped,
			Todo:    s.Todo,
			P50:     millis(s.P50),
			P95:     millis(s.P95),
			P99:     millis(s.P99),
		},
		Files:    f.results,
		Tests:    f.tests,
		Duration: millis(totalDuration),
		Time:     time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

package output

import (
	"cmp"
	"slices"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

// maxTrackable bounds recorded durations (microseconds).
const maxTrackable = 600_000_000

// Summary aggregates the test results of one or more files.
type Summary struct {
	Files   int
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Todo    int
	// Retried counts tests that needed at least one retry.
	Retried int
	// SuiteErrors counts files and suites that carry their own errors,
	// e.g. collection or beforeAll failures.
	SuiteErrors int

	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration

	// Slowest holds up to three tests, slowest first.
	Slowest []*task.Test
}

// Summarize counts test states and computes duration percentiles of the
// tests that ran.
func Summarize(files []*task.File) Summary {
	s := Summary{Files: len(files)}
	hist := hdrhistogram.New(1, maxTrackable, 3)
	var ran []*task.Test

	for _, f := range files {
		task.Walk(f, func(n task.Task) bool {
			if n.Type() != task.TypeTest {
				if r := n.Common().Result; r != nil && len(r.Errors) > 0 {
					s.SuiteErrors++
				}
			}
			return true
		})
		for _, t := range task.Tests(f) {
			s.Total++
			if t.Result == nil {
				continue
			}
			switch t.Result.State {
			case task.StatePass:
				s.Passed++
			case task.StateFail:
				s.Failed++
			case task.StateSkip:
				s.Skipped++
				continue
			case task.StateTodo:
				s.Todo++
				continue
			}
			if t.Result.RetryCount > 0 {
				s.Retried++
			}
			ran = append(ran, t)
			us := t.Result.Duration.Microseconds()
			_ = hist.RecordValue(min(max(us, 1), maxTrackable))
		}
	}

	if hist.TotalCount() > 0 {
		s.P50 = time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond
		s.P95 = time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond
		s.P99 = time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond
		s.Max = time.Duration(hist.Max()) * time.Microsecond
	}

	slices.SortStableFunc(ran, func(a, b *task.Test) int {
		return cmp.Compare(b.Result.Duration, a.Result.Duration)
	})
	s.Slowest = ran[:min(3, len(ran))]
	return s
}

// Success reports whether nothing failed.
func (s Summary) Success() bool {
	return s.Failed == 0 && s.SuiteErrors == 0
}

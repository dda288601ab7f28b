package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

// JUnit XML structures

// JUnitTestSuites is the root element
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a collected file
type JUnitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase represents a single test case
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure represents a test failure
type JUnitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitError represents a test error
type JUnitError struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitSkipped represents a skipped test
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitFormatter formats test results as JUnit XML
type JUnitFormatter struct {
	writer     io.Writer
	testSuites []JUnitTestSuite
}

type JUnitOption func(*JUnitFormatter)

func NewJUnitFormatter(opts ...JUnitOption) *JUnitFormatter {
	f := &JUnitFormatter{
		writer:     os.Stdout,
		testSuites: make([]JUnitTestSuite, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JUnitWithWriter(w io.Writer) JUnitOption {
	return func(f *JUnitFormatter) {
		f.writer = w
	}
}

func (f *JUnitFormatter) FormatFile(file *task.File) {
	suite := JUnitTestSuite{
		Name:      file.Name,
		Timestamp: time.Now().Format(time.RFC3339),
		TestCases: make([]JUnitTestCase, 0),
	}
	if file.Result != nil {
		suite.Time = file.Result.Duration.Seconds()
		if !file.Result.StartTime.IsZero() {
			suite.Timestamp = file.Result.StartTime.Format(time.RFC3339)
		}
	}

	task.Walk(file, func(n task.Task) bool {
		switch v := n.(type) {
		case *task.File:
			suite.addSuiteErrors(file.Name, v.Result)
		case *task.Suite:
			suite.addSuiteErrors(task.FullName(v), v.Result)
		case *task.Test:
			suite.addTest(v)
		}
		return true
	})

	f.testSuites = append(f.testSuites, suite)
}

func (s *JUnitTestSuite) addTest(t *task.Test) {
	s.Tests++
	tc := JUnitTestCase{
		Name:      t.Name,
		ClassName: suitePath(t),
	}
	r := t.Result
	if r != nil {
		tc.Time = r.Duration.Seconds()
	}

	switch stateOf(r) {
	case task.StateSkip, task.StateTodo:
		s.Skipped++
		msg := string(stateOf(r))
		if r != nil && r.Note != "" {
			msg = r.Note
		}
		tc.Skipped = &JUnitSkipped{Message: msg}
	case task.StateFail:
		if isError(r) {
			s.Errors++
			tc.Error = &JUnitError{
				Message: r.Errors[0].Message,
				Type:    string(r.Errors[0].Kind),
				Content: errorText(r),
			}
			break
		}
		s.Failures++
		tc.Failure = &JUnitFailure{
			Message: "Assertion failed",
			Type:    "AssertionError",
			Content: errorText(r),
		}
	}
	s.TestCases = append(s.TestCases, tc)
}

// addSuiteErrors reports errors owned by a suite (collection, beforeAll,
// afterAll) as an errored pseudo test case.
func (s *JUnitTestSuite) addSuiteErrors(name string, r *task.Result) {
	if r == nil || len(r.Errors) == 0 {
		return
	}
	s.Tests++
	s.Errors++
	s.TestCases = append(s.TestCases, JUnitTestCase{
		Name:      name,
		ClassName: name,
		Error: &JUnitError{
			Message: r.Errors[0].Message,
			Type:    string(r.Errors[0].Kind),
			Content: errorText(r),
		},
	})
}

// isError reports whether a failure came from something other than the
// test's own assertions.
func isError(r *task.Result) bool {
	if len(r.Errors) == 0 {
		return false
	}
	switch r.Errors[0].Kind {
	case task.KindAssertion, task.KindExpectedFail:
		return false
	}
	return true
}

func (f *JUnitFormatter) FormatError(err error) {
	// Errors are included in individual test cases
}

func (f *JUnitFormatter) FormatHeader(version string) {
	// No header needed for JUnit XML
}

// Flush writes the accumulated JUnit XML output
func (f *JUnitFormatter) Flush(totalDuration time.Duration) error {
	var totalTests, totalFailures, totalErrors, totalSkipped int
	for _, suite := range f.testSuites {
		totalTests += suite.Tests
		totalFailures += suite.Failures
		totalErrors += suite.Errors
		totalSkipped += suite.Skipped
	}

	suites := JUnitTestSuites{
		Name:       "hitrun",
		Tests:      totalTests,
		Failures:   totalFailures,
		Errors:     totalErrors,
		Skipped:    totalSkipped,
		Time:       totalDuration.Seconds(),
		Timestamp:  time.Now().Format(time.RFC3339),
		TestSuites: f.testSuites,
	}

	fmt.Fprintf(f.writer, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	encoder := xml.NewEncoder(f.writer)
	encoder.Indent("", "  ")
	return encoder.Encode(suites)
}

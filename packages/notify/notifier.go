// Package notify posts run summaries to chat webhooks when a run
// finishes. The Reporter plugs into the runner like any other reporter.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/abdul-hamid-achik/hitrun/packages/output"
	"github.com/rs/zerolog"
)

// Policy specifies when to send notifications
type Policy string

const (
	// Always sends notifications for every run
	Always Policy = "always"
	// OnFailure sends notifications only when tests fail
	OnFailure Policy = "failure"
	// OnSuccess sends notifications only when tests pass
	OnSuccess Policy = "success"
	// OnRecovery sends notifications on failure and on the first
	// passing run after a failure
	OnRecovery Policy = "recovery"
)

// ParsePolicy maps a config value to a Policy. Empty means OnFailure.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return OnFailure, nil
	case Always, OnFailure, OnSuccess, OnRecovery:
		return p, nil
	}
	return "", fmt.Errorf("unknown notify policy %q", s)
}

// Summary is what a notifier renders.
type Summary struct {
	Project     string
	Files       int
	Total       int
	Passed      int
	Failed      int
	Skipped     int
	Retried     int
	SuiteErrors int
	Duration    time.Duration
	P95         time.Duration
	Failures    []Failure
	IsRecovery  bool
}

// Success reports whether nothing failed.
func (s *Summary) Success() bool {
	return s.Failed == 0 && s.SuiteErrors == 0
}

// Failure is one failed task. Suites appear when their hooks failed.
type Failure struct {
	Name   string
	File   string
	Errors []string
}

// maxFailures caps the failures listed in a message.
const maxFailures = 20

// BuildSummary condenses finished files.
func BuildSummary(files []*task.File, total time.Duration) *Summary {
	s := output.Summarize(files)
	sum := &Summary{
		Files:       s.Files,
		Total:       s.Total,
		Passed:      s.Passed,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		Retried:     s.Retried,
		SuiteErrors: s.SuiteErrors,
		Duration:    total,
		P95:         s.P95,
	}
	for _, f := range files {
		if sum.Project == "" {
			sum.Project = f.ProjectName
		}
		task.Walk(f, func(t task.Task) bool {
			r := t.Common().Result
			if r == nil || r.State != task.StateFail || len(sum.Failures) >= maxFailures {
				return true
			}
			if t.Type() != task.TypeTest && len(r.Errors) == 0 {
				return true
			}
			name := task.FullName(t)
			if t.Type() == task.TypeFile {
				name = "(file setup)"
			}
			fail := Failure{Name: name, File: f.Name}
			for _, e := range r.Errors {
				fail.Errors = append(fail.Errors, e.Error())
			}
			sum.Failures = append(sum.Failures, fail)
			return true
		})
	}
	return sum
}

// Notifier is the interface for notification services
type Notifier interface {
	Notify(ctx context.Context, summary *Summary) error
	Name() string
}

// Reporter sends a summary to every notifier when a run finishes, as
// its policy allows.
type Reporter struct {
	notifiers []Notifier
	policy    Policy
	log       zerolog.Logger

	mu         sync.Mutex
	started    time.Time
	lastFailed bool
}

type Option func(*Reporter)

// WithPreviousFailure seeds the state the recovery policy compares
// against, e.g. from the run history.
func WithPreviousFailure(failed bool) Option {
	return func(r *Reporter) { r.lastFailed = failed }
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Reporter) { r.log = log }
}

func NewReporter(policy Policy, notifiers []Notifier, opts ...Option) *Reporter {
	r := &Reporter{
		notifiers: notifiers,
		policy:    policy,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) OnCollected(ctx context.Context, files []*task.File) error {
	r.mu.Lock()
	r.started = time.Now()
	r.mu.Unlock()
	return nil
}

func (r *Reporter) OnTaskUpdate(ctx context.Context, packs []task.ResultPack) error {
	return nil
}

func (r *Reporter) OnFinished(ctx context.Context, files []*task.File) error {
	r.mu.Lock()
	elapsed := time.Since(r.started)
	r.mu.Unlock()
	return r.Notify(ctx, BuildSummary(files, elapsed))
}

// Notify sends the summary if the policy allows it. Every notifier is
// tried; their errors are joined.
func (r *Reporter) Notify(ctx context.Context, summary *Summary) error {
	r.mu.Lock()
	send := r.shouldSend(summary)
	r.lastFailed = !summary.Success()
	r.mu.Unlock()

	if !send {
		return nil
	}

	var errs []error
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		r.log.Debug().Str("notifier", n.Name()).Msg("notification sent")
	}
	return errors.Join(errs...)
}

func (r *Reporter) shouldSend(s *Summary) bool {
	switch r.policy {
	case Always:
		return true
	case OnSuccess:
		return s.Success()
	case OnRecovery:
		if r.lastFailed && s.Success() {
			s.IsRecovery = true
			return true
		}
		return !s.Success()
	default:
		return !s.Success()
	}
}

func headline(s *Summary) string {
	switch {
	case !s.Success() && s.Failed > 0:
		return fmt.Sprintf("%d test(s) failed", s.Failed)
	case !s.Success():
		return fmt.Sprintf("%d suite(s) failed", s.SuiteErrors)
	case s.IsRecovery:
		return "Tests recovered!"
	default:
		return "All tests passed!"
	}
}

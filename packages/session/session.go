// Package session wires a configuration into one run: it collects the
// registered suites, attaches the configured reporters and executes the
// files.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/collect"
	"github.com/abdul-hamid-achik/hitrun/packages/core/config"
	"github.com/abdul-hamid-achik/hitrun/packages/core/runner"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/abdul-hamid-achik/hitrun/packages/export/metrics"
	"github.com/abdul-hamid-achik/hitrun/packages/export/tracing"
	"github.com/abdul-hamid-achik/hitrun/packages/history"
	"github.com/abdul-hamid-achik/hitrun/packages/notify"
	"github.com/abdul-hamid-achik/hitrun/packages/output"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Suite is a test file: a path and the factory that registers its tasks.
type Suite struct {
	Path    string
	Factory func(c *collect.Collector)
}

var (
	registryMu sync.Mutex
	registry   []Suite
)

// Register adds a suite to the process-wide set, usually from an init
// function of the package that defines it.
func Register(path string, factory func(c *collect.Collector)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, Suite{Path: path, Factory: factory})
}

// Registered returns the registered suites in registration order.
func Registered() []Suite {
	registryMu.Lock()
	defer registryMu.Unlock()
	return slices.Clone(registry)
}

// Options configure Run beyond what the config file holds.
type Options struct {
	Config *config.Config
	// Out receives formatter output when no output directory is set.
	Out io.Writer
	// Failed reruns only the tests that failed in the latest recorded
	// run. It requires a history database.
	Failed bool
	// RunTask executes tests registered without a body.
	RunTask task.TestFunc
	// Tracer enables span export when set.
	Tracer trace.TracerProvider
	Logger *zerolog.Logger
}

// Result is the outcome of Run.
type Result struct {
	Files   []*task.File
	Summary output.Summary
	// RunID is the history id of the run, if history is enabled.
	RunID string
}

// ErrNothingFailed is returned by Run with Options.Failed when the last
// recorded run had no failures.
var ErrNothingFailed = errors.New("no failed tests in the last run")

// Run collects suites and executes them. Test failures are reported in
// the summary, not as an error.
func Run(ctx context.Context, suites []Suite, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	rc, err := cfg.RunnerConfig()
	if err != nil {
		return nil, err
	}
	rc.RunTask = opts.RunTask
	rc.Logger = &log

	if len(suites) == 0 {
		return nil, errors.New("no suites registered")
	}
	files, err := collectAll(ctx, suites, cfg.CollectOptions())
	if err != nil {
		return nil, err
	}

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("closing reporter")
			}
		}
	}()

	var store *history.Store
	if cfg.History != "" {
		store, err = history.Open(cfg.History)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		closers = append(closers, store.Close)
	}

	if opts.Failed {
		if store == nil {
			return nil, errors.New("rerunning failed tests needs a history database")
		}
		ids, err := store.FailedIDs(ctx, "")
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, ErrNothingFailed
		}
		log.Debug().Int("tests", len(ids)).Msg("rerunning failed tests")
		rc.OnlyIDs = ids
	}

	if store != nil {
		rc.Reporters = append(rc.Reporters, store)
	}

	if cfg.Notify.Enabled() {
		rep, err := notifier(ctx, cfg.Notify, store, log)
		if err != nil {
			return nil, err
		}
		rc.Reporters = append(rc.Reporters, rep)
	}

	if cfg.Metrics != "" {
		collector := metrics.NewCollector()
		srv, err := collector.Listen(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("metrics listener: %w", err)
		}
		log.Debug().Str("addr", srv.Addr()).Msg("serving metrics")
		closers = append(closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Close(ctx)
		})
		rc.Reporters = append(rc.Reporters, collector)
	}

	if opts.Tracer != nil {
		rc.Reporters = append(rc.Reporters, tracing.NewReporter(opts.Tracer))
	}

	for _, name := range cfg.Reporters {
		w := io.WriteCloser(nopCloser{out})
		if cfg.OutputDir != "" {
			if w, err = output.OpenOutput(cfg.OutputDir, name); err != nil {
				return nil, fmt.Errorf("reporter %s: %w", name, err)
			}
		}
		closers = append(closers, w.Close)
		f, err := output.New(name, w, cfg.GetVerbose(), cfg.GetNoColor())
		if err != nil {
			return nil, err
		}
		rc.Reporters = append(rc.Reporters, output.NewReporter(f))
	}

	runErr := runner.NewRunner(rc).RunFiles(ctx, files)

	res := &Result{Files: files, Summary: output.Summarize(files)}
	if store != nil {
		res.RunID = store.RunID()
	}
	return res, runErr
}

// notifier builds the webhook reporter. With a history the recovery
// policy compares against the last recorded run.
func notifier(ctx context.Context, cfg config.Notify, store *history.Store, log zerolog.Logger) (*notify.Reporter, error) {
	policy, err := notify.ParsePolicy(cfg.On)
	if err != nil {
		return nil, err
	}
	var notifiers []notify.Notifier
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhook, notify.WithSlackChannel(cfg.SlackChannel)))
	}
	if cfg.TeamsWebhook != "" {
		notifiers = append(notifiers, notify.NewTeamsNotifier(cfg.TeamsWebhook))
	}

	opts := []notify.Option{notify.WithLogger(log)}
	if store != nil {
		prev, err := store.LatestRun(ctx)
		switch {
		case err == nil:
			opts = append(opts, notify.WithPreviousFailure(prev.State == task.StateFail))
		case !errors.Is(err, history.ErrNoRuns):
			return nil, err
		}
	}
	return notify.NewReporter(policy, notifiers, opts...), nil
}

func collectAll(ctx context.Context, suites []Suite, opts collect.Options) ([]*task.File, error) {
	files := make([]*task.File, 0, len(suites))
	for _, s := range suites {
		f, err := collect.Collect(ctx, s.Path, opts, s.Factory)
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", s.Path, err)
		}
		files = append(files, f)
	}
	return files, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

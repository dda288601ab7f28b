// Package metrics exports run results as Prometheus metrics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hitrun"

// Collector is a runner reporter that records test outcomes.
//
// Metrics (namespace "hitrun"):
//   - tests_total{file,state}: finished tests by final state
//   - test_duration_seconds{file,state}: test durations
//   - test_retries_total{file}: retries consumed
//   - suite_errors_total{kind}: errors owned by files and suites
//   - tests_running: tests currently in the run state
//   - runs_total{state}: finished runs
//   - run_duration_seconds: duration of the last run
type Collector struct {
	registry *prometheus.Registry

	finished    *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	suiteErrors *prometheus.CounterVec
	running     prometheus.Gauge
	runs        *prometheus.CounterVec
	runDuration prometheus.Gauge

	mu      sync.Mutex
	tests   map[string]struct{}
	active  map[string]struct{}
	started time.Time
}

// NewCollector creates a collector with its own registry. Go runtime
// and process collectors are registered alongside.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Finished tests by final state.",
		}, []string{"file", "state"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Test duration including retries and repeats.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"file", "state"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_retries_total",
			Help:      "Retries consumed by tests.",
		}, []string{"file"}),
		suiteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suite_errors_total",
			Help:      "Errors recorded on files and suites.",
		}, []string{"kind"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tests_running",
			Help:      "Tests currently running.",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by state.",
		}, []string{"state"}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last finished run.",
		}),
		active: make(map[string]struct{}),
	}
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) OnCollected(ctx context.Context, files []*task.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = time.Now()
	c.tests = make(map[string]struct{})
	for _, f := range files {
		for _, t := range task.Tests(f) {
			c.tests[t.ID] = struct{}{}
		}
	}
	clear(c.active)
	c.running.Set(0)
	return nil
}

// OnTaskUpdate tracks which tests are running.
func (c *Collector) OnTaskUpdate(ctx context.Context, packs []task.ResultPack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range packs {
		if _, ok := c.tests[p.ID]; !ok || p.Result == nil {
			continue
		}
		if p.Result.State == task.StateRun {
			c.active[p.ID] = struct{}{}
		} else {
			delete(c.active, p.ID)
		}
	}
	c.running.Set(float64(len(c.active)))
	return nil
}

// OnFinished records final states from the finished tree.
func (c *Collector) OnFinished(ctx context.Context, files []*task.File) error {
	state := task.StatePass
	for _, f := range files {
		if task.HasFailed(f) {
			state = task.StateFail
		}
		task.Walk(f, func(n task.Task) bool {
			r := n.Common().Result
			if r == nil {
				return true
			}
			if n.Type() != task.TypeTest {
				for _, e := range r.Errors {
					c.suiteErrors.WithLabelValues(string(e.Kind)).Inc()
				}
				return true
			}
			st := string(r.State)
			c.finished.WithLabelValues(f.Name, st).Inc()
			if r.State == task.StatePass || r.State == task.StateFail {
				c.durations.WithLabelValues(f.Name, st).Observe(r.Duration.Seconds())
			}
			if r.RetryCount > 0 {
				c.retries.WithLabelValues(f.Name).Add(float64(r.RetryCount))
			}
			return true
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs.WithLabelValues(string(state)).Inc()
	c.runDuration.Set(time.Since(c.started).Seconds())
	clear(c.active)
	c.running.Set(0)
	return nil
}

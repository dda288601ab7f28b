package runner

import (
	"context"
	"math/rand"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/rs/zerolog"
)

// Runner executes collected files. A Runner runs one set of files at a
// time; RunFiles calls must not overlap.
type Runner struct {
	config *Config
	log    zerolog.Logger

	stream   *stream
	sem      chan struct{}
	failures atomic.Int64
	bailed   atomic.Bool
}

func NewRunner(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	c := cfg.withDefaults()

	return &Runner{
		config: &c,
		log:    c.Logger.With().Str("component", "runner").Logger(),
	}
}

// Config returns the effective configuration, defaults applied.
func (r *Runner) Config() Config {
	return *r.config
}

// RunFile runs a single file.
func (r *Runner) RunFile(ctx context.Context, f *task.File) error {
	return r.RunFiles(ctx, []*task.File{f})
}

// RunFiles interprets modes and runs every file in order, or in seeded
// random order when shuffling is configured. Test failures are recorded
// in the tree; the returned error reports cancellation and reporter
// failures.
func (r *Runner) RunFiles(ctx context.Context, files []*task.File) error {
	r.stream = newStream(r.config.Reporters, r.config.UpdateInterval, r.log)
	r.sem = make(chan struct{}, r.config.MaxConcurrency)
	r.failures.Store(0)
	r.bailed.Store(false)

	r.log.Debug().
		Int("files", len(files)).
		Int64("seed", r.config.Sequence.Seed).
		Str("hooks", string(r.config.Sequence.Hooks)).
		Msg("starting run")

	for _, f := range files {
		InterpretModes(f, r.config)
	}
	r.stream.collected(ctx, files)

	order := files
	if r.config.Sequence.Shuffle {
		order = slices.Clone(files)
		r.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	for _, f := range order {
		if ctx.Err() != nil {
			break
		}
		r.runSuite(ctx, &f.Suite)
		r.stream.flush(ctx)
	}

	err := r.stream.finished(context.WithoutCancel(ctx), files)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *Runner) emit(ctx context.Context, t task.Task) {
	r.stream.update(ctx, t)
}

// shuffle permutes n elements with the configured seed, so a seed
// always reproduces the same order.
func (r *Runner) shuffle(n int, swap func(i, j int)) {
	rand.New(rand.NewSource(r.config.Sequence.Seed)).Shuffle(n, swap)
}

// partition splits children into runs of consecutive tasks sharing the
// same concurrency flag.
func partition(tasks []task.Task) [][]task.Task {
	var groups [][]task.Task
	for _, t := range tasks {
		n := len(groups)
		if n > 0 && groups[n-1][0].Common().Concurrent == t.Common().Concurrent {
			groups[n-1] = append(groups[n-1], t)
			continue
		}
		groups = append(groups, []task.Task{t})
	}
	return groups
}

func (r *Runner) runGroup(ctx context.Context, s *task.Suite, group []task.Task) {
	if group[0].Common().Concurrent {
		var wg sync.WaitGroup
		for _, child := range group {
			wg.Add(1)
			go func(child task.Task) {
				defer wg.Done()
				r.runChild(ctx, child)
			}(child)
		}
		wg.Wait()
		return
	}

	if s.Shuffle || r.config.Sequence.Shuffle {
		group = slices.Clone(group)
		r.shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
	}
	for _, child := range group {
		r.runChild(ctx, child)
	}
}

func (r *Runner) runChild(ctx context.Context, t task.Task) {
	switch v := t.(type) {
	case *task.Test:
		r.runTest(ctx, v)
	case *task.Suite:
		r.runSuite(ctx, v)
	}
}

func (r *Runner) acquire(ctx context.Context) bool {
	select {
	case r.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) release() {
	<-r.sem
}

func (r *Runner) recordFailure(t *task.Test) {
	if r.config.Bail <= 0 {
		return
	}
	if n := r.failures.Add(1); n >= int64(r.config.Bail) && r.bailed.CompareAndSwap(false, true) {
		r.log.Info().Int64("failures", n).Str("test", t.ID).Msg("bail threshold reached, skipping remaining tests")
	}
}

func (r *Runner) heap(res *task.Result) {
	if !r.config.LogHeapUsage {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	res.Heap = m.HeapAlloc
}

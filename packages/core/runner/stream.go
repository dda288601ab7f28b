package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Reporter consumes the result stream. Packs for one task arrive in the
// order they were produced; Result may be nil or non-terminal until the
// task finishes, and Meta is opaque JSON.
type Reporter interface {
	OnCollected(ctx context.Context, files []*task.File) error
	OnTaskUpdate(ctx context.Context, packs []task.ResultPack) error
	OnFinished(ctx context.Context, files []*task.File) error
}

// stream batches result packs. Updates are coalesced by task ID and
// delivered at most once per interval; flush delivers whatever is
// pending regardless of the limiter.
type stream struct {
	reporters []Reporter
	log       zerolog.Logger
	limiter   *rate.Limiter

	mu      sync.Mutex
	pending []task.ResultPack
	index   map[string]int

	// deliver serializes batches so reporters never see an older pack
	// after a newer one.
	deliver sync.Mutex
	errs    []error
}

func newStream(reporters []Reporter, interval time.Duration, log zerolog.Logger) *stream {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &stream{
		reporters: reporters,
		log:       log,
		limiter:   rate.NewLimiter(limit, 1),
		index:     make(map[string]int),
	}
}

func (s *stream) collected(ctx context.Context, files []*task.File) {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	for _, r := range s.reporters {
		s.record(r.OnCollected(ctx, files), "collected")
	}
}

// update queues a snapshot of t.
func (s *stream) update(ctx context.Context, t task.Task) {
	if len(s.reporters) == 0 {
		return
	}
	pack := task.PackOf(t)

	s.mu.Lock()
	if i, ok := s.index[pack.ID]; ok {
		s.pending[i] = pack
	} else {
		s.index[pack.ID] = len(s.pending)
		s.pending = append(s.pending, pack)
	}
	s.mu.Unlock()

	if s.limiter.Allow() {
		s.flush(ctx)
	}
}

func (s *stream) flush(ctx context.Context) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	clear(s.index)
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, r := range s.reporters {
		s.record(r.OnTaskUpdate(ctx, batch), "task update")
	}
}

func (s *stream) finished(ctx context.Context, files []*task.File) error {
	s.flush(ctx)

	s.deliver.Lock()
	defer s.deliver.Unlock()
	for _, r := range s.reporters {
		s.record(r.OnFinished(ctx, files), "finished")
	}
	return errors.Join(s.errs...)
}

// record must be called with deliver held.
func (s *stream) record(err error, stage string) {
	if err == nil {
		return
	}
	s.log.Warn().Err(err).Str("stage", stage).Msg("reporter failed")
	s.errs = append(s.errs, fmt.Errorf("reporter %s: %w", stage, err))
}

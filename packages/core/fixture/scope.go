package fixture

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

type built struct {
	name     string
	teardown Teardown
}

// Scope holds the fixtures built for one test attempt.
type Scope struct {
	set *Set

	mu     sync.Mutex
	cache  map[*Fixture]any
	values Values
	built  []built
	closed bool
}

// Scope returns an empty scope over s.
func (s *Set) Scope() *Scope {
	return &Scope{
		set:    s,
		cache:  make(map[*Fixture]any),
		values: make(Values),
	}
}

// Resolve builds every fixture names needs that is not built yet. The
// whole plan is computed first, so unknown names and cycles fail before
// any setup runs. A setup error stops resolution; fixtures built before
// it stay in the scope for Teardown.
func (sc *Scope) Resolve(ctx context.Context, names []string) error {
	plan, err := sc.set.Plan(names)
	if err != nil {
		return err
	}

	for _, f := range plan {
		if err := sc.build(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (sc *Scope) build(ctx context.Context, f *Fixture) error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return ErrScopeClosed
	}
	if _, ok := sc.cache[f]; ok {
		sc.mu.Unlock()
		return nil
	}
	deps := make(Values, len(f.Deps))
	for _, name := range f.Deps {
		d, err := sc.set.dep(f, name)
		if err != nil {
			sc.mu.Unlock()
			return err
		}
		deps[name] = sc.cache[d]
	}
	sc.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("fixture %q: %w", f.Name, err)
	}

	value, teardown := f.value, Teardown(nil)
	if f.setup != nil {
		var err error
		value, teardown, err = callSetup(ctx, f, deps)
		if err != nil {
			return fmt.Errorf("fixture %q: %w", f.Name, err)
		}
	}

	sc.mu.Lock()
	if sc.closed {
		// The attempt was abandoned while this setup ran.
		sc.mu.Unlock()
		if teardown != nil {
			if err := teardown(context.WithoutCancel(ctx)); err != nil {
				return errors.Join(ErrScopeClosed, fmt.Errorf("fixture %q teardown: %w", f.Name, err))
			}
		}
		return ErrScopeClosed
	}
	sc.cache[f] = value
	if sc.set.fixtures[f.Name] == f {
		sc.values[f.Name] = value
	}
	sc.built = append(sc.built, built{name: f.Name, teardown: teardown})
	sc.mu.Unlock()
	return nil
}

func callSetup(ctx context.Context, f *Fixture, deps Values) (v any, td Teardown, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("setup panicked: %v", p)
		}
	}()
	return f.setup(ctx, deps)
}

// Values returns the resolved values visible to the test. Shadowed outer
// fixtures are not included.
func (sc *Scope) Values() Values {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make(Values, len(sc.values))
	for k, v := range sc.values {
		out[k] = v
	}
	return out
}

// Order returns fixture names in construction order.
func (sc *Scope) Order() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	names := make([]string, len(sc.built))
	for i, b := range sc.built {
		names[i] = b.name
	}
	return names
}

// Teardown releases every built fixture in reverse construction order.
// All teardowns run; their failures are returned in the order they
// happened. Calling Teardown again is a no-op.
func (sc *Scope) Teardown(ctx context.Context) []error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil
	}
	sc.closed = true
	items := slices.Clone(sc.built)
	sc.mu.Unlock()

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.teardown == nil {
			continue
		}
		if err := callTeardown(ctx, it.teardown); err != nil {
			errs = append(errs, fmt.Errorf("fixture %q teardown: %w", it.name, err))
		}
	}
	return errs
}

func callTeardown(ctx context.Context, td Teardown) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("teardown panicked: %v", p)
		}
	}()
	return td(ctx)
}

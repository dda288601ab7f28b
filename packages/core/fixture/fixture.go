// Package fixture resolves named per-test dependencies.
//
// A fixture is either a literal value or a setup function that returns a
// value and an optional teardown. A Set validates the dependency graph
// when it is built, so unknown names and cycles are rejected before any
// setup runs. A Scope resolves the closed set of fixtures one test needs,
// building each exactly once in dependency order, and tears them down in
// exact reverse order on every exit path.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrCycle reports a circular fixture dependency.
	ErrCycle = errors.New("circular fixture dependency")
	// ErrUnknownFixture reports a reference to an undeclared fixture.
	ErrUnknownFixture = errors.New("unknown fixture")
	// ErrScopeClosed is returned when a scope is resolved after teardown.
	ErrScopeClosed = errors.New("fixture scope already torn down")
)

// Values maps fixture names to resolved values.
type Values map[string]any

// Teardown releases a fixture value.
type Teardown func(ctx context.Context) error

// SetupFunc builds a fixture from its declared dependencies.
type SetupFunc func(ctx context.Context, deps Values) (any, Teardown, error)

// Option configures a Fixture.
type Option func(*Fixture)

// Auto forces the fixture to be built for every test, referenced or not.
func Auto() Option {
	return func(f *Fixture) {
		f.Auto = true
	}
}

// Fixture declares one named slot.
type Fixture struct {
	Name string
	Deps []string
	Auto bool

	value any
	setup SetupFunc
	// parent is the fixture this one shadows, reachable only when the
	// fixture lists its own name in Deps.
	parent *Fixture
}

// Value declares a literal fixture.
func Value(name string, v any, opts ...Option) *Fixture {
	f := &Fixture{Name: name, value: v}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Func declares a fixture built by setup after deps are resolved.
func Func(name string, deps []string, setup SetupFunc, opts ...Option) *Fixture {
	f := &Fixture{Name: name, Deps: slices.Clone(deps), setup: setup}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fixture) clone() *Fixture {
	c := *f
	c.Deps = slices.Clone(f.Deps)
	return &c
}

// Set is an immutable collection of fixtures with a validated
// dependency graph. The nil *Set is empty.
type Set struct {
	fixtures map[string]*Fixture
	order    []string
}

// NewSet builds a set from fixtures.
func NewSet(fixtures ...*Fixture) (*Set, error) {
	var s *Set
	return s.Extend(fixtures...)
}

// Extend returns a child set where fixtures shadow same-named fixtures of
// s. A shadowing literal replaces the outer fixture. A shadowing setup
// receives the outer value only when it lists its own name in Deps.
func (s *Set) Extend(fixtures ...*Fixture) (*Set, error) {
	child := &Set{fixtures: make(map[string]*Fixture)}
	if s != nil {
		child.fixtures = maps.Clone(s.fixtures)
		child.order = slices.Clone(s.order)
	}

	for _, f := range fixtures {
		if f == nil || f.Name == "" {
			return nil, errors.New("fixture: declaration without a name")
		}
		f = f.clone()
		prev, shadowed := child.fixtures[f.Name]
		if slices.Contains(f.Deps, f.Name) {
			if !shadowed || f.setup == nil {
				return nil, fmt.Errorf("fixture %q depends on itself: %w", f.Name, ErrCycle)
			}
			f.parent = prev
		}
		if !shadowed {
			child.order = append(child.order, f.Name)
		}
		child.fixtures[f.Name] = f
	}

	if err := child.validate(); err != nil {
		return nil, err
	}
	return child, nil
}

// Names returns fixture names in declaration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.order)
}

// Has reports whether name is declared.
func (s *Set) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.fixtures[name]
	return ok
}

// dep resolves one dependency edge of f.
func (s *Set) dep(f *Fixture, name string) (*Fixture, error) {
	if name == f.Name {
		if f.parent == nil {
			return nil, fmt.Errorf("fixture %q depends on itself: %w", f.Name, ErrCycle)
		}
		return f.parent, nil
	}
	d, ok := s.fixtures[name]
	if !ok {
		return nil, fmt.Errorf("fixture %q depends on %q: %w", f.Name, name, ErrUnknownFixture)
	}
	return d, nil
}

func (s *Set) validate() error {
	state := make(map[*Fixture]int)
	for _, name := range s.order {
		if _, err := s.visit(s.fixtures[name], state, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

const (
	unvisited = iota
	visiting
	done
)

// visit walks the graph depth-first, appending fixtures to out after
// their dependencies. path tracks the active chain for cycle messages.
func (s *Set) visit(f *Fixture, state map[*Fixture]int, path []string, out []*Fixture) ([]*Fixture, error) {
	switch state[f] {
	case done:
		return out, nil
	case visiting:
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(path, f.Name), " -> "))
	}
	state[f] = visiting
	path = append(path, f.Name)
	for _, name := range f.Deps {
		d, err := s.dep(f, name)
		if err != nil {
			return nil, err
		}
		if out, err = s.visit(d, state, path, out); err != nil {
			return nil, err
		}
	}
	state[f] = done
	return append(out, f), nil
}

// Plan returns the fixtures a test referencing names needs, auto
// fixtures included, in construction order.
func (s *Set) Plan(names []string) ([]*Fixture, error) {
	for _, name := range names {
		if !s.Has(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFixture, name)
		}
	}
	if s == nil {
		return nil, nil
	}

	var (
		out   []*Fixture
		err   error
		state = make(map[*Fixture]int)
	)
	for _, name := range s.order {
		f := s.fixtures[name]
		if !f.Auto && !slices.Contains(names, name) {
			continue
		}
		if out, err = s.visit(f, state, nil, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Resolve builds the fixtures names needs in a fresh scope. On error the
// returned scope still holds what was built and must be torn down.
func (s *Set) Resolve(ctx context.Context, names []string) (*Scope, error) {
	sc := s.Scope()
	return sc, sc.Resolve(ctx, names)
}

// Get returns the value stored under name converted to T.
func Get[T any](v Values, name string) (T, bool) {
	raw, ok := v[name]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := raw.(T)
	return t, ok
}

// MustGet is like Get but panics when the fixture is missing or has a
// different type.
func MustGet[T any](v Values, name string) T {
	t, ok := Get[T](v, name)
	if !ok {
		panic(fmt.Sprintf("fixture %q is not resolved as %T", name, t))
	}
	return t
}

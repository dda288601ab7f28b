// Package hooks sequences lifecycle hooks around suites and tests.
//
// Three policies are supported:
//   - stack: before hooks in registration order, after hooks reversed
//   - list: both kinds in registration order
//   - parallel: every hook of a kind starts at once and all must settle
//
// Sequential before hooks stop at the first failure, since the guarded
// unit will not run anyway. Sequential after hooks keep going after a
// failure so every cleanup gets its chance; their errors are joined.
// Parallel hooks never cancel each other.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Sequence is the hook ordering policy.
type Sequence string

const (
	Stack    Sequence = "stack"
	List     Sequence = "list"
	Parallel Sequence = "parallel"
)

// DefaultSequence is used when no policy is configured.
const DefaultSequence = Stack

// ParseSequence validates a policy name. The empty string selects the
// default.
func ParseSequence(s string) (Sequence, error) {
	switch Sequence(s) {
	case "":
		return DefaultSequence, nil
	case Stack, List, Parallel:
		return Sequence(s), nil
	}
	return "", fmt.Errorf("unknown hook sequence %q (expected stack, list or parallel)", s)
}

// Name identifies a hook kind.
type Name string

const (
	BeforeAll  Name = "beforeAll"
	AfterAll   Name = "afterAll"
	BeforeEach Name = "beforeEach"
	AfterEach  Name = "afterEach"
)

// IsAfter reports whether n runs after the guarded unit.
func (n Name) IsAfter() bool {
	return n == AfterAll || n == AfterEach
}

// Func is one hook invocation.
type Func func(ctx context.Context) error

// ErrAborted is returned for a parallel hook whose goroutine exited
// without returning, e.g. through runtime.Goexit.
var ErrAborted = errors.New("hook goroutine exited before returning")

// Order returns the invocation order of n hooks of kind name under seq.
// Parallel hooks are started in registration order.
func Order(seq Sequence, name Name, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if seq == Stack && name.IsAfter() {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return order
}

// Run invokes fns, all of kind name, under seq.
func Run(ctx context.Context, seq Sequence, name Name, fns []Func) error {
	if len(fns) == 0 {
		return nil
	}
	if seq == Parallel {
		return runParallel(ctx, fns)
	}

	var errs []error
	for _, i := range Order(seq, name, len(fns)) {
		if err := invoke(ctx, fns[i]); err != nil {
			if !name.IsAfter() {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runParallel(ctx context.Context, fns []Func) error {
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(idx int, fn Func) {
			defer wg.Done()
			returned := false
			defer func() {
				if !returned && errs[idx] == nil {
					errs[idx] = ErrAborted
				}
			}()
			errs[idx] = invoke(ctx, fn)
			returned = true
		}(i, fn)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// invoke calls fn converting a panic into an error.
func invoke(ctx context.Context, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()
	return fn(ctx)
}

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/collect"
	"github.com/abdul-hamid-achik/hitrun/packages/core/fixture"
	"github.com/abdul-hamid-achik/hitrun/packages/core/hooks"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFile(t *testing.T, factory func(c *collect.Collector)) *task.File {
	t.Helper()
	f, err := collect.Collect(context.Background(), "/proj/suite_test.go", collect.Options{Root: "/proj"}, factory)
	require.NoError(t, err)
	return f
}

func runFiles(t *testing.T, cfg *Config, files ...*task.File) {
	t.Helper()
	require.NoError(t, NewRunner(cfg).RunFiles(context.Background(), files))
}

func testAt(f *task.File, path ...int) *task.Test {
	s := &f.Suite
	for _, i := range path[:len(path)-1] {
		s = s.Tasks[i].(*task.Suite)
	}
	return s.Tasks[path[len(path)-1]].(*task.Test)
}

type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (l *recorder) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *recorder) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(nil)
	cfg := r.Config()
	assert.Equal(t, DefaultTestTimeout, cfg.TestTimeout)
	assert.Equal(t, DefaultHookTimeout, cfg.HookTimeout)
	assert.Equal(t, DefaultConcurrency, cfg.MaxConcurrency)
	assert.Equal(t, hooks.Stack, cfg.Sequence.Hooks)
	assert.NotZero(t, cfg.Sequence.Seed)

	r = NewRunner(&Config{TestTimeout: -1, MaxConcurrency: 2, Sequence: Sequence{Hooks: hooks.List, Seed: 7}})
	cfg = r.Config()
	assert.Zero(t, cfg.TestTimeout)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.Equal(t, hooks.List, cfg.Sequence.Hooks)
	assert.Equal(t, int64(7), cfg.Sequence.Seed)
}

func TestRunner_RetryAlwaysFailing(t *testing.T) {
	attempts := 0
	f := collectFile(t, func(c *collect.Collector) {
		c.Test("flaky", func(tc *task.TestContext) error {
			attempts++
			return fmt.Errorf("attempt %d failed", attempts)
		}, collect.Retry(2))
	})

	runFiles(t, nil, f)

	res := testAt(f, 0).Result
	assert.Equal(t, 3, attempts)
	assert.Equal(t, task.StateFail, res.State)
	assert.Equal(t, 2, res.RetryCount)
	require.Len(t, res.Errors, 1, "only the last attempt's errors are kept")
	assert.Equal(t, "attempt 3 failed", res.Errors[0].Message)
	assert.Equal(t, task.KindAssertion, res.Errors[0].Kind)
}

func TestRunner_RetryUntilPass(t *testing.T) {
	attempts := 0
	f := collectFile(t, func(c *collect.Collector) {
		c.With(collect.Retry(3)).Test("eventually", func(tc *task.TestContext) error {
			attempts++
			if attempts < 2 {
				return errors.New("not yet")
			}
			return nil
		})
	})

	runFiles(t, nil, f)

	res := testAt(f, 0).Result
	assert.Equal(t, 2, attempts)
	assert.Equal(t, task.StatePass, res.State)
	assert.Equal(t, 1, res.RetryCount)
	assert.Empty(t, res.Errors)
}

func TestRunner_RepeatsAlwaysPassing(t *testing.T) {
	attempts := 0
	f := collectFile(t, func(c *collect.Collector) {
		c.Test("stable", func(tc *task.TestContext) error {
			attempts++
			return nil
		}, collect.Repeats(2))
	})

	runFiles(t, nil, f)

	res := testAt(f, 0).Result
	assert.Equal(t, 3, attempts)
	assert.Equal(t, task.StatePass, res.State)
	assert.Equal(t, 2, res.RepeatCount)
	assert.Zero(t, res.RetryCount)
}

func TestRunner_FailureDuringRepeatReentersRetry(t *testing.T) {
	attempts := 0
	f := collectFile(t, func(c *collect.Collector) {
		c.Test("second repeat flakes once", func(tc *task.TestContext) error {
			attempts++
			if attempts == 2 {
				return errors.New("flake")
			}
			return nil
		}, collect.Repeats(1), collect.Retry(1))
	})

	runFiles(t, nil, f)

	res := testAt(f, 0).Result
	assert.Equal(t, 3, attempts)
	assert.Equal(t, task.StatePass, res.State)
	assert.Equal(t, 1, res.RepeatCount)
	assert.Equal(t, 1, res.RetryCount)
}

func TestRunner_Fails(t *testing.T) {
	f := collectFile(t, func(c *collect.Collector) {
		c.Fails().Test("throws", func(tc *task.TestContext) error {
			return errors.New("boom")
		})
		c.Fails().Test("passes", func(tc *task.TestContext) error {
			return nil
		})
	})

	runFiles(t, nil, f)

	throws := testAt(f, 0).Result
	assert.Equal(t, task.StatePass, throws.State)
	assert.Empty(t, throws.Errors)

	passes := testAt(f, 1).Result
	assert.Equal(t, task.StateFail, passes.State)
	require.Len(t, passes.Errors, 1)
	assert.Equal(t, task.KindExpectedFail, passes.Errors[0].Kind)
}

func TestRunner_FailsInvertsFinalOutcome(t *testing.T) {
	var passRuns, throwRuns int
	f := collectFile(t, func(c *collect.Collector) {
		c.Fails().Retry(2).Test("passes", func(tc *task.TestContext) error {
			passRuns++
			return nil
		})
		c.Fails().Retry(2).Test("throws", func(tc *task.TestContext) error {
			throwRuns++
			return errors.New("boom")
		})
	})

	runFiles(t, nil, f)

	passes := testAt(f, 0).Result
	assert.Equal(t, 1, passRuns, "a passing attempt is not retried")
	assert.Zero(t, passes.RetryCount)
	assert.Equal(t, task.StateFail, passes.State)
	require.Len(t, passes.Errors, 1)
	assert.Equal(t, task.KindExpectedFail, passes.Errors[0].Kind)

	throws := testAt(f, 1).Result
	assert.Equal(t, 3, throwRuns)
	assert.Equal(t, 2, throws.RetryCount)
	assert.Equal(t, task.StatePass, throws.State)
	assert.Empty(t, throws.Errors)
}

func TestRunner_TimedOutAttemptCannotRegisterHandlers(t *testing.T) {
	var attempts atomic.Int32
	var staleRan, freshRan atomic.Bool
	proceed := make(chan struct{})
	registered := make(chan struct{})

	f := collectFile(t, func(c *collect.Collector) {
		c.With(collect.Retry(1), collect.Timeout(100*time.Millisecond)).Test("slow first", func(tc *task.TestContext) error {
			if attempts.Add(1) == 1 {
				<-proceed
				tc.OnTestFinished(func(r *task.Result) error {
					staleRan.Store(true)
					return nil
				})
				tc.Go(func() error { return errors.New("late assertion") })
				close(registered)
				return nil
			}
			close(proceed)
			<-registered
			tc.OnTestFinished(func(r *task.Result) error {
				freshRan.Store(true)
				return nil
			})
			return nil
		})
	})

	runFiles(t, nil, f)

	test := testAt(f, 0)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, task.StatePass, test.Result.State)
	assert.Equal(t, 1, test.Result.RetryCount)
	assert.Empty(t, test.Result.Errors)
	assert.True(t, freshRan.Load())
	assert.False(t, staleRan.Load(), "handler of the timed-out attempt leaked into the retry")
	assert.Len(t, test.OnFinished, 1)
	assert.Empty(t, test.Promises)
}

func TestRunner_SkipMidBody(t *testing.T) {
	var l recorder
	set, err := fixture.NewSet(fixture.Func("conn", nil, func(ctx context.Context, d fixture.Values) (any, fixture.Teardown, error) {
		l.add("setup conn")
		return "conn", func(ctx context.Context) error {
			l.add("teardown conn")
			return nil
		}, nil
	}))
	require.NoError(t, err)

	f := collectFile(t, func(c *collect.Collector) {
		c.Use(set)
		c.AfterEach(func(tc *task.TestContext) error {
			l.add("afterEach")
			return nil
		})
		c.Test("skips", func(tc *task.TestContext) error {
			l.add("before skip")
			tc.Skip("reason")
			l.add("after skip")
			return errors.New("unreachable")
		}, collect.Uses("conn"))
	})

	runFiles(t, nil, f)

	res := testAt(f, 0).Result
	assert.Equal(t, task.StateSkip, res.State)
	assert.Equal(t, "reason", res.Note)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"setup conn", "before skip", "afterEach", "teardown conn"}, l.all())
}

func TestRunner_Shuffle(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	order := func(shuffle bool, seed int64) []string {
		var l recorder
		f := collectFile(t, func(c *collect.Collector) {
			chain := c.With()
			if shuffle {
				chain = c.Shuffle()
			}
			chain.Describe("group", func(c *collect.Collector) {
				for _, n := range names {
					c.Test(n, func(tc *task.TestContext) error {
						l.add(n)
						return nil
					})
				}
			})
		})
		runFiles(t, &Config{Sequence: Sequence{Seed: seed}}, f)
		return l.all()
	}

	first := order(true, 42)
	second := order(true, 42)
	assert.Equal(t, first, second)
	assert.ElementsMatch(t, names, first)

	assert.Equal(t, names, order(false, 42))
	assert.Equal(t, names, order(false, 7))
}

func TestRunner_SuiteHookSequences(t *testing.T) {
	build := func(l *recorder) *task.File {
		return collectFile(t, func(c *collect.Collector) {
			for _, h := range []string{"h1", "h2"} {
				c.BeforeAll(func(ctx context.Context, s *task.Suite) error {
					l.add("beforeAll " + h)
					return nil
				})
				c.AfterAll(func(ctx context.Context, s *task.Suite) error {
					l.add("afterAll " + h)
					return nil
				})
			}
			c.Test("test", func(tc *task.TestContext) error {
				l.add("test")
				return nil
			})
		})
	}

	tests := []struct {
		seq    hooks.Sequence
		expect []string
	}{
		{hooks.Stack, []string{"beforeAll h1", "beforeAll h2", "test", "afterAll h2", "afterAll h1"}},
		{hooks.List, []string{"beforeAll h1", "beforeAll h2", "test", "afterAll h1", "afterAll h2"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.seq), func(t *testing.T) {
			var l recorder
			f := build(&l)
			runFiles(t, &Config{Sequence: Sequence{Hooks: tt.seq}}, f)
			assert.Equal(t, tt.expect, l.all())
			assert.Equal(t, task.StatePass, f.Result.State)
			assert.Equal(t, map[string]task.State{"beforeAll": task.StatePass, "afterAll": task.StatePass}, f.Result.Hooks)
		})
	}
}

func TestRunner_EachHooksBracketFixtures(t *testing.T) {
	var l recorder
	set, err := fixture.NewSet(
		fixture.Func("db", nil, func(ctx context.Context, d fixture.Values) (any, fixture.Teardown, error) {
			l.add("setup db")
			return "db", func(ctx context.Context) error {
				l.add("teardown db")
				return nil
			}, nil
		}),
		fixture.Func("users", []string{"db"}, func(ctx context.Context, d fixture.Values) (any, fixture.Teardown, error) {
			l.add("setup users")
			return "users", func(ctx context.Context) error {
				l.add("teardown users")
				return nil
			}, nil
		}),
		fixture.Func("orders", []string{"db"}, func(ctx context.Context, d fixture.Values) (any, fixture.Teardown, error) {
			l.add("setup orders")
			return "orders", func(ctx context.Context) error {
				l.add("teardown orders")
				return nil
			}, nil
		}),
	)
	require.NoError(t, err)

	f := collectFile(t, func(c *collect.Collector) {
		c.Use(set)
		c.BeforeEach(func(tc *task.TestContext) error {
			l.add("outer beforeEach")
			return nil
		})
		c.AfterEach(func(tc *task.TestContext) error {
			l.add("outer afterEach")
			return nil
		})
		c.Describe("inner", func(c *collect.Collector) {
			c.BeforeEach(func(tc *task.TestContext) error {
				l.add("inner beforeEach")
				return nil
			})
			c.AfterEach(func(tc *task.TestContext) error {
				l.add("inner afterEach")
				return nil
			})
			c.Test("uses fixtures", func(tc *task.TestContext) error {
				l.add("body " + tc.Fixture("users").(string) + " " + tc.Fixture("orders").(string))
				return nil
			}, collect.Uses("users", "orders", "db"))
		})
	})

	runFiles(t, nil, f)

	res := testAt(f, 0, 0).Result
	assert.Equal(t, task.StatePass, res.State)
	assert.Equal(t, []string{
		"setup db", "setup users", "setup orders",
		"outer beforeEach", "inner beforeEach",
		"body users orders",
		"inner afterEach", "outer afterEach",
		"teardown orders", "teardown users", "teardown db",
	}, l.all())
	assert.Equal(t, map[string]task.State{"beforeEach": task.StatePass, "afterEach": task.StatePass}, res.Hooks)
}

func TestRunner_FixtureFailures(t *testing.T) {
	set, err := fixture.NewSet(
		fixture.Func("broken", nil, func(ctx context.Context, d fixture.Values) (any, fixture.Teardown, error) {
			return nil, nil, errors.New("cannot connect")
		}),
		fixture.Func("leaky", nil, func(ctx context.Context, d fixture.Values) (any, fixture.Teardown, error) {
			return 1, func(ctx context.Context) error { return errors.New("close failed") }, nil
		}),
	)
	require.NoError(t, err)

	bodyRan := false
	f := collectFile(t, func(c *collect.Collector) {
		c.Use(set)
		c.Test("construction", func(tc *task.TestContext) error {
			bodyRan = true
			return nil
		}, collect.Uses("broken"))
		c.Test("teardown", func(tc *task.TestContext) error {
			return errors.New("primary")
		}, collect.Uses("leaky"))
	})

	runFiles(t, nil, f)

	construction := testAt(f, 0).Result
	assert.False(t, bodyRan)
	assert.Equal(t, task.StateFail, construction.State)
	require.Len(t, construction.Errors, 1)
	assert.Equal(t, task.KindFixture, construction.Errors[0].Kind)
	assert.Contains(t, construction.Errors[0].Message, "cannot connect")

	teardown := testAt(f, 1).Result
	require.Len(t, teardown.Errors, 2)
	assert.Equal(t, "primary", teardown.Errors[0].Message)
	assert.Equal(t, task.KindTeardown, teardown.Errors[1].Kind)
	assert.Contains(t, teardown.Errors[1].Message, "close failed")
}

func TestRunner_Only(t *testing.T) {
	build := func(ran *recorder) *task.File {
		body := func(name string) task.TestFunc {
			return func(tc *task.TestContext) error {
				ran.add(name)
				return nil
			}
		}
		return collectFile(t, func(c *collect.Collector) {
			c.Test("plain", body("plain"))
			c.Only().Test("focused", body("focused"))
			c.Only().Describe("focused suite", func(c *collect.Collector) {
				c.Test("child", body("child"))
			})
			c.Describe("plain suite", func(c *collect.Collector) {
				c.Test("other", body("other"))
			})
		})
	}

	var ran recorder
	f := build(&ran)
	runFiles(t, nil, f)

	assert.ElementsMatch(t, []string{"focused", "child"}, ran.all())
	assert.Equal(t, task.StateSkip, testAt(f, 0).Result.State)
	assert.Equal(t, task.StatePass, testAt(f, 1).Result.State)
	assert.Equal(t, task.StatePass, testAt(f, 2, 0).Result.State)
	assert.Equal(t, task.StateSkip, f.Tasks[3].Common().Result.State)

	var forbidden recorder
	f = build(&forbidden)
	runFiles(t, &Config{ForbidOnly: true}, f)

	focused := testAt(f, 1).Result
	assert.Equal(t, task.StateFail, focused.State)
	assert.Equal(t, task.KindOnly, focused.Errors[0].Kind)
	assert.Equal(t, task.StateFail, f.Result.State)
}

func TestRunner_Filters(t *testing.T) {
	noop := func(tc *task.TestContext) error { return nil }
	build := func() *task.File {
		return collectFile(t, func(c *collect.Collector) {
			c.Describe("users", func(c *collect.Collector) {
				c.Test("create", noop, collect.Tags("smoke"))
				c.Test("delete", noop)
			})
			c.Test("orders list", noop, collect.Tags("slow"))
		})
	}

	f := build()
	runFiles(t, &Config{NameFilter: "users*"}, f)
	assert.Equal(t, task.StatePass, testAt(f, 0, 0).Result.State)
	assert.Equal(t, task.StatePass, testAt(f, 0, 1).Result.State)
	assert.Equal(t, task.StateSkip, testAt(f, 1).Result.State)

	f = build()
	runFiles(t, &Config{TagsFilter: []string{"slow"}}, f)
	assert.Equal(t, task.StateSkip, f.Tasks[0].Common().Result.State)
	assert.Equal(t, task.StatePass, testAt(f, 1).Result.State)

	f = build()
	runFiles(t, &Config{OnlyIDs: []string{f.Tasks[0].Common().ID}}, f)
	assert.Equal(t, task.StatePass, testAt(f, 0, 1).Result.State)
	assert.Equal(t, task.StateSkip, testAt(f, 1).Result.State)
}

func TestRunner_Timeout(t *testing.T) {
	var siblingDone atomic.Bool
	f := collectFile(t, func(c *collect.Collector) {
		c.Concurrent().Timeout(50*time.Millisecond).Test("stuck", func(tc *task.TestContext) error {
			<-tc.Context().Done()
			return tc.Context().Err()
		})
		c.Concurrent().Test("sibling", func(tc *task.TestContext) error {
			time.Sleep(100 * time.Millisecond)
			siblingDone.Store(true)
			return nil
		})
	})

	runFiles(t, nil, f)

	stuck := testAt(f, 0).Result
	assert.Equal(t, task.StateFail, stuck.State)
	require.NotEmpty(t, stuck.Errors)
	assert.Equal(t, task.KindTimeout, stuck.Errors[0].Kind)

	assert.True(t, siblingDone.Load())
	assert.Equal(t, task.StatePass, testAt(f, 1).Result.State)
}

func TestRunner_ConcurrentGroupBracketedBySuiteHooks(t *testing.T) {
	var l recorder
	var barrier sync.WaitGroup
	barrier.Add(2)
	wait := func(tc *task.TestContext) error {
		barrier.Done()
		done := make(chan struct{})
		go func() {
			barrier.Wait()
			close(done)
		}()
		select {
		case <-done:
			l.add("released")
			return nil
		case <-tc.Context().Done():
			return errors.New("sibling never started")
		}
	}

	f := collectFile(t, func(c *collect.Collector) {
		c.BeforeAll(func(ctx context.Context, s *task.Suite) error {
			l.add("beforeAll")
			return nil
		})
		c.AfterAll(func(ctx context.Context, s *task.Suite) error {
			l.add("afterAll")
			return nil
		})
		c.Concurrent().Test("a", wait)
		c.Concurrent().Test("b", wait)
	})

	runFiles(t, &Config{TestTimeout: time.Second}, f)

	assert.Equal(t, task.StatePass, testAt(f, 0).Result.State)
	assert.Equal(t, task.StatePass, testAt(f, 1).Result.State)
	assert.Equal(t, []string{"beforeAll", "released", "released", "afterAll"}, l.all())
}

func TestRunner_MaxConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	f := collectFile(t, func(c *collect.Collector) {
		for i := range 6 {
			c.Concurrent().Test(fmt.Sprintf("t%d", i), func(tc *task.TestContext) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}
	})

	runFiles(t, &Config{MaxConcurrency: 2}, f)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, test := range task.Tests(f) {
		assert.Equal(t, task.StatePass, test.Result.State)
	}
}

func TestRunner_BeforeAllFailure(t *testing.T) {
	afterAllRan := false
	bodyRan := false
	f := collectFile(t, func(c *collect.Collector) {
		c.Describe("broken setup", func(c *collect.Collector) {
			c.BeforeAll(func(ctx context.Context, s *task.Suite) error {
				return errors.New("database down")
			})
			c.AfterAll(func(ctx context.Context, s *task.Suite) error {
				afterAllRan = true
				return nil
			})
			c.Test("never runs", func(tc *task.TestContext) error {
				bodyRan = true
				return nil
			})
		})
		c.Test("sibling", func(tc *task.TestContext) error { return nil })
	})

	runFiles(t, nil, f)

	suite := f.Tasks[0].(*task.Suite)
	assert.False(t, bodyRan)
	assert.True(t, afterAllRan)
	assert.Equal(t, task.StateFail, suite.Result.State)
	assert.Equal(t, task.StateFail, suite.Result.Hooks["beforeAll"])
	assert.Equal(t, task.StatePass, suite.Result.Hooks["afterAll"])
	require.Len(t, suite.Result.Errors, 1)
	assert.Equal(t, "beforeAll", suite.Result.Errors[0].Name)

	child := testAt(f, 0, 0).Result
	assert.Equal(t, task.StateFail, child.State)
	assert.Contains(t, child.Errors[0].Message, "database down")

	assert.Equal(t, task.StatePass, testAt(f, 1).Result.State)
}

func TestRunner_AfterEachFailure(t *testing.T) {
	var l recorder
	f := collectFile(t, func(c *collect.Collector) {
		c.AfterEach(func(tc *task.TestContext) error {
			l.add("h1")
			return nil
		})
		c.AfterEach(func(tc *task.TestContext) error {
			l.add("h2")
			return errors.New("cleanup failed")
		})
		c.Test("body passes", func(tc *task.TestContext) error { return nil })
	})

	runFiles(t, nil, f)

	res := testAt(f, 0).Result
	assert.Equal(t, task.StateFail, res.State)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, task.KindHook, res.Errors[0].Kind)
	assert.Equal(t, "afterEach", res.Errors[0].Name)
	assert.Equal(t, task.StateFail, res.Hooks["afterEach"])
	assert.Equal(t, []string{"h2", "h1"}, l.all(), "stack order, and h1 still runs")
}

func TestRunner_SoftAndAsyncAssertions(t *testing.T) {
	f := collectFile(t, func(c *collect.Collector) {
		c.Test("soft", func(tc *task.TestContext) error {
			tc.Errorf("first %d", 1)
			tc.Errorf("second")
			return nil
		})
		c.Test("async", func(tc *task.TestContext) error {
			tc.Go(func() error {
				time.Sleep(10 * time.Millisecond)
				return errors.New("late failure")
			})
			tc.Go(func() error { return nil })
			return nil
		})
		c.Test("fatal", func(tc *task.TestContext) error {
			tc.Fatalf("stop here")
			return errors.New("unreachable")
		})
		c.Test("panics", func(tc *task.TestContext) error {
			panic("kaboom")
		})
	})

	runFiles(t, nil, f)

	soft := testAt(f, 0).Result
	require.Len(t, soft.Errors, 2)
	assert.Equal(t, "first 1", soft.Errors[0].Message)
	assert.Equal(t, "second", soft.Errors[1].Message)

	async := testAt(f, 1).Result
	assert.Equal(t, task.StateFail, async.State)
	require.Len(t, async.Errors, 1)
	assert.Equal(t, "late failure", async.Errors[0].Message)

	fatal := testAt(f, 2).Result
	require.Len(t, fatal.Errors, 1)
	assert.Equal(t, "stop here", fatal.Errors[0].Message)

	panics := testAt(f, 3).Result
	assert.Equal(t, task.StateFail, panics.State)
	assert.Equal(t, task.KindPanic, panics.Errors[0].Kind)
	assert.Contains(t, panics.Errors[0].Message, "kaboom")
}

func TestRunner_ResultHandlers(t *testing.T) {
	var l recorder
	f := collectFile(t, func(c *collect.Collector) {
		c.AfterEach(func(tc *task.TestContext) error {
			l.add("afterEach")
			return nil
		})
		c.Test("fails", func(tc *task.TestContext) error {
			tc.OnTestFailed(func(r *task.Result) error {
				l.add("failed " + string(r.State))
				return errors.New("handler broke")
			})
			tc.OnTestFinished(func(r *task.Result) error {
				l.add("finished 1")
				return nil
			})
			tc.OnTestFinished(func(r *task.Result) error {
				l.add("finished 2")
				return nil
			})
			return errors.New("body failed")
		})
		c.Test("passes", func(tc *task.TestContext) error {
			tc.OnTestFailed(func(r *task.Result) error {
				l.add("unexpected")
				return nil
			})
			return nil
		})
	})

	runFiles(t, nil, f)

	assert.Equal(t, []string{"failed fail", "finished 1", "finished 2", "afterEach", "afterEach"}, l.all())
	res := testAt(f, 0).Result
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "handler broke", res.Errors[1].Message)
	assert.Equal(t, task.StatePass, testAt(f, 1).Result.State)
}

func TestRunner_MissingFunction(t *testing.T) {
	build := func() *task.File {
		return collectFile(t, func(c *collect.Collector) {
			c.Test("bodiless", nil)
			c.Todo("later")
		})
	}

	f := build()
	assert.Equal(t, task.ModeRun, testAt(f, 0).Mode)
	runFiles(t, nil, f)
	res := testAt(f, 0).Result
	assert.Equal(t, task.StateFail, res.State)
	assert.Equal(t, task.KindMissingFn, res.Errors[0].Kind)

	f = build()
	var called string
	runFiles(t, &Config{RunTask: func(tc *task.TestContext) error {
		called = tc.Name()
		return nil
	}}, f)
	assert.Equal(t, "bodiless", called)
	assert.Equal(t, task.StatePass, testAt(f, 0).Result.State)
	assert.Equal(t, task.StateTodo, testAt(f, 1).Result.State, "todo never reaches RunTask")
}

func TestRunner_SuiteStates(t *testing.T) {
	f := collectFile(t, func(c *collect.Collector) {
		c.Describe("empty", func(c *collect.Collector) {})
		c.Describe("collection error", func(c *collect.Collector) {
			c.Test("collected", func(tc *task.TestContext) error { return nil })
			panic("bad factory")
		})
		c.Skip().Describe("skipped", func(c *collect.Collector) {
			c.Test("inner", func(tc *task.TestContext) error { return nil })
		})
		c.Todo("later")
	})

	runFiles(t, nil, f)

	empty := f.Tasks[0].(*task.Suite).Result
	assert.Equal(t, task.StateFail, empty.State)
	assert.Equal(t, "no test found in suite empty", empty.Errors[0].Message)

	broken := f.Tasks[1].(*task.Suite).Result
	assert.Equal(t, task.StateFail, broken.State)
	assert.Equal(t, task.KindCollection, broken.Errors[0].Kind)
	assert.Equal(t, task.StatePass, testAt(f, 1, 0).Result.State)

	assert.Equal(t, task.StateSkip, f.Tasks[2].Common().Result.State)
	assert.Equal(t, task.StateSkip, testAt(f, 2, 0).Result.State)
	assert.Equal(t, task.StateTodo, testAt(f, 3).Result.State)

	assert.Equal(t, task.StateFail, f.Result.State)
}

func TestRunner_Bail(t *testing.T) {
	ran := 0
	f := collectFile(t, func(c *collect.Collector) {
		c.Test("fails", func(tc *task.TestContext) error {
			ran++
			return errors.New("boom")
		})
		c.Test("after", func(tc *task.TestContext) error {
			ran++
			return nil
		})
	})

	runFiles(t, &Config{Bail: 1}, f)

	assert.Equal(t, 1, ran)
	after := testAt(f, 1).Result
	assert.Equal(t, task.StateSkip, after.State)
	assert.Equal(t, "bail threshold reached", after.Note)
}

func TestRunner_Cancelled(t *testing.T) {
	f := collectFile(t, func(c *collect.Collector) {
		c.Test("never", func(tc *task.TestContext) error { return nil })
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRunner(nil).RunFiles(ctx, []*task.File{f})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_HeapUsage(t *testing.T) {
	f := collectFile(t, func(c *collect.Collector) {
		c.Test("allocates", func(tc *task.TestContext) error { return nil })
	})
	runFiles(t, &Config{LogHeapUsage: true}, f)
	assert.NotZero(t, testAt(f, 0).Result.Heap)
}

type memReporter struct {
	mu        sync.Mutex
	collected []*task.File
	packs     []task.ResultPack
	finished  bool
	failWith  error
}

func (m *memReporter) OnCollected(ctx context.Context, files []*task.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collected = files
	return nil
}

func (m *memReporter) OnTaskUpdate(ctx context.Context, packs []task.ResultPack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packs = append(m.packs, packs...)
	return m.failWith
}

func (m *memReporter) OnFinished(ctx context.Context, files []*task.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
	return nil
}

func (m *memReporter) last(id string) *task.ResultPack {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.packs) - 1; i >= 0; i-- {
		if m.packs[i].ID == id {
			return &m.packs[i]
		}
	}
	return nil
}

func TestRunner_ResultStream(t *testing.T) {
	rep := &memReporter{}
	f := collectFile(t, func(c *collect.Collector) {
		c.With(collect.Retry(1)).Test("flaky", func(tc *task.TestContext) error {
			require.NoError(t, tc.SetMeta("attempted", true))
			return errors.New("always")
		})
	})

	runFiles(t, &Config{Reporters: []Reporter{rep}, UpdateInterval: time.Hour}, f)

	assert.Len(t, rep.collected, 1)
	assert.True(t, rep.finished)

	test := testAt(f, 0)
	pack := rep.last(test.ID)
	require.NotNil(t, pack)
	require.NotNil(t, pack.Result)
	assert.Equal(t, task.StateFail, pack.Result.State)
	assert.Equal(t, true, pack.Meta["attempted"])

	filePack := rep.last(f.ID)
	require.NotNil(t, filePack)
	assert.Equal(t, task.StateFail, filePack.Result.State)

	data, err := json.Marshal(pack)
	require.NoError(t, err)
	var decoded []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 3)
}

func TestRunner_ResultStreamNeverEndsOnStaleTerminalState(t *testing.T) {
	rep := &memReporter{}
	f := collectFile(t, func(c *collect.Collector) {
		c.With(collect.Retry(2)).Test("flaky", func(tc *task.TestContext) error {
			return errors.New("always")
		})
	})

	runFiles(t, &Config{Reporters: []Reporter{rep}}, f)

	id := testAt(f, 0).ID
	var states []task.State
	for _, p := range rep.packs {
		if p.ID == id && p.Result != nil {
			states = append(states, p.Result.State)
		}
	}
	require.NotEmpty(t, states)
	assert.Equal(t, task.StateFail, states[len(states)-1])
	for _, s := range states[:len(states)-1] {
		assert.Equal(t, task.StateRun, s)
	}
}

func TestRunner_ReporterErrors(t *testing.T) {
	rep := &memReporter{failWith: errors.New("disk full")}
	f := collectFile(t, func(c *collect.Collector) {
		c.Test("ok", func(tc *task.TestContext) error { return nil })
	})

	err := NewRunner(&Config{Reporters: []Reporter{rep}}).RunFiles(context.Background(), []*task.File{f})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, task.StatePass, testAt(f, 0).Result.State)
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name, pattern string
		expected      bool
	}{
		{"users > create", "", true},
		{"users > create", "*", true},
		{"users > create", "users*", true},
		{"users > create", "*create", true},
		{"users > create", "*> cr*", true},
		{"users > create", "orders*", false},
		{"users > create", "users > create", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.expected, matchesPattern(tt.name, tt.pattern))
		})
	}
}

func TestPartition(t *testing.T) {
	mk := func(concurrent bool) task.Task {
		return &task.Test{Base: task.Base{Concurrent: concurrent}}
	}
	groups := partition([]task.Task{mk(false), mk(true), mk(true), mk(false), mk(false), mk(true)})
	sizes := make([]int, len(groups))
	for i, g := range groups {
		sizes[i] = len(g)
	}
	assert.Equal(t, []int{1, 2, 2, 1}, sizes)
}

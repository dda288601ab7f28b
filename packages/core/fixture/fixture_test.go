package fixture

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logged builds a setup that records construction and teardown in log.
func logged(log *[]string, name string, value func(Values) any) SetupFunc {
	return func(ctx context.Context, deps Values) (any, Teardown, error) {
		*log = append(*log, "setup "+name)
		return value(deps), func(ctx context.Context) error {
			*log = append(*log, "teardown "+name)
			return nil
		}, nil
	}
}

func TestScope_DiamondBuiltOnceAndTornDownInReverse(t *testing.T) {
	var log []string
	set, err := NewSet(
		Func("db", nil, logged(&log, "db", func(Values) any { return "db" })),
		Func("users", []string{"db"}, logged(&log, "users", func(d Values) any { return d["db"].(string) + "/users" })),
		Func("orders", []string{"db"}, logged(&log, "orders", func(d Values) any { return d["db"].(string) + "/orders" })),
	)
	require.NoError(t, err)

	sc, err := set.Resolve(context.Background(), []string{"users", "orders", "db"})
	require.NoError(t, err)

	values := sc.Values()
	assert.Equal(t, "db/users", values["users"])
	assert.Equal(t, "db/orders", values["orders"])
	assert.Equal(t, []string{"db", "users", "orders"}, sc.Order())

	errs := sc.Teardown(context.Background())
	assert.Empty(t, errs)
	assert.Equal(t, []string{
		"setup db", "setup users", "setup orders",
		"teardown orders", "teardown users", "teardown db",
	}, log)

	assert.Nil(t, sc.Teardown(context.Background()), "second teardown is a no-op")
}

func TestSet_CycleRejectedBeforeConstruction(t *testing.T) {
	calls := 0
	setup := func(ctx context.Context, deps Values) (any, Teardown, error) {
		calls++
		return nil, nil, nil
	}

	_, err := NewSet(
		Func("a", []string{"b"}, setup),
		Func("b", []string{"a"}, setup),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Zero(t, calls)
}

func TestSet_UnknownDependency(t *testing.T) {
	_, err := NewSet(Func("a", []string{"missing"}, nil))
	assert.ErrorIs(t, err, ErrUnknownFixture)

	set, err := NewSet(Value("a", 1))
	require.NoError(t, err)
	_, err = set.Resolve(context.Background(), []string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownFixture)
}

func TestScope_SetupFailureKeepsEarlierFixturesForTeardown(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	set, err := NewSet(
		Func("first", nil, logged(&log, "first", func(Values) any { return 1 })),
		Func("second", []string{"first"}, func(ctx context.Context, deps Values) (any, Teardown, error) {
			return nil, nil, boom
		}),
	)
	require.NoError(t, err)

	sc, err := set.Resolve(context.Background(), []string{"second"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `fixture "second"`)

	sc.Teardown(context.Background())
	assert.Equal(t, []string{"setup first", "teardown first"}, log)
}

func TestScope_TeardownFailuresDoNotStopOthers(t *testing.T) {
	var log []string
	failing := func(name string) SetupFunc {
		return func(ctx context.Context, deps Values) (any, Teardown, error) {
			return name, func(ctx context.Context) error {
				log = append(log, name)
				return fmt.Errorf("%s broke", name)
			}, nil
		}
	}
	set, err := NewSet(
		Func("a", nil, failing("a")),
		Func("b", []string{"a"}, failing("b")),
	)
	require.NoError(t, err)

	sc, err := set.Resolve(context.Background(), []string{"b"})
	require.NoError(t, err)

	errs := sc.Teardown(context.Background())
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "b broke")
	assert.Contains(t, errs[1].Error(), "a broke")
	assert.Equal(t, []string{"b", "a"}, log)
}

func TestScope_AutoFixtures(t *testing.T) {
	t.Run("built without reference", func(t *testing.T) {
		built := false
		set, err := NewSet(
			Value("plain", 1),
			Func("auto", nil, func(ctx context.Context, deps Values) (any, Teardown, error) {
				built = true
				return "on", nil, nil
			}, Auto()),
		)
		require.NoError(t, err)

		sc, err := set.Resolve(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, built)
		assert.Equal(t, Values{"auto": "on"}, sc.Values())
	})

	t.Run("failure aborts resolution", func(t *testing.T) {
		set, err := NewSet(
			Func("auto", nil, func(ctx context.Context, deps Values) (any, Teardown, error) {
				return nil, nil, errors.New("auto failed")
			}, Auto()),
		)
		require.NoError(t, err)

		_, err = set.Resolve(context.Background(), nil)
		assert.ErrorContains(t, err, "auto failed")
	})
}

func TestSet_Extend(t *testing.T) {
	base, err := NewSet(
		Value("greeting", "hello"),
		Value("name", "world"),
		Func("message", []string{"greeting", "name"}, func(ctx context.Context, d Values) (any, Teardown, error) {
			return d["greeting"].(string) + " " + d["name"].(string), nil, nil
		}),
	)
	require.NoError(t, err)

	t.Run("literal override replaces outer value", func(t *testing.T) {
		child, err := base.Extend(Value("name", "gopher"))
		require.NoError(t, err)

		sc, err := child.Resolve(context.Background(), []string{"message"})
		require.NoError(t, err)
		assert.Equal(t, "hello gopher", sc.Values()["message"])
	})

	t.Run("function override retains outer value through its own name", func(t *testing.T) {
		child, err := base.Extend(Func("name", []string{"name"}, func(ctx context.Context, d Values) (any, Teardown, error) {
			return "big " + d["name"].(string), nil, nil
		}))
		require.NoError(t, err)

		sc, err := child.Resolve(context.Background(), []string{"message", "name"})
		require.NoError(t, err)
		assert.Equal(t, "hello big world", sc.Values()["message"])
		assert.Equal(t, "big world", sc.Values()["name"])
	})

	t.Run("function override without retention never sees outer value", func(t *testing.T) {
		child, err := base.Extend(Func("name", nil, func(ctx context.Context, d Values) (any, Teardown, error) {
			_, seen := d["name"]
			assert.False(t, seen)
			return "fresh", nil, nil
		}))
		require.NoError(t, err)

		sc, err := child.Resolve(context.Background(), []string{"name"})
		require.NoError(t, err)
		assert.Equal(t, "fresh", sc.Values()["name"])
	})

	t.Run("parent set untouched", func(t *testing.T) {
		_, err := base.Extend(Value("name", "other"))
		require.NoError(t, err)

		sc, err := base.Resolve(context.Background(), []string{"name"})
		require.NoError(t, err)
		assert.Equal(t, "world", sc.Values()["name"])
	})

	t.Run("self reference without outer fixture", func(t *testing.T) {
		_, err := base.Extend(Func("fresh", []string{"fresh"}, nil))
		assert.ErrorIs(t, err, ErrCycle)
	})
}

func TestScope_ClosedScopeTearsDownLateSetup(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	tornDown := make(chan struct{})
	set, err := NewSet(Func("slow", nil, func(ctx context.Context, d Values) (any, Teardown, error) {
		close(started)
		<-release
		return 1, func(ctx context.Context) error {
			close(tornDown)
			return nil
		}, nil
	}))
	require.NoError(t, err)

	sc := set.Scope()
	done := make(chan error, 1)
	go func() { done <- sc.Resolve(context.Background(), []string{"slow"}) }()
	<-started

	assert.Empty(t, sc.Teardown(context.Background()))
	close(release)

	assert.ErrorIs(t, <-done, ErrScopeClosed)
	<-tornDown
}

func TestScope_LateSetupTeardownErrorIsReturned(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	closeErr := errors.New("socket already closed")
	set, err := NewSet(Func("conn", nil, func(ctx context.Context, d Values) (any, Teardown, error) {
		close(started)
		<-release
		return "conn", func(ctx context.Context) error { return closeErr }, nil
	}))
	require.NoError(t, err)

	sc := set.Scope()
	done := make(chan error, 1)
	go func() { done <- sc.Resolve(context.Background(), []string{"conn"}) }()
	<-started

	assert.Empty(t, sc.Teardown(context.Background()))
	close(release)

	err = <-done
	assert.ErrorIs(t, err, ErrScopeClosed)
	assert.ErrorIs(t, err, closeErr)
	assert.Contains(t, err.Error(), `fixture "conn" teardown`)
}

func TestGet(t *testing.T) {
	v := Values{"n": 3, "s": "x"}

	n, ok := Get[int](v, "n")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = Get[int](v, "s")
	assert.False(t, ok)

	assert.Panics(t, func() { MustGet[string](v, "missing") })
}

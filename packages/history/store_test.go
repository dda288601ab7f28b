package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/collect"
	"github.com/abdul-hamid-achik/hitrun/packages/core/runner"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collectSample(t *testing.T) *task.File {
	t.Helper()
	f, err := collect.Collect(context.Background(), "/proj/api_test.go", collect.Options{Root: "/proj"}, func(c *collect.Collector) {
		c.Test("a", func(tc *task.TestContext) error { return nil })
		c.Test("b", func(tc *task.TestContext) error { return errors.New("b broke") })
		c.Describe("group", func(c *collect.Collector) {
			c.Test("c", func(tc *task.TestContext) error {
				if err := tc.SetMeta("owner", "team-x"); err != nil {
					return err
				}
				return errors.New("c broke")
			})
		})
		c.Skip().Test("d", func(tc *task.TestContext) error { return nil })
	})
	require.NoError(t, err)
	return f
}

func record(t *testing.T, s *Store, cfg runner.Config) *task.File {
	t.Helper()
	f := collectSample(t)
	cfg.Reporters = []runner.Reporter{s}
	require.NoError(t, runner.NewRunner(&cfg).RunFile(context.Background(), f))
	return f
}

func TestStore_RecordsRun(t *testing.T) {
	s := openStore(t)
	f := record(t, s, runner.Config{})

	runs, err := s.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, s.RunID(), run.ID)
	assert.Equal(t, task.StateFail, run.State)
	assert.Equal(t, 4, run.Total)
	assert.Equal(t, 1, run.Passed)
	assert.Equal(t, 2, run.Failed)
	assert.Equal(t, 1, run.Skipped)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	ids, err := s.FailedIDs(context.Background(), "")
	require.NoError(t, err)
	b := f.Tasks[1].(*task.Test)
	c := f.Tasks[2].(*task.Suite).Tasks[0].(*task.Test)
	assert.Equal(t, []string{b.ID, c.ID}, ids)
}

func TestStore_Tests(t *testing.T) {
	s := openStore(t)
	record(t, s, runner.Config{})
	ctx := context.Background()

	all, err := s.Tests(ctx, "", Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a", all[0].FullName)
	assert.Equal(t, "api_test.go", all[0].File)
	assert.Equal(t, task.StatePass, all[0].State)

	failed, err := s.Tests(ctx, "", Filter{State: task.StateFail})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	require.Len(t, failed[0].Errors, 1)
	assert.Equal(t, task.KindAssertion, failed[0].Errors[0].Kind)
	assert.Equal(t, "b broke", failed[0].Errors[0].Message)

	owned, err := s.Tests(ctx, "", Filter{Meta: "owner"})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "group > c", owned[0].FullName)
	assert.Equal(t, "team-x", owned[0].Meta.Get("owner").String())
}

func TestStore_LoadFiles(t *testing.T) {
	s := openStore(t)
	orig := record(t, s, runner.Config{})

	files, err := s.LoadFiles(context.Background(), s.RunID())
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	assert.True(t, f.Local)
	assert.Equal(t, orig.ID, f.ID)
	assert.Equal(t, "/proj/api_test.go", f.Filepath)
	assert.Equal(t, task.StateFail, f.Result.State)
	require.Len(t, f.Tasks, 4)

	group, ok := f.Tasks[2].(*task.Suite)
	require.True(t, ok)
	require.Len(t, group.Tasks, 1)
	c := group.Tasks[0].(*task.Test)
	assert.Equal(t, "group > c", task.FullName(c))
	assert.Same(t, f, c.File)
	assert.Equal(t, task.StateFail, c.Result.State)
	v, ok := c.Meta.Get("owner")
	require.True(t, ok)
	assert.Equal(t, "team-x", v)

	d := f.Tasks[3].(*task.Test)
	assert.Equal(t, task.ModeSkip, d.Mode)
	assert.Equal(t, task.StateSkip, d.Result.State)

	origTests := task.Tests(orig)
	for i, tt := range task.Tests(f) {
		assert.Equal(t, origTests[i].ID, tt.ID)
		assert.Equal(t, origTests[i].Result.State, tt.Result.State)
	}
}

func TestStore_RerunFailed(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	record(t, s, runner.Config{})
	first := s.RunID()

	ids, err := s.FailedIDs(ctx, first)
	require.NoError(t, err)

	rerun := record(t, s, runner.Config{OnlyIDs: ids})
	assert.NotEqual(t, first, s.RunID())

	tests := task.Tests(rerun)
	assert.Equal(t, task.StateSkip, tests[0].Result.State, "passing test is not rerun")
	assert.Equal(t, task.StateFail, tests[1].Result.State)
	assert.Equal(t, task.StateFail, tests[2].Result.State)

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, s.RunID(), runs[0].ID)

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runs[0], latest)

	limited, err := s.Runs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Empty(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)
	_, err = s.FailedIDs(ctx, "")
	assert.ErrorIs(t, err, ErrNoRuns)
	_, err = s.LoadFiles(ctx, "")
	assert.ErrorIs(t, err, ErrNoRuns)
	_, err = s.LoadFiles(ctx, "missing-run")
	assert.ErrorIs(t, err, ErrNoRuns)

	assert.Error(t, s.OnTaskUpdate(ctx, []task.ResultPack{{ID: "x"}}))
	assert.Error(t, s.OnFinished(ctx, nil))
}

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "sqlite://runs.db", want: "runs.db?_foreign_keys=on&_busy_timeout=5000"},
		{in: "sqlite:./runs.db", want: "./runs.db?_foreign_keys=on&_busy_timeout=5000"},
		{in: " history.db ", want: "history.db?_foreign_keys=on&_busy_timeout=5000"},
		{in: ":memory:", want: ":memory:"},
		{in: "file:runs.db?mode=ro", want: "file:runs.db?mode=ro"},
		{in: "postgres://localhost/db", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseConnectionString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	record(t, s, runner.Config{})

	ids, err := s.FailedIDs(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestStore_GetRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	record(t, s, runner.Config{})

	latest, err := s.GetRun(ctx, "")
	require.NoError(t, err)
	byID, err := s.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, latest, byID)
	assert.GreaterOrEqual(t, byID.Duration(), time.Duration(0))

	_, err = s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoRuns)
	assert.Zero(t, Run{StartedAt: time.Now()}.Duration())
}

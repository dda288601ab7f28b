package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/abdul-hamid-achik/hitrun/packages/core/collect"
	"github.com/abdul-hamid-achik/hitrun/packages/core/config"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/abdul-hamid-achik/hitrun/packages/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func suites(fail *bool) []Suite {
	return []Suite{
		{Path: "/proj/users_test.go", Factory: func(c *collect.Collector) {
			c.Test("lists", func(tc *task.TestContext) error { return nil })
			c.Test("creates", func(tc *task.TestContext) error {
				if *fail {
					return errors.New("duplicate email")
				}
				return nil
			})
		}},
		{Path: "/proj/health_test.go", Factory: func(c *collect.Collector) {
			c.Test("pings", func(tc *task.TestContext) error { return nil })
		}},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Root = "/proj"
	cfg.NoColor = config.BoolPtr(true)
	return cfg
}

func TestRegister(t *testing.T) {
	before := len(Registered())
	Register("/proj/reg_test.go", func(c *collect.Collector) {})
	got := Registered()
	require.Len(t, got, before+1)
	assert.Equal(t, "/proj/reg_test.go", got[len(got)-1].Path)

	got[len(got)-1].Path = "mutated"
	assert.Equal(t, "/proj/reg_test.go", Registered()[before].Path)
}

func TestRun_Console(t *testing.T) {
	fail := true
	var buf bytes.Buffer
	res, err := Run(context.Background(), suites(&fail), Options{Config: testConfig(), Out: &buf})
	require.NoError(t, err)

	assert.Len(t, res.Files, 2)
	assert.Equal(t, 3, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.False(t, res.Summary.Success())
	assert.Empty(t, res.RunID)
	assert.Contains(t, buf.String(), "✗ creates")
	assert.Contains(t, buf.String(), "duplicate email")
}

func TestRun_NoSuites(t *testing.T) {
	_, err := Run(context.Background(), nil, Options{Config: testConfig()})
	assert.Error(t, err)
}

func TestRun_BadSequence(t *testing.T) {
	fail := false
	cfg := testConfig()
	cfg.Sequence.Hooks = "sideways"
	_, err := Run(context.Background(), suites(&fail), Options{Config: cfg})
	assert.Error(t, err)
}

func TestRun_OutputDir(t *testing.T) {
	fail := false
	cfg := testConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Reporters = []string{"json", "junit"}

	res, err := Run(context.Background(), suites(&fail), Options{Config: cfg})
	require.NoError(t, err)
	assert.True(t, res.Summary.Success())

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "hitrun-json.json"))
	require.NoError(t, err)
	var out struct {
		Summary struct {
			Total  int `json:"total"`
			Passed int `json:"passed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 3, out.Summary.Total)
	assert.Equal(t, 3, out.Summary.Passed)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "hitrun-junit.xml"))
}

func TestRun_HistoryAndRerunFailed(t *testing.T) {
	fail := true
	cfg := testConfig()
	cfg.History = filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	first, err := Run(ctx, suites(&fail), Options{Config: cfg, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NotEmpty(t, first.RunID)

	fail = false
	second, err := Run(ctx, suites(&fail), Options{Config: cfg, Out: &bytes.Buffer{}, Failed: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 1, second.Summary.Passed, "only the failed test runs")
	assert.Equal(t, 2, second.Summary.Skipped)
	assert.True(t, second.Summary.Success())

	_, err = Run(ctx, suites(&fail), Options{Config: cfg, Out: &bytes.Buffer{}, Failed: true})
	assert.ErrorIs(t, err, ErrNothingFailed)

	store, err := history.Open(cfg.History)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRun_FailedNeedsHistory(t *testing.T) {
	fail := false
	_, err := Run(context.Background(), suites(&fail), Options{Config: testConfig(), Failed: true})
	assert.Error(t, err)
}

func TestRun_MetricsAndTracing(t *testing.T) {
	fail := false
	cfg := testConfig()
	cfg.Metrics = "127.0.0.1:0"
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	res, err := Run(context.Background(), suites(&fail), Options{Config: cfg, Out: &bytes.Buffer{}, Tracer: tp})
	require.NoError(t, err)
	assert.True(t, res.Summary.Success())

	// run + 2 files + 3 tests
	assert.Len(t, exp.GetSpans(), 6)
}

func TestRun_Notify(t *testing.T) {
	var (
		mu    sync.Mutex
		posts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		posts = append(posts, string(body))
		mu.Unlock()
	}))
	defer srv.Close()

	fail := true
	cfg := testConfig()
	cfg.History = filepath.Join(t.TempDir(), "runs.db")
	cfg.Notify = config.Notify{On: "recovery", SlackWebhook: srv.URL}
	ctx := context.Background()

	_, err := Run(ctx, suites(&fail), Options{Config: cfg, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	fail = false
	_, err = Run(ctx, suites(&fail), Options{Config: cfg, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	_, err = Run(ctx, suites(&fail), Options{Config: cfg, Out: &bytes.Buffer{}})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, posts, 2, "a failure and the recovery")
	assert.Contains(t, posts[0], "1 test(s) failed")
	assert.Contains(t, posts[1], "Tests recovered!")
}

func TestRun_NotifyBadPolicy(t *testing.T) {
	fail := false
	cfg := testConfig()
	cfg.Notify = config.Notify{On: "sometimes", TeamsWebhook: "http://127.0.0.1:1"}
	_, err := Run(context.Background(), suites(&fail), Options{Config: cfg})
	assert.Error(t, err)
}

// Package history records runs in a SQLite database. A Store is a
// runner reporter; the recorded results feed "rerun failed" through
// stable task ids and let reporters render past runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/google/uuid"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrNoRuns is returned when the store holds no run to answer from.
var ErrNoRuns = errors.New("no recorded runs")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	state       TEXT NOT NULL DEFAULT 'run',
	total       INTEGER NOT NULL DEFAULT 0,
	passed      INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tasks (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	id        TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	parent_id TEXT,
	file_id   TEXT NOT NULL,
	type      TEXT NOT NULL,
	name      TEXT NOT NULL,
	full_name TEXT NOT NULL,
	mode      TEXT NOT NULL,
	filepath  TEXT,
	project   TEXT,
	PRIMARY KEY (run_id, id)
);
CREATE TABLE IF NOT EXISTS results (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	task_id      TEXT NOT NULL,
	state        TEXT,
	duration_us  INTEGER NOT NULL DEFAULT 0,
	started_at   INTEGER NOT NULL DEFAULT 0,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	repeat_count INTEGER NOT NULL DEFAULT 0,
	note         TEXT NOT NULL DEFAULT '',
	errors       TEXT NOT NULL DEFAULT '[]',
	hooks        TEXT NOT NULL DEFAULT '{}',
	meta         TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, task_id)
);
CREATE INDEX IF NOT EXISTS runs_started ON runs(started_at);
`

// Run summarizes one recorded run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	State      task.State
	Total      int
	Passed     int
	Failed     int
	Skipped    int
}

// Store is a SQLite backed run history.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	runID string
}

// Open opens (and creates if needed) the history database. Supported
// forms are "sqlite://path", "sqlite:path" and a plain file path.
func Open(connectionString string) (*Store, error) {
	dsn, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunID returns the id of the run being recorded, if any.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

func parseConnectionString(connStr string) (string, error) {
	connStr = strings.TrimSpace(connStr)
	switch {
	case connStr == "":
		return "", errors.New("empty history database path")
	case strings.HasPrefix(connStr, "sqlite://"):
		connStr = strings.TrimPrefix(connStr, "sqlite://")
	case strings.HasPrefix(connStr, "sqlite:"):
		connStr = strings.TrimPrefix(connStr, "sqlite:")
	case strings.Contains(connStr, "://"):
		return "", fmt.Errorf("unsupported database scheme: %s", connStr[:strings.Index(connStr, "://")])
	}
	if connStr == ":memory:" || strings.Contains(connStr, "?") {
		return connStr, nil
	}
	return connStr + "?_foreign_keys=on&_busy_timeout=5000", nil
}

// OnCollected starts a new run and records the collected tree.
func (s *Store) OnCollected(ctx context.Context, files []*task.File) error {
	runID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO runs (id, started_at) VALUES (?, ?)`, runID, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks
		(run_id, id, seq, parent_id, file_id, type, name, full_name, mode, filepath, project)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	seq := 0
	for _, f := range files {
		var insertErr error
		task.Walk(f, func(n task.Task) bool {
			b := n.Common()
			var parent, path, project any
			if b.Suite != nil {
				parent = parentID(b)
			}
			if n.Type() == task.TypeFile {
				path, project = f.Filepath, f.ProjectName
			}
			_, insertErr = stmt.ExecContext(ctx, runID, b.ID, seq, parent, f.ID, string(n.Type()),
				b.Name, task.FullName(n), string(b.Mode), path, project)
			seq++
			return insertErr == nil
		})
		if insertErr != nil {
			return fmt.Errorf("insert task: %w", insertErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()
	return nil
}

// parentID is the id of the parent task. The file's own suite shares
// the file id.
func parentID(b *task.Base) string {
	if b.Suite.Suite == nil && b.File != nil {
		return b.File.ID
	}
	return b.Suite.ID
}

// OnTaskUpdate upserts the latest result of every pack.
func (s *Store) OnTaskUpdate(ctx context.Context, packs []task.ResultPack) error {
	runID := s.RunID()
	if runID == "" {
		return errors.New("history: update before collection")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results
		(run_id, task_id, state, duration_us, started_at, retry_count, repeat_count, note, errors, hooks, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, task_id) DO UPDATE SET
			state = excluded.state,
			duration_us = excluded.duration_us,
			started_at = excluded.started_at,
			retry_count = excluded.retry_count,
			repeat_count = excluded.repeat_count,
			note = excluded.note,
			errors = excluded.errors,
			hooks = excluded.hooks,
			meta = excluded.meta`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range packs {
		meta, err := json.Marshal(p.Meta)
		if err != nil {
			return fmt.Errorf("encode meta of %s: %w", p.ID, err)
		}
		if p.Meta == nil {
			meta = []byte("{}")
		}

		var (
			state      any
			dur, start int64
			retries    int
			repeats    int
			note       string
			errs       = []byte("[]")
			hooks      = []byte("{}")
		)
		if r := p.Result; r != nil {
			state = string(r.State)
			dur = r.Duration.Microseconds()
			if !r.StartTime.IsZero() {
				start = r.StartTime.UnixNano()
			}
			retries, repeats, note = r.RetryCount, r.RepeatCount, r.Note
			if len(r.Errors) > 0 {
				if errs, err = json.Marshal(r.Errors); err != nil {
					return fmt.Errorf("encode errors of %s: %w", p.ID, err)
				}
			}
			if len(r.Hooks) > 0 {
				if hooks, err = json.Marshal(r.Hooks); err != nil {
					return fmt.Errorf("encode hooks of %s: %w", p.ID, err)
				}
			}
		}

		if _, err := stmt.ExecContext(ctx, runID, p.ID, state, dur, start, retries, repeats, note,
			string(errs), string(hooks), string(meta)); err != nil {
			return fmt.Errorf("upsert result of %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// OnFinished stores the run totals.
func (s *Store) OnFinished(ctx context.Context, files []*task.File) error {
	runID := s.RunID()
	if runID == "" {
		return errors.New("history: finish before collection")
	}

	var total, passed, failed, skipped int
	state := task.StatePass
	for _, f := range files {
		if task.HasFailed(f) {
			state = task.StateFail
		}
		for _, t := range task.Tests(f) {
			total++
			if t.Result == nil {
				continue
			}
			switch t.Result.State {
			case task.StatePass:
				passed++
			case task.StateFail:
				failed++
			case task.StateSkip, task.StateTodo:
				skipped++
			}
		}
	}

	_, err := s.db.ExecContext(ctx, `UPDATE runs SET finished_at = ?, state = ?, total = ?, passed = ?, failed = ?, skipped = ?
		WHERE id = ?`, time.Now().UnixNano(), string(state), total, passed, failed, skipped, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Runs lists recorded runs, newest first. A limit of zero or less
// returns all of them.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, state, total, passed, failed, skipped
		FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			state    string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &state, &r.Total, &r.Passed, &r.Failed, &r.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}
		r.State = task.State(state)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recent run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	runs, err := s.Runs(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	return runs[0], nil
}

// GetRun returns one run, the latest when runID is empty.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	if runID == "" {
		return s.LatestRun(ctx)
	}
	var (
		r        Run
		started  int64
		finished sql.NullInt64
		state    string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, started_at, finished_at, state, total, passed, failed, skipped
		FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &started, &finished, &state, &r.Total, &r.Passed, &r.Failed, &r.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNoRuns)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query failed: %w", err)
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	r.State = task.State(state)
	return r, nil
}

// Duration is the wall time of a finished run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// resolve maps an empty run id to the latest run.
func (s *Store) resolve(ctx context.Context, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	run, err := s.LatestRun(ctx)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// FailedIDs returns the ids of the tests that failed in a run (the
// latest when runID is empty), in tree order.
func (s *Store) FailedIDs(ctx context.Context, runID string) ([]string, error) {
	runID, err := s.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT t.id FROM tasks t
		JOIN results r ON r.run_id = t.run_id AND r.task_id = t.id
		WHERE t.run_id = ? AND t.type = ? AND r.state = ?
		ORDER BY t.seq`, runID, string(task.TypeTest), string(task.StateFail))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

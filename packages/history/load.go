package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/tidwall/gjson"
)

// Record is one stored test result.
type Record struct {
	TaskID      string
	File        string
	FullName    string
	State       task.State
	Duration    time.Duration
	RetryCount  int
	RepeatCount int
	Note        string
	Errors      []*task.Error
	// Meta is the raw meta JSON; query it with gjson paths.
	Meta gjson.Result
}

// Filter narrows Tests. Empty fields match everything.
type Filter struct {
	State task.State
	// Meta is a gjson path that must exist in the test's meta, e.g.
	// "owner" or "ticket.id".
	Meta string
}

// Tests returns the stored test results of a run (the latest when runID
// is empty) in tree order.
func (s *Store) Tests(ctx context.Context, runID string, filter Filter) ([]Record, error) {
	runID, err := s.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT t.id, f.name, t.full_name,
			r.state, r.duration_us, r.retry_count, r.repeat_count, r.note, r.errors, r.meta
		FROM tasks t
		JOIN tasks f ON f.run_id = t.run_id AND f.id = t.file_id
		JOIN results r ON r.run_id = t.run_id AND r.task_id = t.id
		WHERE t.run_id = ? AND t.type = ?
		ORDER BY t.seq`, runID, string(task.TypeTest))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			state      sql.NullString
			dur        int64
			errs, meta string
		)
		if err := rows.Scan(&rec.TaskID, &rec.File, &rec.FullName, &state, &dur,
			&rec.RetryCount, &rec.RepeatCount, &rec.Note, &errs, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.State = task.State(state.String)
		rec.Duration = time.Duration(dur) * time.Microsecond
		rec.Errors = decodeErrors(errs)
		rec.Meta = gjson.Parse(meta)

		if filter.State != "" && rec.State != filter.State {
			continue
		}
		if filter.Meta != "" && !rec.Meta.Get(filter.Meta).Exists() {
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// LoadFiles rebuilds the task trees of a run (the latest when runID is
// empty) with their stored results. The files are marked Local since
// nothing was executed to produce them.
func (s *Store) LoadFiles(ctx context.Context, runID string) ([]*task.File, error) {
	runID, err := s.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT t.id, t.parent_id, t.type, t.name, t.mode,
			t.filepath, t.project, r.state, r.duration_us, r.started_at,
			r.retry_count, r.repeat_count, r.note, r.errors, r.hooks, r.meta
		FROM tasks t
		LEFT JOIN results r ON r.run_id = t.run_id AND r.task_id = t.id
		WHERE t.run_id = ?
		ORDER BY t.seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var files []*task.File
	suites := map[string]*task.Suite{}

	for rows.Next() {
		var (
			id, typ, name, mode         string
			parent, path, project       sql.NullString
			state, note                 sql.NullString
			errs, hooks, meta           sql.NullString
			dur, start, retries, repeat sql.NullInt64
		)
		if err := rows.Scan(&id, &parent, &typ, &name, &mode, &path, &project,
			&state, &dur, &start, &retries, &repeat, &note, &errs, &hooks, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		base := task.Base{
			ID:   id,
			Name: name,
			Mode: task.Mode(mode),
			Meta: decodeMeta(meta.String),
		}
		if state.Valid {
			base.Result = &task.Result{
				State:       task.State(state.String),
				Duration:    time.Duration(dur.Int64) * time.Microsecond,
				RetryCount:  int(retries.Int64),
				RepeatCount: int(repeat.Int64),
				Note:        note.String,
				Errors:      decodeErrors(errs.String),
				Hooks:       decodeHooks(hooks.String),
			}
			if start.Int64 != 0 {
				base.Result.StartTime = time.Unix(0, start.Int64)
			}
		}

		if task.Type(typ) == task.TypeFile {
			f := &task.File{Filepath: path.String, ProjectName: project.String, Local: true}
			f.Base = base
			f.File = f
			files = append(files, f)
			suites[id] = &f.Suite
			continue
		}

		owner, ok := suites[parent.String]
		if !ok {
			return nil, fmt.Errorf("task %s: unknown parent %q", id, parent.String)
		}
		base.Suite = owner
		base.File = owner.File

		switch task.Type(typ) {
		case task.TypeSuite:
			suite := &task.Suite{Base: base}
			suites[id] = suite
			owner.Tasks = append(owner.Tasks, suite)
		case task.TypeTest:
			owner.Tasks = append(owner.Tasks, &task.Test{Base: base})
		default:
			return nil, fmt.Errorf("task %s: unknown type %q", id, typ)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNoRuns)
	}
	return files, nil
}

func decodeErrors(raw string) []*task.Error {
	var out []*task.Error
	gjson.Parse(raw).ForEach(func(_, v gjson.Result) bool {
		out = append(out, &task.Error{
			Kind:    task.ErrorKind(v.Get("kind").String()),
			Name:    v.Get("name").String(),
			Message: v.Get("message").String(),
		})
		return true
	})
	return out
}

func decodeHooks(raw string) map[string]task.State {
	var out map[string]task.State
	gjson.Parse(raw).ForEach(func(k, v gjson.Result) bool {
		if out == nil {
			out = make(map[string]task.State)
		}
		out[k.String()] = task.State(v.String())
		return true
	})
	return out
}

func decodeMeta(raw string) *task.Meta {
	m := task.NewMeta()
	gjson.Parse(raw).ForEach(func(k, v gjson.Result) bool {
		_ = m.Set(k.String(), v.Value())
		return true
	})
	return m
}

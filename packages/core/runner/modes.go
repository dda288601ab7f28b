package runner

import (
	"errors"
	"slices"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

// ErrUnexpectedOnly is recorded on tasks marked only when only is
// forbidden.
var ErrUnexpectedOnly = errors.New("unexpected .only modifier, remove it or allow only")

// InterpretModes resolves the effective mode of every task in f before
// it runs. When any task in the file is marked only, non-only siblings
// are skipped and everything under an only suite runs. Filters skip
// tests they reject, and a running suite whose children all ended up
// not running is skipped as well.
func InterpretModes(f *task.File, cfg *Config) {
	if cfg == nil {
		cfg = &Config{}
	}
	m := &modeFilter{config: cfg}
	if len(cfg.OnlyIDs) > 0 {
		m.ids = make(map[string]bool, len(cfg.OnlyIDs))
		for _, id := range cfg.OnlyIDs {
			m.ids[id] = true
		}
	}
	m.interpret(&f.Suite, hasOnly(&f.Suite), false, m.ids == nil || m.ids[f.ID])
}

type modeFilter struct {
	config *Config
	ids    map[string]bool
}

func (m *modeFilter) interpret(s *task.Suite, onlyMode, parentIsOnly, parentSelected bool) {
	suiteIsOnly := parentIsOnly || s.Mode == task.ModeOnly

	for _, t := range s.Tasks {
		b := t.Common()
		include := suiteIsOnly || b.Mode == task.ModeOnly

		if onlyMode {
			sub, isSuite := t.(*task.Suite)
			switch {
			case isSuite && (include || hasOnly(sub)):
				if b.Mode == task.ModeOnly {
					m.allowOnly(b)
					b.Mode = task.ModeRun
				}
			case b.Mode == task.ModeRun && !include:
				b.Mode = task.ModeSkip
			case b.Mode == task.ModeOnly:
				m.allowOnly(b)
				b.Mode = task.ModeRun
			}
		}

		selected := parentSelected || m.ids[b.ID]
		switch v := t.(type) {
		case *task.Test:
			if v.Mode == task.ModeRun && !m.matches(v, selected) {
				v.Mode = task.ModeSkip
			}
		case *task.Suite:
			if v.Mode == task.ModeSkip || v.Mode == task.ModeTodo {
				skipAll(v, v.Mode)
			} else {
				m.interpret(v, onlyMode, include, selected)
			}
		}
	}

	if s.Mode == task.ModeRun && len(s.Tasks) > 0 {
		running := slices.ContainsFunc(s.Tasks, func(t task.Task) bool {
			return t.Common().Mode == task.ModeRun
		})
		if !running {
			s.Mode = task.ModeSkip
		}
	}
}

func (m *modeFilter) allowOnly(b *task.Base) {
	if !m.config.ForbidOnly {
		return
	}
	b.Result = &task.Result{State: task.StateFail}
	b.Result.Fail(task.KindOnly, ErrUnexpectedOnly)
}

func (m *modeFilter) matches(t *task.Test, selected bool) bool {
	if m.config.NameFilter != "" && !matchesPattern(task.FullName(t), m.config.NameFilter) {
		return false
	}
	if len(m.config.TagsFilter) > 0 && !hasAnyTag(t.Tags, m.config.TagsFilter) {
		return false
	}
	return selected
}

// skipAll forces mode onto every running descendant of s.
func skipAll(s *task.Suite, mode task.Mode) {
	for _, t := range s.Tasks {
		b := t.Common()
		if b.Mode == task.ModeRun || b.Mode == task.ModeOnly {
			b.Mode = mode
		}
		if sub, ok := t.(*task.Suite); ok {
			skipAll(sub, mode)
		}
	}
}

func hasOnly(s *task.Suite) bool {
	for _, t := range s.Tasks {
		if t.Common().Mode == task.ModeOnly {
			return true
		}
		if sub, ok := t.(*task.Suite); ok && hasOnly(sub) {
			return true
		}
	}
	return false
}

func matchesPattern(name, pattern string) bool {
	if pattern == "" {
		return true
	}

	if pattern[0] == '*' && pattern[len(pattern)-1] == '*' && len(pattern) > 1 {
		substr := pattern[1 : len(pattern)-1]
		for i := 0; i <= len(name)-len(substr); i++ {
			if name[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	}

	if pattern[0] == '*' {
		suffix := pattern[1:]
		return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
	}

	if pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(name) >= len(prefix) && name[:len(prefix)] == prefix
	}

	return name == pattern
}

func hasAnyTag(tags []string, filters []string) bool {
	for _, filter := range filters {
		for _, tag := range tags {
			if tag == filter {
				return true
			}
		}
	}
	return false
}

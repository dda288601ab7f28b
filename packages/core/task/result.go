package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// State is the state of a task result.
type State string

const (
	StateRun  State = "run"
	StatePass State = "pass"
	StateFail State = "fail"
	StateSkip State = "skip"
	StateTodo State = "todo"
)

// Terminal reports whether s is a finished state.
func (s State) Terminal() bool {
	return s == StatePass || s == StateFail || s == StateSkip || s == StateTodo
}

// StateOf maps a registration mode to the result state a task that is
// not executed ends in.
func StateOf(m Mode) State {
	switch m {
	case ModeSkip:
		return StateSkip
	case ModeTodo:
		return StateTodo
	default:
		return StateRun
	}
}

// Result is the outcome of the latest attempt of a task.
type Result struct {
	State     State            `json:"state"`
	Errors    []*Error         `json:"errors,omitempty"`
	Duration  time.Duration    `json:"duration"`
	StartTime time.Time        `json:"startTime"`
	Heap      uint64           `json:"heap,omitempty"`
	Hooks     map[string]State `json:"hooks,omitempty"`
	// RetryCount counts the retries consumed across all repeats.
	RetryCount int `json:"retryCount"`
	// RepeatCount is the index of the last repeat that ran.
	RepeatCount int    `json:"repeatCount"`
	Note        string `json:"note,omitempty"`
}

// Clone returns a deep copy suitable for handing to another goroutine.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Errors = slices.Clone(r.Errors)
	c.Hooks = maps.Clone(r.Hooks)
	return &c
}

// Fail appends err to the result and marks it failed.
func (r *Result) Fail(kind ErrorKind, err error) {
	r.State = StateFail
	r.Errors = append(r.Errors, Wrap(kind, err))
}

// ErrorKind classifies task errors.
type ErrorKind string

const (
	KindAssertion    ErrorKind = "assertion"
	KindCollection   ErrorKind = "collection"
	KindHook         ErrorKind = "hook"
	KindFixture      ErrorKind = "fixture"
	KindTeardown     ErrorKind = "teardown"
	KindTimeout      ErrorKind = "timeout"
	KindPanic        ErrorKind = "panic"
	KindMissingFn    ErrorKind = "missing_fn"
	KindExpectedFail ErrorKind = "expected_fail"
	KindOnly         ErrorKind = "only"
)

// Error is a serializable task error.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Name    string    `json:"name,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Name, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap converts err into an *Error of the given kind. An err that
// already is (or wraps) an *Error is returned unchanged.
func Wrap(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: err.Error(), Cause: errors.Unwrap(err)}
}

// ResultPack is the minimal serializable update for one task. It is
// encoded as a three element array: [id, result|null, meta].
type ResultPack struct {
	ID     string
	Result *Result
	Meta   map[string]any
}

// PackOf snapshots t into a ResultPack.
func PackOf(t Task) ResultPack {
	b := t.Common()
	return ResultPack{
		ID:     b.ID,
		Result: b.Result.Clone(),
		Meta:   b.Meta.Snapshot(),
	}
}

func (p ResultPack) MarshalJSON() ([]byte, error) {
	meta := p.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal([]any{p.ID, p.Result, meta})
}

func (p *ResultPack) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("result pack: expected 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return fmt.Errorf("result pack id: %w", err)
	}
	p.Result = nil
	if string(raw[1]) != "null" {
		p.Result = &Result{}
		if err := json.Unmarshal(raw[1], p.Result); err != nil {
			return fmt.Errorf("result pack result: %w", err)
		}
	}
	p.Meta = nil
	if err := json.Unmarshal(raw[2], &p.Meta); err != nil {
		return fmt.Errorf("result pack meta: %w", err)
	}
	return nil
}

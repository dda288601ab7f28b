package task

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// Meta is user-owned task metadata. It crosses process boundaries with
// every ResultPack, so values must be JSON-serializable. A nil *Meta is
// an empty, read-only bag.
type Meta struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewMeta() *Meta {
	return &Meta{values: make(map[string]any)}
}

// Set stores value under key. Values that cannot be encoded as JSON are
// rejected.
func (m *Meta) Set(key string, value any) error {
	if m == nil {
		return fmt.Errorf("meta: set %q on nil meta", key)
	}
	if _, err := json.Marshal(value); err != nil {
		return fmt.Errorf("meta: value for %q is not serializable: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Meta) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Meta) Delete(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// Snapshot returns a shallow copy of the bag.
func (m *Meta) Snapshot() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values)
}

func (m *Meta) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	values := make(map[string]any)
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = values
	return nil
}

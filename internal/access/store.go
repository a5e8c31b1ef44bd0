package access

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.yaml.in/yaml/v3"
)

// Key is the permission store entry listing enabled listeners.
const Key = "enabled_notification_listeners"

// Store is the host permission store.
type Store interface {
	Lookup(key string) (value string, ok bool, err error)
}

// MapStore is an in-memory Store.
type MapStore struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMapStore(init map[string]string) *MapStore {
	m := make(map[string]string, len(init))
	for k, v := range init {
		m[k] = v
	}
	return &MapStore{m: m}
}

func (s *MapStore) Lookup(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MapStore) Set(key, value string) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// FileStore reads a flat YAML mapping on every lookup, so edits to the file
// apply without a restart. A missing file is an empty store.
type FileStore struct {
	Path string
}

func (s FileStore) Lookup(key string) (string, bool, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("access: read %s: %w", s.Path, err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(b, &m); err != nil {
		return "", false, fmt.Errorf("access: parse %s: %w", s.Path, err)
	}
	v, ok := m[key]
	return v, ok, nil
}

// Package securestore persists small secrets, such as the PIN digest and the
// failed-attempt ledger, outside the application database.
package securestore

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// Store is a string key-value store. Write applies all of its changes or none.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(keys ...string) error
	Write(set map[string]string, del []string) error
}

// MemoryStore is an in-process Store, used by tests and dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) error {
	return s.Write(map[string]string{key: value}, nil)
}

// Delete removes keys. Missing keys are ignored.
func (s *MemoryStore) Delete(keys ...string) error {
	return s.Write(nil, keys)
}

// Write deletes del, then stores set.
func (s *MemoryStore) Write(set map[string]string, del []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range del {
		delete(s.values, k)
	}
	for k, v := range set {
		s.values[k] = v
	}
	return nil
}

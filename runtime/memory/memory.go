// Package memory provides the in-process key-value store that carries results
// between invocations of the same service instance. Each declared method may
// name a memorization label; after a successful call the serialized result is
// stored under that label and every later request built by the instance sees
// it in its memory snapshot.
//
// Writes are last-write-wins per label. Concurrent calls on the same instance
// are not ordered with respect to each other beyond that.
package memory

import (
	"maps"
	"sort"
	"sync"
)

// Store is a thread-safe label to value map. The zero value is not usable;
// construct stores with New.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// Put stores value under label, replacing any previous value.
func (s *Store) Put(label, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[label] = value
}

// Get returns the value stored under label.
func (s *Store) Get(label string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[label]
	return v, ok
}

// Delete removes label from the store.
func (s *Store) Delete(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, label)
}

// Snapshot returns a copy of the current contents.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Labels returns the sorted labels currently stored.
func (s *Store) Labels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labels := make([]string, 0, len(s.values))
	for k := range s.values {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// Len returns the number of stored labels.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Reset clears the store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
}

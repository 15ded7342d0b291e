// Package store contains the core logic for the in-memory versioned store.
// Every key maps to an append-only history of values. Version numbers are
// 1-based positions in that history at the time of the call, so deleting a
// version renumbers every later one.
//
// A Store is not safe for concurrent use. Callers that share one across
// goroutines must guard every call with a single lock.
package store

import "fmt"

// Store maps keys to their version histories.
// A history present in the map is never empty.
type Store[K comparable, V any] struct {
	entries map[K][]V
}

// New initializes and returns a new empty Store.
func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		entries: make(map[K][]V),
	}
}

// FromMap returns a Store holding one version per entry of m.
func FromMap[K comparable, V any](m map[K]V) *Store[K, V] {
	s := &Store[K, V]{
		entries: make(map[K][]V, len(m)),
	}
	for k, v := range m {
		s.entries[k] = []V{v}
	}
	return s
}

// Set appends value as the newest version of key and returns its version
// number. The history is created on the first write to key.
func (s *Store[K, V]) Set(key K, value V) int {
	s.entries[key] = append(s.entries[key], value)
	return len(s.entries[key])
}

// Latest returns the newest version of key.
func (s *Store[K, V]) Latest(key K) (V, error) {
	var zero V
	history, ok := s.entries[key]
	if !ok {
		return zero, fmt.Errorf("latest %v: %w", key, ErrKeyNotFound)
	}
	if len(history) == 0 {
		return zero, fmt.Errorf("latest %v: %w", key, ErrEmptyHistory)
	}
	return history[len(history)-1], nil
}

// Get returns version of key, where version 1 is the oldest value
// currently held.
func (s *Store[K, V]) Get(key K, version int) (V, error) {
	var zero V
	history, err := s.lookup(key, version)
	if err != nil {
		return zero, fmt.Errorf("get %v@%d: %w", key, version, err)
	}
	return history[version-1], nil
}

// Delete removes key and its entire history.
func (s *Store[K, V]) Delete(key K) error {
	if _, ok := s.entries[key]; !ok {
		return fmt.Errorf("delete %v: %w", key, ErrKeyNotFound)
	}
	delete(s.entries, key)
	return nil
}

// DeleteVersion removes a single version of key. Later versions shift down
// by one. Removing the last remaining version removes the key.
func (s *Store[K, V]) DeleteVersion(key K, version int) error {
	history, err := s.lookup(key, version)
	if err != nil {
		return fmt.Errorf("delete %v@%d: %w", key, version, err)
	}
	if len(history) == 1 {
		delete(s.entries, key)
		return nil
	}

	i := version - 1
	copy(history[i:], history[i+1:])
	var zero V
	history[len(history)-1] = zero // drop the reference held past the new length
	s.entries[key] = history[:len(history)-1]
	return nil
}

// Versions returns the number of versions held for key, or 0 if key is absent.
func (s *Store[K, V]) Versions(key K) int {
	return len(s.entries[key])
}

// History returns a copy of every version of key, oldest first.
func (s *Store[K, V]) History(key K) ([]V, error) {
	history, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("history %v: %w", key, ErrKeyNotFound)
	}
	return append([]V(nil), history...), nil
}

// Len returns the number of keys in the store.
func (s *Store[K, V]) Len() int {
	return len(s.entries)
}

// Keys returns every key in unspecified order.
func (s *Store[K, V]) Keys() []K {
	keys := make([]K, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Range calls fn for each key with a copy of its history until fn returns false.
func (s *Store[K, V]) Range(fn func(key K, history []V) bool) {
	for k, history := range s.entries {
		if !fn(k, append([]V(nil), history...)) {
			return
		}
	}
}

// Restore replaces the history of key with a copy of history.
// An empty history removes the key.
func (s *Store[K, V]) Restore(key K, history []V) {
	if len(history) == 0 {
		delete(s.entries, key)
		return
	}
	s.entries[key] = append([]V(nil), history...)
}

// lookup returns the history of key after checking that version addresses
// one of its current elements.
func (s *Store[K, V]) lookup(key K, version int) ([]V, error) {
	history, ok := s.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if version <= 0 || version > len(history) {
		return nil, ErrInvalidVersion
	}
	return history, nil
}

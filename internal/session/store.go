// Package session holds in-flight multi-step workflow state. Each workflow
// family owns one named, typed store; entries are keyed by the Discord id
// that originated the flow and survive restarts through checkpoint files.
package session

import (
	"sync"
	"time"
)

// StaleAfter is the default age past which a session is evicted.
const StaleAfter = time.Hour

type entry[T any] struct {
	Value     T
	CreatedAt time.Time
}

// Store is one workflow family's pending sessions. All methods are safe
// for concurrent use; handlers must still re-fetch after any await-like
// boundary because a concurrent interaction may have deleted the entry.
type Store[T any] struct {
	name string

	mu      sync.Mutex
	entries map[string]entry[T]
	now     func() time.Time
}

func NewStore[T any](name string) *Store[T] {
	return &Store[T]{
		name:    name,
		entries: map[string]entry[T]{},
		now:     time.Now,
	}
}

func (s *Store[T]) Name() string { return s.name }

// Put stores a session under id with overwrite semantics. CreatedAt is
// decoded from the snowflake id when possible, otherwise now.
func (s *Store[T]) Put(id string, v T) {
	createdAt, ok := SnowflakeTime(id)
	if !ok {
		createdAt = s.now()
	}
	s.mu.Lock()
	s.entries[id] = entry[T]{Value: v, CreatedAt: createdAt}
	s.mu.Unlock()
}

// Get returns the session for id. Absence means expired or unknown and is
// a normal outcome, never an error.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	return e.Value, ok
}

func (s *Store[T]) Delete(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SweepStale removes entries older than maxAge and reports how many.
func (s *Store[T]) SweepStale(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Clear removes every entry, for the forced cleanup under memory pressure.
func (s *Store[T]) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = map[string]entry[T]{}
	return n
}

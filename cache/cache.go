package cache

import "sync"

// Store memoizes string transforms. Implementations must be safe for concurrent use.
// A Store may drop entries at any time; callers recompute on a miss.
type Store interface {
	// Get returns the value stored for key and whether it was present.
	Get(key string) (string, bool)
	// Set stores value for key.
	Set(key, value string)
}

// Map is a Store backed by a map that never evicts. Its size is bounded by the
// number of distinct names seen, which suits the lifetime of a single scope.
type Map struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{m: make(map[string]string)}
}

func (s *Map) Get(key string) (string, bool) {
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

func (s *Map) Set(key, value string) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// Len returns the number of stored entries.
func (s *Map) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

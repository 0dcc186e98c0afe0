package middleware

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many calls pass between full sweeps of idle clients.
const sweepEvery = 1000

// MemoryStore keeps hit timestamps per key in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	calls int
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: map[string][]time.Time{}, now: time.Now}
}

// prune keeps only the timestamps strictly after start. ts is ordered oldest first.
func prune(ts []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(start) {
		i++
	}
	return ts[i:]
}

func (s *MemoryStore) Allow(_ context.Context, key string, window time.Duration, max int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	start := now.Add(-window)

	s.calls++
	if s.calls%sweepEvery == 0 {
		s.sweep(start)
	}

	valid := prune(s.hits[key], start)
	if len(valid) >= max {
		s.hits[key] = valid
		return false, nil
	}
	s.hits[key] = append(valid, now)
	return true, nil
}

// sweep forgets clients with nothing left in the window. Callers hold mu.
func (s *MemoryStore) sweep(start time.Time) {
	for k, ts := range s.hits {
		if valid := prune(ts, start); len(valid) == 0 {
			delete(s.hits, k)
		} else {
			s.hits[k] = valid
		}
	}
}

// Len reports how many clients are tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

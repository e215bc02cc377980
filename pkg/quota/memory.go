package quota

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/billsync/pkg/scope"
)

type memoryKey struct {
	scope scope.Scope
	month time.Time
}

// MemoryStore keeps counters in process memory
type MemoryStore struct {
	mu       sync.Mutex
	counters map[memoryKey]int64
	writes   int
}

// NewMemoryStore creates an empty memory counter store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[memoryKey]int64)}
}

// Name returns the backend name
func (s *MemoryStore) Name() string { return "memory" }

// ConsumeIfUnderLimit increments under the store lock
func (s *MemoryStore) ConsumeIfUnderLimit(_ context.Context, sc scope.Scope, month time.Time, limit, count int64) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey{scope: sc, month: month.UTC()}
	current := s.counters[k]
	if current+count > limit {
		return false, current, nil
	}
	s.counters[k] = current + count
	s.writes++
	return true, current + count, nil
}

// Current reads a counter
func (s *MemoryStore) Current(_ context.Context, sc scope.Scope, month time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[memoryKey{scope: sc, month: month.UTC()}], nil
}

// Set seeds a counter
func (s *MemoryStore) Set(sc scope.Scope, month time.Time, calls int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[memoryKey{scope: sc, month: month.UTC()}] = calls
}

// Writes returns how many increments were committed
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger with the same claim semantics as
// PostgresLedger
type MemoryLedger struct {
	mu           sync.Mutex
	entries      map[string]*Entry
	reclaimAfter time.Duration
	now          func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger(reclaimAfter time.Duration) *MemoryLedger {
	return &MemoryLedger{
		entries:      make(map[string]*Entry),
		reclaimAfter: reclaimAfter,
		now:          time.Now,
	}
}

// Claim inserts or re-claims the event row
func (l *MemoryLedger) Claim(_ context.Context, eventID, eventType string, livemode bool, snapshot Snapshot) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[eventID]
	if !ok {
		l.entries[eventID] = &Entry{
			ID:        eventID,
			Type:      eventType,
			Livemode:  livemode,
			Status:    StatusProcessing,
			Snapshot:  snapshot,
			Attempts:  1,
			ClaimedAt: now,
		}
		return true, nil
	}

	stale := l.reclaimAfter > 0 && e.Status == StatusProcessing && e.ClaimedAt.Before(now.Add(-l.reclaimAfter))
	if e.Status != StatusFailed && !stale {
		return false, nil
	}

	e.Status = StatusProcessing
	e.Attempts++
	e.ClaimedAt = now
	e.ProcessedAt = nil
	e.ErrorMessage = ""
	return true, nil
}

// Finalize records the terminal status of a claimed event
func (l *MemoryLedger) Finalize(_ context.Context, eventID string, status Status, errorMessage string) error {
	if err := validateFinal(status); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[eventID]
	if !ok || e.Status != StatusProcessing {
		return ErrNotFound
	}
	now := l.now()
	e.Status = status
	e.ErrorMessage = TruncateError(errorMessage)
	e.ProcessedAt = &now
	return nil
}

// Get returns a copy of the event row
func (l *MemoryLedger) Get(_ context.Context, eventID string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ReleaseStale fails processing rows older than olderThan
func (l *MemoryLedger) ReleaseStale(_ context.Context, olderThan time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-olderThan)
	var n int64
	for _, e := range l.entries {
		if e.Status == StatusProcessing && e.ClaimedAt.Before(cutoff) {
			e.Status = StatusFailed
			e.ErrorMessage = StaleReleaseMessage
			e.ProcessedAt = &now
			n++
		}
	}
	return n, nil
}

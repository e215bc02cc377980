package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Status is the processing state of an inbound event
type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusIgnored    Status = "ignored"
)

// MaxErrorMessageLength bounds the stored error message
const MaxErrorMessageLength = 500

// StaleReleaseMessage is recorded on rows released by ReleaseStale
const StaleReleaseMessage = "stale processing claim released"

var (
	// ErrNotFound is returned when the event id has no ledger row
	ErrNotFound = errors.New("ledger entry not found")

	// ErrInvalidStatus is returned when finalizing into a non-terminal state
	ErrInvalidStatus = errors.New("invalid finalize status")
)

// IsTerminal reports whether the status ends processing
func (s Status) IsTerminal() bool {
	switch s {
	case StatusProcessed, StatusFailed, StatusIgnored:
		return true
	default:
		return false
	}
}

// Snapshot is the minimal projection of the event kept on the row
type Snapshot struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
}

// Entry is one ledger row
type Entry struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Livemode     bool       `json:"livemode"`
	Status       Status     `json:"status"`
	Snapshot     Snapshot   `json:"payload_snapshot"`
	Attempts     int        `json:"attempts"`
	ClaimedAt    time.Time  `json:"claimed_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Ledger is the idempotency ledger
type Ledger interface {
	// Claim inserts a processing row for eventID. It returns false when the
	// event is already claimed or finished. Any error is a storage failure.
	Claim(ctx context.Context, eventID, eventType string, livemode bool, snapshot Snapshot) (bool, error)

	// Finalize moves a processing row to a terminal status
	Finalize(ctx context.Context, eventID string, status Status, errorMessage string) error

	// Get returns the row of an event
	Get(ctx context.Context, eventID string) (*Entry, error)

	// ReleaseStale marks processing rows claimed longer than olderThan ago
	// as failed, returning how many were released
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TruncateError bounds an error message to MaxErrorMessageLength bytes
// without splitting a UTF-8 sequence
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLength {
		return msg
	}
	cut := MaxErrorMessageLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func validateFinal(status Status) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return nil
}

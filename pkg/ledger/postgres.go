package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresLedger implements Ledger on PostgreSQL
type PostgresLedger struct {
	db           *sql.DB
	reclaimAfter time.Duration
}

// NewPostgresLedger creates a ledger. A zero reclaimAfter disables
// re-claiming of processing rows.
func NewPostgresLedger(db *sql.DB, reclaimAfter time.Duration) *PostgresLedger {
	return &PostgresLedger{db: db, reclaimAfter: reclaimAfter}
}

// Claim inserts the event row or re-claims a failed or stale one.
// The whole decision is one statement; concurrent claims of the same id
// serialize on the primary key.
func (l *PostgresLedger) Claim(ctx context.Context, eventID, eventType string, livemode bool, snapshot Snapshot) (bool, error) {
	snap, err := json.Marshal(snapshot)
	if err != nil {
		return false, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO inbound_events (id, type, livemode, status, payload_snapshot, attempts, claimed_at)
		VALUES ($1, $2, $3, 'processing', $4, 1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = 'processing',
			attempts = inbound_events.attempts + 1,
			claimed_at = NOW(),
			processed_at = NULL,
			error_message = NULL
		WHERE inbound_events.status = 'failed'
		   OR ($5::float8 > 0
		       AND inbound_events.status = 'processing'
		       AND inbound_events.claimed_at < NOW() - make_interval(secs => $5::float8))
		RETURNING attempts
	`

	var attempts int
	err = l.db.QueryRowContext(ctx, query,
		eventID, eventType, livemode, snap, l.reclaimAfter.Seconds(),
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	return true, nil
}

// Finalize records the terminal status of a claimed event
func (l *PostgresLedger) Finalize(ctx context.Context, eventID string, status Status, errorMessage string) error {
	if err := validateFinal(status); err != nil {
		return err
	}

	query := `
		UPDATE inbound_events
		SET status = $2, error_message = $3, processed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	var msg sql.NullString
	if errorMessage != "" {
		msg = sql.NullString{String: TruncateError(errorMessage), Valid: true}
	}

	result, err := l.db.ExecContext(ctx, query, eventID, string(status), msg)
	if err != nil {
		return fmt.Errorf("failed to finalize event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the ledger row of an event
func (l *PostgresLedger) Get(ctx context.Context, eventID string) (*Entry, error) {
	query := `
		SELECT id, type, livemode, status, payload_snapshot, attempts,
		       claimed_at, processed_at, error_message
		FROM inbound_events
		WHERE id = $1
	`

	var (
		e           Entry
		status      string
		snap        []byte
		processedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := l.db.QueryRowContext(ctx, query, eventID).Scan(
		&e.ID, &e.Type, &e.Livemode, &status, &snap, &e.Attempts,
		&e.ClaimedAt, &processedAt, &errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	e.Status = Status(status)
	e.ErrorMessage = errMsg.String
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	if len(snap) > 0 {
		if err := json.Unmarshal(snap, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}
	return &e, nil
}

// ReleaseStale fails processing rows older than olderThan
func (l *PostgresLedger) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE inbound_events
		SET status = 'failed', error_message = $2, processed_at = NOW()
		WHERE status = 'processing'
		  AND claimed_at < NOW() - make_interval(secs => $1::float8)
	`

	result, err := l.db.ExecContext(ctx, query, olderThan.Seconds(), StaleReleaseMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

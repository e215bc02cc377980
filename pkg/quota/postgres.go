package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/billsync/pkg/scope"
)

// PostgresStore keeps counters in the usage_counters table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL counter store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Name returns the backend name
func (s *PostgresStore) Name() string { return "postgres" }

// ConsumeIfUnderLimit performs the conditional upsert in one statement.
// Concurrent callers on the same key serialize on the row lock taken by
// ON CONFLICT, so each sees the committed total of the previous one.
func (s *PostgresStore) ConsumeIfUnderLimit(ctx context.Context, sc scope.Scope, month time.Time, limit, count int64) (bool, int64, error) {
	query := `
		INSERT INTO usage_counters (scope_type, scope_id, month_start, calls, updated_at)
		SELECT $1::text, $2::text, $3::date, $4::bigint, NOW()
		WHERE $4::bigint <= $5::bigint
		ON CONFLICT (scope_type, scope_id, month_start) DO UPDATE
			SET calls = usage_counters.calls + EXCLUDED.calls,
			    updated_at = NOW()
			WHERE usage_counters.calls + EXCLUDED.calls <= $5::bigint
		RETURNING calls
	`

	var total int64
	err := s.db.QueryRowContext(ctx, query,
		string(sc.Type), sc.ID, month, count, limit,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		current, cerr := s.Current(ctx, sc, month)
		if cerr != nil {
			return false, 0, cerr
		}
		return false, current, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to consume quota: %w", err)
	}
	return true, total, nil
}

// Current reads the counter of a key
func (s *PostgresStore) Current(ctx context.Context, sc scope.Scope, month time.Time) (int64, error) {
	query := `
		SELECT calls FROM usage_counters
		WHERE scope_type = $1 AND scope_id = $2 AND month_start = $3::date
	`

	var calls int64
	err := s.db.QueryRowContext(ctx, query, string(sc.Type), sc.ID, month).Scan(&calls)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return calls, nil
}

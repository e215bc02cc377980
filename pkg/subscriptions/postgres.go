package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
)

const (
	personalTable     = "personal_subscriptions"
	organizationTable = "organization_subscriptions"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL subscription store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// tableFor returns the table and key column owning a scope kind
func tableFor(t scope.Type) (string, string, error) {
	switch t {
	case scope.TypePersonal:
		return personalTable, "user_id", nil
	case scope.TypeOrganization:
		return organizationTable, "organization_id", nil
	default:
		return "", "", fmt.Errorf("%w: unknown type %q", scope.ErrInvalid, t)
	}
}

// Get retrieves the record of a scope
func (s *PostgresStore) Get(ctx context.Context, sc scope.Scope) (*Record, error) {
	table, key, err := tableFor(sc.Type)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT plan, seat_limit, document_limit, provider_customer_id,
		       provider_subscription_id, billing_email, status,
		       current_period_end, updated_at
		FROM %s
		WHERE %s = $1
	`, table, key)

	var (
		r                                 = Record{Scope: sc}
		seats, docs                       sql.NullInt64
		customerID, subscriptionID, email sql.NullString
		periodEnd                         sql.NullTime
		plan, status                      string
	)
	err = s.db.QueryRowContext(ctx, query, sc.ID).Scan(
		&plan, &seats, &docs, &customerID,
		&subscriptionID, &email, &status,
		&periodEnd, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	r.Plan = plans.Name(plan)
	r.Status = Status(status)
	r.SeatLimit = fromNullInt(seats)
	r.DocumentLimit = fromNullInt(docs)
	r.CustomerID = customerID.String
	r.SubscriptionID = subscriptionID.String
	r.BillingEmail = email.String
	if periodEnd.Valid {
		t := periodEnd.Time
		r.CurrentPeriodEnd = &t
	}
	return &r, nil
}

// Upsert creates or overwrites the record of r.Scope
func (s *PostgresStore) Upsert(ctx context.Context, r *Record) error {
	table, key, err := tableFor(r.Scope.Type)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, plan, seat_limit, document_limit, provider_customer_id,
		                   provider_subscription_id, billing_email, status, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (%[2]s) DO UPDATE SET
			plan = EXCLUDED.plan,
			seat_limit = EXCLUDED.seat_limit,
			document_limit = EXCLUDED.document_limit,
			provider_customer_id = EXCLUDED.provider_customer_id,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			billing_email = COALESCE(EXCLUDED.billing_email, %[1]s.billing_email),
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = NOW()
	`, table, key)

	_, err = s.db.ExecContext(ctx, query,
		r.Scope.ID,
		string(r.Plan),
		toNullInt(r.SeatLimit),
		toNullInt(r.DocumentLimit),
		toNullString(r.CustomerID),
		toNullString(r.SubscriptionID),
		toNullString(r.BillingEmail),
		string(r.Status),
		toNullTime(r.CurrentPeriodEnd),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// ApplyPlan updates plan, limits, status and period end of a scope
func (s *PostgresStore) ApplyPlan(ctx context.Context, sc scope.Scope, u PlanUpdate) error {
	table, key, err := tableFor(sc.Type)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			plan = $2,
			seat_limit = $3,
			document_limit = $4,
			status = $5,
			current_period_end = $6,
			provider_subscription_id = COALESCE($7, provider_subscription_id),
			updated_at = NOW()
		WHERE %s = $1
	`, table, key)

	result, err := s.db.ExecContext(ctx, query,
		sc.ID,
		string(u.Entitlement.Plan),
		toNullInt(u.Entitlement.SeatLimit),
		toNullInt(u.Entitlement.DocumentLimit),
		string(u.Status),
		toNullTime(u.CurrentPeriodEnd),
		toNullString(u.SubscriptionID),
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription plan: %w", err)
	}
	return requireRow(result)
}

// Downgrade cancels the subscription of a scope
func (s *PostgresStore) Downgrade(ctx context.Context, sc scope.Scope, e plans.Entitlement) error {
	table, key, err := tableFor(sc.Type)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			plan = $2,
			seat_limit = $3,
			document_limit = $4,
			provider_subscription_id = NULL,
			status = $5,
			current_period_end = NULL,
			updated_at = NOW()
		WHERE %s = $1
	`, table, key)

	result, err := s.db.ExecContext(ctx, query,
		sc.ID,
		string(e.Plan),
		toNullInt(e.SeatLimit),
		toNullInt(e.DocumentLimit),
		string(StatusCanceled),
	)
	if err != nil {
		return fmt.Errorf("failed to downgrade subscription: %w", err)
	}
	return requireRow(result)
}

// SetStatusByCustomer updates status on both tables by customer id
func (s *PostgresStore) SetStatusByCustomer(ctx context.Context, customerID string, status Status) (int64, error) {
	var total int64
	for _, table := range []string{organizationTable, personalTable} {
		query := fmt.Sprintf(`
			UPDATE %s SET status = $2, updated_at = NOW()
			WHERE provider_customer_id = $1
		`, table)

		result, err := s.db.ExecContext(ctx, query, customerID, string(status))
		if err != nil {
			return total, fmt.Errorf("failed to set status on %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// FindByCustomer returns every scope whose customer id matches
func (s *PostgresStore) FindByCustomer(ctx context.Context, customerID string) ([]scope.Scope, error) {
	var scopes []scope.Scope
	for _, t := range []scope.Type{scope.TypeOrganization, scope.TypePersonal} {
		table, key, _ := tableFor(t)
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE provider_customer_id = $1 ORDER BY %s`, key, table, key)

		rows, err := s.db.QueryContext(ctx, query, customerID)
		if err != nil {
			return nil, fmt.Errorf("failed to find %s by customer: %w", table, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s: %w", key, err)
			}
			scopes = append(scopes, scope.Scope{Type: t, ID: id})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
		}
	}
	return scopes, nil
}

// OwnerOf returns the owning user of an organization
func (s *PostgresStore) OwnerOf(ctx context.Context, orgID string) (string, error) {
	var owner sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM organizations WHERE id = $1`, orgID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !owner.Valid) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get organization owner: %w", err)
	}
	return owner.String, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func toNullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Package subscriptions stores the mirrored subscription state of personal
// accounts and organizations.
//
// Records are written only by billing event handlers. Cancellation downgrades
// a record to the free plan; it never deletes it.
package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
)

// Status is the provider-side subscription status
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// ErrNotFound is returned when no record exists for a scope
var ErrNotFound = errors.New("subscription record not found")

// ParseStatus maps a provider status onto the mirrored set.
// Provider states without a mirrored equivalent collapse onto the closest one.
func ParseStatus(raw string) Status {
	switch raw {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due", "unpaid", "incomplete":
		return StatusPastDue
	case "canceled", "incomplete_expired", "paused":
		return StatusCanceled
	default:
		return StatusActive
	}
}

// Record is the subscription state of one scope.
// Empty strings are stored as NULL.
type Record struct {
	Scope            scope.Scope `json:"scope"`
	Plan             plans.Name  `json:"plan"`
	SeatLimit        *int64      `json:"seat_limit"`
	DocumentLimit    *int64      `json:"document_limit"`
	CustomerID       string      `json:"provider_customer_id,omitempty"`
	SubscriptionID   string      `json:"provider_subscription_id,omitempty"`
	BillingEmail     string      `json:"billing_email,omitempty"`
	Status           Status      `json:"status"`
	CurrentPeriodEnd *time.Time  `json:"current_period_end,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// SetEntitlement writes a plan and its derived limits together
func (r *Record) SetEntitlement(e plans.Entitlement) {
	r.Plan = e.Plan
	r.SeatLimit = e.SeatLimit
	r.DocumentLimit = e.DocumentLimit
}

// PlanUpdate is the change applied by a subscription-updated event
type PlanUpdate struct {
	Entitlement      plans.Entitlement
	Status           Status
	CurrentPeriodEnd *time.Time
	// SubscriptionID is written only when non-empty
	SubscriptionID string
}

// Store persists subscription records for both scope kinds
type Store interface {
	// Get returns the record of a scope or ErrNotFound
	Get(ctx context.Context, s scope.Scope) (*Record, error)

	// Upsert creates or overwrites the record of r.Scope.
	// An empty BillingEmail keeps the stored one.
	Upsert(ctx context.Context, r *Record) error

	// ApplyPlan updates plan, limits, status and period end.
	// Returns ErrNotFound when the scope has no record.
	ApplyPlan(ctx context.Context, s scope.Scope, u PlanUpdate) error

	// Downgrade moves a scope to the given entitlement, clears the
	// subscription id and period end and marks it canceled.
	// Returns ErrNotFound when the scope has no record.
	Downgrade(ctx context.Context, s scope.Scope, e plans.Entitlement) error

	// SetStatusByCustomer sets status on every record in both tables whose
	// customer id matches, returning the number of rows touched
	SetStatusByCustomer(ctx context.Context, customerID string, status Status) (int64, error)

	// FindByCustomer returns the scopes whose customer id matches,
	// organizations first
	FindByCustomer(ctx context.Context, customerID string) ([]scope.Scope, error)
}

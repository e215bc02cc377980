package audit

import (
	"context"
	"time"
)

// Action is the activity log action tag
type Action string

const (
	ActionSubscriptionCreated  Action = "billing_subscription_created"
	ActionSubscriptionUpdated  Action = "billing_subscription_updated"
	ActionSubscriptionCanceled Action = "billing_subscription_canceled"
	ActionPaymentSucceeded     Action = "billing_payment_succeeded"
	ActionPaymentFailed        Action = "billing_payment_failed"
)

// Entry is one activity log row. Empty strings are stored as NULL.
type Entry struct {
	ID             int64                  `json:"id,omitempty"`
	ActorUserID    string                 `json:"actor_user_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	Action         Action                 `json:"action"`
	DocumentID     string                 `json:"document_id,omitempty"`
	Title          string                 `json:"title,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Sink appends entries to the activity log
type Sink interface {
	Write(ctx context.Context, entry *Entry) error
}

// OwnerLookup resolves the owning user of an organization
type OwnerLookup interface {
	OwnerOf(ctx context.Context, orgID string) (string, error)
}

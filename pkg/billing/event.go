package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/billsync/pkg/ledger"
)

// EventType is the provider event type tag
type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout.session.completed"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
	EventTrialWillEnd            EventType = "customer.subscription.trial_will_end"
)

// Metadata keys set on checkout sessions and subscriptions at creation time
const (
	MetadataPlan           = "plan"
	MetadataOrganizationID = "organization_id"
	MetadataUserID         = "user_id"
)

// Event is a verified inbound event
type Event struct {
	ID       string
	Type     EventType
	Livemode bool
	Created  int64
	// Object is the raw data.object of the envelope
	Object json.RawMessage
}

// Snapshot is the projection kept on the ledger row
func (e Event) Snapshot() ledger.Snapshot {
	return ledger.Snapshot{ID: e.ID, Type: string(e.Type), Created: e.Created}
}

// ExpandableID is a reference that the provider sends either as a bare id
// or as an expanded object carrying an id field
type ExpandableID string

func (x *ExpandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*x = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*x = ExpandableID(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*x = ExpandableID(strings.TrimSpace(obj.ID))
	return nil
}

func (x ExpandableID) String() string {
	return string(x)
}

// CheckoutSession is the object of a checkout completed event
type CheckoutSession struct {
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	Customer        ExpandableID      `json:"customer"`
	Subscription    ExpandableID      `json:"subscription"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails CustomerDetails   `json:"customer_details"`
	Metadata        map[string]string `json:"metadata"`
}

type CustomerDetails struct {
	Email string `json:"email"`
}

// Email returns the billing email captured at checkout
func (s CheckoutSession) Email() string {
	if e := strings.TrimSpace(s.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(s.CustomerEmail)
}

// Subscription is the object of the customer.subscription.* events
type Subscription struct {
	ID               string            `json:"id"`
	Customer         ExpandableID      `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

type SubscriptionItem struct {
	ID               string `json:"id"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Price            struct {
		ID string `json:"id"`
	} `json:"price"`
}

// PriceID returns the first non-empty price id of the subscription items
func (s Subscription) PriceID() string {
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

// PeriodEnd returns the current period end. Newer API versions carry it on
// the items only.
func (s Subscription) PeriodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	if end == 0 {
		for _, item := range s.Items.Data {
			if item.CurrentPeriodEnd > 0 {
				end = item.CurrentPeriodEnd
				break
			}
		}
	}
	return unixTime(end)
}

// Invoice is the object of the invoice.payment_* events
type Invoice struct {
	ID           string            `json:"id"`
	Customer     ExpandableID      `json:"customer"`
	Subscription ExpandableID      `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

func decodeObject(e Event, v interface{}) error {
	if len(e.Object) == 0 {
		return fmt.Errorf("%w: %s has no data object", ErrMalformedEvent, e.ID)
	}
	if err := json.Unmarshal(e.Object, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedEvent, e.Type, err)
	}
	return nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

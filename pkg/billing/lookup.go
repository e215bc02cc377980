package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/platinummonkey/billsync/pkg/subscriptions"
)

// LiveSubscription is the provider-side state of a subscription fetched at
// checkout time
type LiveSubscription struct {
	Status           subscriptions.Status
	CurrentPeriodEnd *time.Time
	PriceID          string
}

// SubscriptionLookup fetches a subscription from the provider
type SubscriptionLookup interface {
	Lookup(ctx context.Context, subscriptionID string) (*LiveSubscription, error)
}

// StripeLookup reads subscriptions through the Stripe API
type StripeLookup struct {
	client subscription.Client
}

// NewStripeLookup creates a lookup using the given secret API key
func NewStripeLookup(apiKey string) (*StripeLookup, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe api key is required")
	}
	return &StripeLookup{
		client: subscription.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey},
	}, nil
}

// Lookup fetches the subscription by id
func (l *StripeLookup) Lookup(ctx context.Context, subscriptionID string) (*LiveSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := l.client.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}

	live := &LiveSubscription{Status: subscriptions.ParseStatus(string(sub.Status))}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if live.CurrentPeriodEnd == nil {
				live.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			}
			if live.PriceID == "" && item.Price != nil {
				live.PriceID = item.Price.ID
			}
		}
	}
	return live, nil
}

package billing

import (
	"strings"

	"github.com/platinummonkey/billsync/pkg/audit"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
	"github.com/platinummonkey/billsync/pkg/subscriptions"
)

// MutationKind names a subscription store write
type MutationKind string

const (
	MutationUpsert           MutationKind = "upsert"
	MutationApplyPlan        MutationKind = "apply_plan"
	MutationDowngrade        MutationKind = "downgrade"
	MutationStatusByCustomer MutationKind = "status_by_customer"
)

// Mutation is one write against the subscription store. Which fields are set
// depends on Kind.
type Mutation struct {
	Kind MutationKind

	// Scope is the target of apply_plan and downgrade
	Scope scope.Scope

	// Record is written by upsert
	Record *subscriptions.Record

	// Update is written by apply_plan
	Update subscriptions.PlanUpdate

	// Entitlement is written by downgrade
	Entitlement plans.Entitlement

	// CustomerID and Status are written by status_by_customer
	CustomerID string
	Status     subscriptions.Status
}

// Scopes returns the scopes whose plan limits the mutation changes
func (m Mutation) Scopes() []scope.Scope {
	switch m.Kind {
	case MutationUpsert:
		if m.Record != nil {
			return []scope.Scope{m.Record.Scope}
		}
	case MutationApplyPlan, MutationDowngrade:
		return []scope.Scope{m.Scope}
	}
	return nil
}

// Outcome is the result of a handler
type Outcome struct {
	Mutations []Mutation
	Audit     []audit.Entry

	// Ignored is set when the event needs no state change. The ledger row is
	// finalized as ignored with this reason.
	Ignored string
}

// ResolvePlan picks the plan of a subscription: a known metadata plan wins,
// then the price binding, then fallback
func ResolvePlan(metadata map[string]string, priceID string, table *plans.Table, fallback plans.Name) plans.Name {
	if name, ok := plans.ParseName(metadata[MetadataPlan]); ok {
		return name
	}
	if name, ok := table.PlanForPrice(priceID); ok {
		return name
	}
	return fallback
}

// HandleCheckoutCompleted creates or overwrites the record of the resolved
// scope. live may be nil.
func HandleCheckoutCompleted(session CheckoutSession, sc scope.Scope, live *LiveSubscription, table *plans.Table) Outcome {
	name, ok := plans.ParseName(session.Metadata[MetadataPlan])
	if !ok {
		name = plans.DefaultCheckoutPlan
	}

	record := &subscriptions.Record{
		Scope:          sc,
		CustomerID:     session.Customer.String(),
		SubscriptionID: session.Subscription.String(),
		BillingEmail:   session.Email(),
		Status:         subscriptions.StatusActive,
	}
	record.SetEntitlement(table.Entitlement(name))
	if live != nil {
		if live.Status != "" {
			record.Status = live.Status
		}
		record.CurrentPeriodEnd = live.CurrentPeriodEnd
	}

	return Outcome{
		Mutations: []Mutation{{Kind: MutationUpsert, Record: record}},
		Audit: []audit.Entry{auditEntry(audit.ActionSubscriptionCreated, &sc, map[string]interface{}{
			"plan":            string(record.Plan),
			"status":          string(record.Status),
			"customer_id":     record.CustomerID,
			"subscription_id": record.SubscriptionID,
		})},
	}
}

// HandleSubscriptionUpdated applies the new plan, status and period end to
// every resolved scope independently
func HandleSubscriptionUpdated(sub Subscription, scopes []scope.Scope, table *plans.Table) Outcome {
	name := ResolvePlan(sub.Metadata, sub.PriceID(), table, plans.DefaultCheckoutPlan)
	update := subscriptions.PlanUpdate{
		Entitlement:      table.Entitlement(name),
		Status:           subscriptions.ParseStatus(sub.Status),
		CurrentPeriodEnd: sub.PeriodEnd(),
		SubscriptionID:   strings.TrimSpace(sub.ID),
	}

	var out Outcome
	for _, sc := range scopes {
		sc := sc
		out.Mutations = append(out.Mutations, Mutation{Kind: MutationApplyPlan, Scope: sc, Update: update})
		out.Audit = append(out.Audit, auditEntry(audit.ActionSubscriptionUpdated, &sc, map[string]interface{}{
			"plan":            string(update.Entitlement.Plan),
			"status":          string(update.Status),
			"subscription_id": update.SubscriptionID,
		}))
	}
	return out
}

// HandleSubscriptionDeleted downgrades every resolved scope to free.
// Downgrading is an absolute assignment and safe to repeat.
func HandleSubscriptionDeleted(sub Subscription, scopes []scope.Scope, table *plans.Table) Outcome {
	free := table.Entitlement(plans.Free)

	var out Outcome
	for _, sc := range scopes {
		sc := sc
		out.Mutations = append(out.Mutations, Mutation{Kind: MutationDowngrade, Scope: sc, Entitlement: free})
		out.Audit = append(out.Audit, auditEntry(audit.ActionSubscriptionCanceled, &sc, map[string]interface{}{
			"subscription_id": strings.TrimSpace(sub.ID),
		}))
	}
	return out
}

// HandleInvoicePayment sets the status of every record of the customer in
// both tables. attribution only labels the audit entry and may be empty.
func HandleInvoicePayment(inv Invoice, succeeded bool, attribution []scope.Scope) Outcome {
	customerID := inv.Customer.String()
	if customerID == "" {
		return Outcome{Ignored: "invoice has no customer"}
	}

	status := subscriptions.StatusPastDue
	action := audit.ActionPaymentFailed
	if succeeded {
		status = subscriptions.StatusActive
		action = audit.ActionPaymentSucceeded
	}

	var sc *scope.Scope
	if len(attribution) > 0 {
		sc = &attribution[0]
	}

	return Outcome{
		Mutations: []Mutation{{Kind: MutationStatusByCustomer, CustomerID: customerID, Status: status}},
		Audit: []audit.Entry{auditEntry(action, sc, map[string]interface{}{
			"invoice_id":      inv.ID,
			"customer_id":     customerID,
			"subscription_id": inv.Subscription.String(),
			"status":          string(status),
		})},
	}
}

func auditEntry(action audit.Action, sc *scope.Scope, metadata map[string]interface{}) audit.Entry {
	entry := audit.Entry{Action: action, Metadata: metadata}
	if sc == nil {
		return entry
	}
	if sc.IsOrganization() {
		entry.OrganizationID = sc.ID
	} else {
		entry.ActorUserID = sc.ID
	}
	return entry
}

package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	table := plans.DefaultTable()
	org := scope.Organization("org-1")

	_, err := store.Get(ctx, org)
	assert.ErrorIs(t, err, ErrNotFound)

	end := time.Now().Add(30 * 24 * time.Hour)
	rec := &Record{
		Scope:            org,
		CustomerID:       "cus_1",
		SubscriptionID:   "sub_1",
		BillingEmail:     "billing@example.com",
		Status:           StatusActive,
		CurrentPeriodEnd: &end,
	}
	rec.SetEntitlement(table.Entitlement(plans.Pro))
	require.NoError(t, store.Upsert(ctx, rec))

	// overwrite without email keeps the stored email
	rec2 := *rec
	rec2.BillingEmail = ""
	require.NoError(t, store.Upsert(ctx, &rec2))
	got, err := store.Get(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, "billing@example.com", got.BillingEmail)

	require.NoError(t, store.ApplyPlan(ctx, org, PlanUpdate{
		Entitlement: table.Entitlement(plans.Team),
		Status:      StatusTrialing,
	}))
	got, _ = store.Get(ctx, org)
	assert.Equal(t, plans.Team, got.Plan)
	assert.Equal(t, int64(10), *got.SeatLimit)
	assert.Nil(t, got.DocumentLimit)
	assert.Equal(t, "sub_1", got.SubscriptionID)

	require.NoError(t, store.Downgrade(ctx, org, table.Entitlement(plans.Free)))
	got, _ = store.Get(ctx, org)
	assert.Equal(t, plans.Free, got.Plan)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Empty(t, got.SubscriptionID)
	assert.Nil(t, got.CurrentPeriodEnd)
	assert.Equal(t, "cus_1", got.CustomerID)
}

func TestMemoryStore_MissingRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	table := plans.DefaultTable()

	err := store.ApplyPlan(ctx, scope.Personal("u1"), PlanUpdate{Entitlement: table.Entitlement(plans.Pro)})
	assert.ErrorIs(t, err, ErrNotFound)
	err = store.Downgrade(ctx, scope.Personal("u1"), table.Entitlement(plans.Free))
	assert.ErrorIs(t, err, ErrNotFound)
	err = store.Upsert(ctx, &Record{})
	assert.ErrorIs(t, err, scope.ErrInvalid)
}

func TestMemoryStore_CustomerQueries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, s := range []scope.Scope{scope.Personal("u1"), scope.Organization("o2"), scope.Organization("o1")} {
		require.NoError(t, store.Upsert(ctx, &Record{Scope: s, Plan: plans.Pro, CustomerID: "cus_shared", Status: StatusPastDue}))
	}
	require.NoError(t, store.Upsert(ctx, &Record{Scope: scope.Personal("u2"), Plan: plans.Pro, CustomerID: "cus_other", Status: StatusPastDue}))

	scopes, err := store.FindByCustomer(ctx, "cus_shared")
	require.NoError(t, err)
	assert.Equal(t, []scope.Scope{scope.Organization("o1"), scope.Organization("o2"), scope.Personal("u1")}, scopes)

	n, err := store.SetStatusByCustomer(ctx, "cus_shared", StatusActive)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	other, _ := store.Get(ctx, scope.Personal("u2"))
	assert.Equal(t, StatusPastDue, other.Status)
}

func TestMemoryStore_OwnerOf(t *testing.T) {
	store := NewMemoryStore()
	store.SetOwner("org-1", "user-1")

	owner, err := store.OwnerOf(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	_, err = store.OwnerOf(context.Background(), "org-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

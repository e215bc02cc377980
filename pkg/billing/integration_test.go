//go:build integration

package billing

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/billsync/pkg/audit"
	"github.com/platinummonkey/billsync/pkg/ledger"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
	"github.com/platinummonkey/billsync/pkg/storage/storagetest"
	"github.com/platinummonkey/billsync/pkg/subscriptions"
)

func TestWebhook_PostgresPipelineIntegration(t *testing.T) {
	db := storagetest.NewPostgres(t)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	_, err := db.ExecContext(ctx, `INSERT INTO organizations (id, owner_id) VALUES ('org-1', 'user-owner')`)
	require.NoError(t, err)

	sink, err := audit.NewDBSink(ctx, db)
	require.NoError(t, err)
	store := subscriptions.NewPostgresStore(db)
	events := ledger.NewPostgresLedger(db, 10*time.Minute)

	processor := NewProcessor(ProcessorConfig{
		Ledger:        events,
		Subscriptions: store,
		Plans:         plans.DefaultTable(),
		Audit:         audit.NewBestEffort(sink, store, logger, audit.BestEffortConfig{}),
	}, logger, nil)
	verifier, err := NewVerifier(testSecret, time.Minute)
	require.NoError(t, err)
	f := &fixture{router: mux.NewRouter()}
	NewWebhookHandler(verifier, processor, logger, WebhookConfig{}).RegisterRoutes(f.router)

	checkout := envelope(t, "evt_int_checkout", EventCheckoutCompleted, checkoutObject(map[string]string{
		MetadataPlan:           "pro",
		MetadataOrganizationID: "org-1",
	}))

	var g errgroup.Group
	codes := make([]int, 10)
	for i := range codes {
		i := i
		g.Go(func() error {
			codes[i] = f.deliver(t, checkout).Code
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	rec, err := store.Get(ctx, scope.Organization("org-1"))
	require.NoError(t, err)
	assert.Equal(t, plans.Pro, rec.Plan)
	assert.Equal(t, subscriptions.StatusActive, rec.Status)

	entry, err := events.Get(ctx, "evt_int_checkout")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProcessed, entry.Status)

	invoice := envelope(t, "evt_int_invoice", EventInvoicePaymentFailed, map[string]interface{}{"id": "in_1", "customer": "cus_1"})
	require.Equal(t, http.StatusOK, f.deliver(t, invoice).Code)
	require.Equal(t, http.StatusOK, f.deliver(t, invoice).Code)

	rec, err = store.Get(ctx, scope.Organization("org-1"))
	require.NoError(t, err)
	assert.Equal(t, subscriptions.StatusPastDue, rec.Status)

	var created, failed int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_log WHERE action = $1 AND actor_user_id = 'user-owner'`,
		string(audit.ActionSubscriptionCreated)).Scan(&created))
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_log WHERE action = $1`,
		string(audit.ActionPaymentFailed)).Scan(&failed))
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, failed)
}

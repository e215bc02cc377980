package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/platinummonkey/billsync/pkg/audit"
	"github.com/platinummonkey/billsync/pkg/ledger"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/subscriptions"
)

const testSecret = "whsec_test_secret"

type fixture struct {
	ledger    *ledger.MemoryLedger
	store     *subscriptions.MemoryStore
	sink      *audit.MemorySink
	table     *plans.Table
	processor *Processor
	router    *mux.Router
}

type fixtureOption func(*ProcessorConfig)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	f := &fixture{
		ledger: ledger.NewMemoryLedger(10 * time.Minute),
		store:  subscriptions.NewMemoryStore(),
		sink:   audit.NewMemorySink(),
		table:  plans.DefaultTable(),
	}
	f.table.BindPrice("price_team_monthly", plans.Team)

	config := ProcessorConfig{
		Ledger:        f.ledger,
		Subscriptions: f.store,
		Plans:         f.table,
		Audit: audit.NewBestEffort(f.sink, f.store, logger, audit.BestEffortConfig{
			Retry: audit.RetryConfig{MaxAttempts: 1},
		}),
	}
	for _, opt := range opts {
		opt(&config)
	}
	f.processor = NewProcessor(config, logger, nil)

	verifier, err := NewVerifier(testSecret, time.Minute)
	require.NoError(t, err)
	f.router = mux.NewRouter()
	NewWebhookHandler(verifier, f.processor, logger, WebhookConfig{}).RegisterRoutes(f.router)
	return f
}

func envelope(t *testing.T, id string, typ EventType, object interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        string(typ),
		"livemode":    false,
		"created":     1773446400,
		"api_version": "2025-03-31.basil",
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return raw
}

func sign(payload []byte, secret string) string {
	return signAt(payload, secret, time.Now())
}

func signAt(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

func (f *fixture) deliver(t *testing.T, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	return f.serve(t, payload, sign(payload, testSecret))
}

func (f *fixture) serve(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	req.Header.Set(DefaultSignatureHeader, signature)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) seed(t *testing.T, r subscriptions.Record) {
	t.Helper()
	require.NoError(t, f.store.Upsert(context.Background(), &r))
}

// flakyStore fails the first failures writes of any kind
type flakyStore struct {
	subscriptions.Store
	mu       sync.Mutex
	failures int
	writes   int
}

func (s *flakyStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writes <= s.failures {
		return errors.New("connection reset by peer")
	}
	return nil
}

func (s *flakyStore) Upsert(ctx context.Context, r *subscriptions.Record) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.Store.Upsert(ctx, r)
}

func (s *flakyStore) SetStatusByCustomer(ctx context.Context, customerID string, status subscriptions.Status) (int64, error) {
	if err := s.fail(); err != nil {
		return 0, err
	}
	return s.Store.SetStatusByCustomer(ctx, customerID, status)
}

type failingSink struct{}

func (failingSink) Write(context.Context, *audit.Entry) error {
	return errors.New("activity log unavailable")
}

type stubLookup struct {
	live *LiveSubscription
	err  error
}

func (l stubLookup) Lookup(context.Context, string) (*LiveSubscription, error) {
	return l.live, l.err
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/billsync/pkg/httputil"
	"github.com/platinummonkey/billsync/pkg/quota"
	"github.com/platinummonkey/billsync/pkg/scope"
)

type stubEnforcer struct {
	result   quota.Result
	consumed []scope.Scope
	storage  []int64
}

func (s *stubEnforcer) ConsumeForPlan(_ context.Context, sc scope.Scope, _ int64) quota.Result {
	s.consumed = append(s.consumed, sc)
	return s.result
}

func (s *stubEnforcer) CheckStorage(_ context.Context, _ scope.Scope, currentMB, incomingMB int64) quota.Result {
	s.storage = append(s.storage, currentMB, incomingMB)
	return s.result
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func scopedRequest(method, body string) *http.Request {
	r := httptest.NewRequest(method, "/ai/complete", strings.NewReader(body))
	r.Header.Set(ScopeTypeHeader, "organization")
	r.Header.Set(ScopeIDHeader, "org-1")
	return r
}

func TestInternalAuth(t *testing.T) {
	logger, hook := test.NewNullLogger()

	t.Run("disabled without token", func(t *testing.T) {
		var called bool
		h := NewInternalAuth("", logger).Handler(okHandler(&called))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/internal/usage/personal/u", nil))

		assert.True(t, called)
		assert.Contains(t, hook.LastEntry().Message, "not configured")
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer s3cret", http.StatusOK},
		{"rotated token", "Bearer old-token", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			h := NewInternalAuth("s3cret, old-token", logger).Handler(okHandler(&called))

			r := httptest.NewRequest(http.MethodGet, "/internal/usage/personal/u", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, r)

			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, tt.want == http.StatusOK, called)
		})
	}
}

func TestScopeFromHeaders(t *testing.T) {
	s, ok := ScopeFromHeaders(scopedRequest(http.MethodGet, ""))
	require.True(t, ok)
	assert.Equal(t, scope.Organization("org-1"), s)

	_, ok = ScopeFromHeaders(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestEnforceAICalls(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("rejected returns 429", func(t *testing.T) {
		enforcer := &stubEnforcer{result: quota.Rejected(20, 20, "monthly AI call limit reached")}
		var called bool
		h := NewQuotaMiddleware(enforcer, nil, logger).EnforceAICalls(okHandler(&called))

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, scopedRequest(http.MethodPost, ""))

		assert.False(t, called)
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)

		var body httputil.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, QuotaExceededMessage, body.Error)
		assert.Equal(t, "monthly AI call limit reached", body.Details["reason"])
	})

	t.Run("allowed passes through", func(t *testing.T) {
		enforcer := &stubEnforcer{result: quota.Allowed(3, nil)}
		var called bool
		h := NewQuotaMiddleware(enforcer, nil, logger).EnforceAICalls(okHandler(&called))

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, scopedRequest(http.MethodPost, ""))

		assert.True(t, called)
		assert.Equal(t, []scope.Scope{scope.Organization("org-1")}, enforcer.consumed)
	})

	t.Run("fault fails open", func(t *testing.T) {
		enforcer := &stubEnforcer{result: quota.Fault(errors.New("redis down"))}
		var called bool
		h := NewQuotaMiddleware(enforcer, nil, logger).EnforceAICalls(okHandler(&called))

		h.ServeHTTP(httptest.NewRecorder(), scopedRequest(http.MethodPost, ""))
		assert.True(t, called)
	})

	t.Run("no scope skips quota", func(t *testing.T) {
		enforcer := &stubEnforcer{result: quota.Rejected(1, 1, "x")}
		var called bool
		h := NewQuotaMiddleware(enforcer, nil, logger).EnforceAICalls(okHandler(&called))

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ai/complete", nil))
		assert.True(t, called)
		assert.Empty(t, enforcer.consumed)
	})
}

func TestEnforceStorage(t *testing.T) {
	logger, _ := test.NewNullLogger()
	usage := func(context.Context, scope.Scope) (int64, error) { return 99, nil }

	t.Run("rounds incoming up to whole MB", func(t *testing.T) {
		enforcer := &stubEnforcer{result: quota.Rejected(99, 100, "storage limit reached")}
		var called bool
		h := NewQuotaMiddleware(enforcer, nil, logger).EnforceStorage(usage)(okHandler(&called))

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, scopedRequest(http.MethodPut, strings.Repeat("x", 1<<20+1)))

		assert.False(t, called)
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, []int64{99, 2}, enforcer.storage)
	})

	t.Run("usage lookup failure allows", func(t *testing.T) {
		enforcer := &stubEnforcer{result: quota.Rejected(0, 0, "x")}
		failing := func(context.Context, scope.Scope) (int64, error) { return 0, errors.New("db down") }
		var called bool
		h := NewQuotaMiddleware(enforcer, nil, logger).EnforceStorage(failing)(okHandler(&called))

		h.ServeHTTP(httptest.NewRecorder(), scopedRequest(http.MethodPut, "data"))
		assert.True(t, called)
		assert.Empty(t, enforcer.storage)
	})
}

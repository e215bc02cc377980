package middleware

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/billsync/pkg/httputil"
	"github.com/platinummonkey/billsync/pkg/observability"
	"github.com/platinummonkey/billsync/pkg/quota"
	"github.com/platinummonkey/billsync/pkg/scope"
)

const (
	// ScopeTypeHeader and ScopeIDHeader carry the caller's billing scope,
	// set by the gateway after authentication
	ScopeTypeHeader = "X-Billing-Scope-Type"
	ScopeIDHeader   = "X-Billing-Scope-ID"

	// QuotaExceededMessage is the client-facing rejection text
	QuotaExceededMessage = "quota exceeded, upgrade your plan"
)

// ScopeFunc resolves the billing scope of a request. ok is false when the
// request has no scope, in which case quota is not enforced.
type ScopeFunc func(r *http.Request) (scope.Scope, bool)

// StorageUsageFunc reports a scope's current storage use in MB
type StorageUsageFunc func(ctx context.Context, s scope.Scope) (int64, error)

// Enforcer is the part of the quota service the middleware uses
type Enforcer interface {
	ConsumeForPlan(ctx context.Context, s scope.Scope, count int64) quota.Result
	CheckStorage(ctx context.Context, s scope.Scope, currentMB, incomingMB int64) quota.Result
}

// ScopeFromHeaders reads the scope from the gateway headers
func ScopeFromHeaders(r *http.Request) (scope.Scope, bool) {
	s, err := scope.New(r.Header.Get(ScopeTypeHeader), r.Header.Get(ScopeIDHeader))
	if err != nil {
		return scope.Scope{}, false
	}
	return s, true
}

// QuotaMiddleware enforces plan quotas on metered routes
type QuotaMiddleware struct {
	enforcer Enforcer
	resolve  ScopeFunc
	logger   logrus.FieldLogger
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(enforcer Enforcer, resolve ScopeFunc, logger logrus.FieldLogger) *QuotaMiddleware {
	if resolve == nil {
		resolve = ScopeFromHeaders
	}
	return &QuotaMiddleware{
		enforcer: enforcer,
		resolve:  resolve,
		logger:   logger,
	}
}

// EnforceAICalls consumes one AI call per request.
// Returns: 429 Too Many Requests when the monthly allowance is used up.
func (m *QuotaMiddleware) EnforceAICalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := m.resolve(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		res := m.enforcer.ConsumeForPlan(r.Context(), s, 1)
		if !m.admit(w, r, s, res) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// EnforceStorage rejects uploads whose Content-Length would exceed the plan's
// storage limit. Nothing is recorded; the upload handler owns storage use.
func (m *QuotaMiddleware) EnforceStorage(usage StorageUsageFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := m.resolve(r)
			if !ok || r.ContentLength <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			current, err := usage(r.Context(), s)
			if err != nil {
				observability.FromContext(r.Context(), m.logger).WithError(err).
					WithField("scope", s.String()).Warn("Could not read storage use, allowing upload")
				next.ServeHTTP(w, r)
				return
			}

			incomingMB := (r.ContentLength + (1<<20 - 1)) >> 20
			res := m.enforcer.CheckStorage(r.Context(), s, current, incomingMB)
			if !m.admit(w, r, s, res) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// admit writes the rejection and returns false for rejected results
func (m *QuotaMiddleware) admit(w http.ResponseWriter, r *http.Request, s scope.Scope, res quota.Result) bool {
	if res.Permitted() {
		return true
	}

	observability.FromContext(r.Context(), m.logger).WithFields(logrus.Fields{
		"scope":  s.String(),
		"reason": res.Reason,
	}).Info("Request rejected by quota")

	httputil.WriteDetailedError(w, http.StatusTooManyRequests, QuotaExceededMessage, map[string]string{
		"reason": res.Reason,
	})
	return false
}

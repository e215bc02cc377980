package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/billsync/pkg/httputil"
)

// InternalAuth guards service-to-service routes with shared bearer tokens.
// The configured value may list several comma-separated tokens so one can
// be rotated out while the other is still deployed.
type InternalAuth struct {
	tokens [][]byte
	logger logrus.FieldLogger
}

// NewInternalAuth creates the middleware. No tokens disables the check.
func NewInternalAuth(tokens string, logger logrus.FieldLogger) *InternalAuth {
	m := &InternalAuth{logger: logger.WithField("component", "internal_auth")}
	for _, tok := range strings.Split(tokens, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			m.tokens = append(m.tokens, []byte(tok))
		}
	}
	if len(m.tokens) == 0 {
		m.logger.Warn("Internal API token not configured, internal routes are unauthenticated")
	}
	return m
}

func (m *InternalAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || presented == "" {
			httputil.WriteUnauthorized(w, "missing bearer token")
			return
		}
		if !m.valid([]byte(presented)) {
			m.logger.WithFields(logrus.Fields{
				"remote_addr": r.RemoteAddr,
				"path":        r.URL.Path,
			}).Warn("Rejected internal request with unknown token")
			httputil.WriteUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// valid compares against every token so timing does not reveal which matched
func (m *InternalAuth) valid(presented []byte) bool {
	match := 0
	for _, tok := range m.tokens {
		match |= subtle.ConstantTimeCompare(presented, tok)
	}
	return match == 1
}

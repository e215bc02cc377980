// Package middleware provides the HTTP middleware that guards the internal
// quota API and enforces plan quotas on metered routes.
//
// # Internal authentication
//
// InternalAuth requires "Authorization: Bearer <token>" on the internal
// routes. With an empty token it lets every request through, which is only
// appropriate when the listener is not reachable from outside.
//
//	internal := router.PathPrefix("/internal").Subrouter()
//	internal.Use(middleware.NewInternalAuth(cfg.Server.InternalToken, logger).Handler)
//
// # Quota enforcement
//
// QuotaMiddleware resolves the scope of a request, consumes from its plan's
// monthly allowance and answers 429 on rejection. Faults (the counter store
// being unreachable) let the request through.
//
//	qm := middleware.NewQuotaMiddleware(quotaService, middleware.ScopeFromHeaders, logger)
//	router.Handle("/ai/complete", qm.EnforceAICalls(handler))
//
// The scope resolver runs first, so any authentication that populates the
// scope must wrap the quota middleware.
package middleware

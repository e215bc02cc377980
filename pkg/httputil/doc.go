// Package httputil provides the JSON response helpers, request parsing and
// HTTP middleware shared by the billsync handlers.
//
// Middleware is composed with Chain, outermost first:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
//
// RequestIDMiddleware stores the request id where observability.FromContext
// finds it, so handler logs carry it.
package httputil

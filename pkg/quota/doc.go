// Package quota meters monthly feature usage per scope.
//
// # Atomic Consume
//
// Every Store implements ConsumeIfUnderLimit as a single server-side
// operation: the increment is committed only when the resulting total stays
// within the limit, and a rejected request leaves the counter untouched.
// Counters are keyed by (scope, month start); a new month simply starts a new
// key.
//
//	PostgreSQL: INSERT ... ON CONFLICT DO UPDATE ... WHERE calls + n <= limit
//	Redis:      Lua script (GET, compare, INCRBY, EXPIRE)
//	Memory:     mutex-guarded map
//
// # Results
//
// Service methods return a Result tagged Allowed, Rejected or Fault. A Fault
// means the backing store could not be reached; it is permitted (fail open)
// so that metering outages never block the feature being metered.
//
//	res := svc.ConsumeForPlan(ctx, scope.Organization("org-1"), 1)
//	if !res.Permitted() {
//		return res.Err() // *quota.ExceededError
//	}
//
// A nil limit means unlimited and short-circuits without touching the store.
package quota

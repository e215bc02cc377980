// Package plans holds the plan table: per-plan limits and the price-to-plan
// bindings used when a subscription event carries a price id but no plan
// metadata.
//
// # Plan Limits
//
// Every limit is nullable. A nil limit means unlimited:
//
//	free:       25 documents, 100 MB, 20 AI calls/month, 1 seat
//	pro:        1000 documents, 5 GB, 500 AI calls/month, 1 seat
//	team:       unlimited documents, 50 GB, 5000 AI calls/month, 10 seats
//	enterprise: unlimited
//
// # Overrides
//
// A YAML file can replace individual plans and declare price bindings:
//
//	plans:
//	  pro:
//	    document_limit: 2000
//	    storage_limit_mb: 10240
//	    monthly_ai_call_limit: 1000
//	    seat_limit: 1
//	prices:
//	  price_1PRO: pro
//	  price_1TEAM: team
//
// A Watcher reloads the file on change and swaps the table contents in place,
// so components holding the *Table observe the new limits without restart.
package plans

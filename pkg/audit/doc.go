// Package audit records billing actions in the shared activity log.
//
// Audit writes are best-effort: a failed write is retried with exponential
// backoff and then dropped with a log line. It never fails or rolls back the
// billing mutation it describes.
//
//	sink := audit.NewBestEffort(audit.NewDBSink(db), owners, logger, audit.BestEffortConfig{
//		Retry: audit.DefaultRetryConfig(),
//	})
//	sink.Record(ctx, audit.Entry{
//		OrganizationID: "org-1",
//		Action:         audit.ActionSubscriptionCreated,
//		Metadata:       map[string]interface{}{"plan": "pro"},
//	})
//
// When an entry has no actor and names an organization, the organization's
// owner is looked up and recorded as the actor.
package audit

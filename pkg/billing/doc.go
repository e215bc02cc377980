// Package billing mirrors payment-provider subscription events into internal
// subscription state exactly once.
//
// # Pipeline
//
// Every inbound delivery runs the same steps:
//
//	verify signature -> claim in ledger -> resolve scope -> handle -> apply -> audit -> finalize
//
// Verification runs on the raw request body. The ledger claim is the
// deduplication point: a delivery whose event id is already claimed or
// finished returns success without running any handler. Handlers are pure
// functions from a decoded payload and its resolved scope to a list of
// Mutation values; the Processor applies them against the subscription store
// one write at a time.
//
// # Outcomes
//
// A failed write finalizes the ledger row as failed and surfaces a
// RetryableError, which the webhook endpoint maps to 500 so the provider
// redelivers. Audit writes go through audit.BestEffort and never change the
// outcome.
//
// # Usage
//
//	verifier, err := billing.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)
//	processor := billing.NewProcessor(billing.ProcessorConfig{
//		Ledger:        ledger,
//		Subscriptions: store,
//		Plans:         table,
//		Audit:         auditor,
//		Limits:        limits,
//	}, logger, metrics)
//	billing.NewWebhookHandler(verifier, processor, logger, billing.WebhookConfig{}).RegisterRoutes(router)
package billing

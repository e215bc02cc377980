package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/billsync/pkg/audit"
	"github.com/platinummonkey/billsync/pkg/ledger"
	"github.com/platinummonkey/billsync/pkg/observability"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/quota"
	"github.com/platinummonkey/billsync/pkg/scope"
	"github.com/platinummonkey/billsync/pkg/subscriptions"
)

const instrumentationName = "github.com/platinummonkey/billsync/pkg/billing"

// Disposition is how a delivery was handled
type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionDuplicate Disposition = "duplicate"
	DispositionIgnored   Disposition = "ignored"
	DispositionFailed    Disposition = "failed"
)

// Result describes a processed delivery
type Result struct {
	EventID     string      `json:"event_id"`
	EventType   EventType   `json:"event_type"`
	Disposition Disposition `json:"status"`
}

// ProcessorConfig holds the collaborators of a Processor
type ProcessorConfig struct {
	Ledger        ledger.Ledger
	Subscriptions subscriptions.Store
	Plans         *plans.Table

	// Audit may be nil, in which case nothing is recorded
	Audit *audit.BestEffort

	// Limits is invalidated for every scope whose plan changes; may be nil
	Limits *quota.LimitSource

	// Lookup fetches live subscription state at checkout; may be nil
	Lookup        SubscriptionLookup
	LookupTimeout time.Duration
}

// Processor runs verified events through claim, resolve, handle, apply,
// audit and finalize
type Processor struct {
	ledger        ledger.Ledger
	store         subscriptions.Store
	plans         *plans.Table
	resolver      *Resolver
	audit         *audit.BestEffort
	limits        *quota.LimitSource
	lookup        SubscriptionLookup
	lookupTimeout time.Duration
	logger        logrus.FieldLogger
	metrics       *observability.Metrics
	tracer        trace.Tracer
	events        metric.Int64Counter
}

// NewProcessor creates a processor
func NewProcessor(config ProcessorConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *Processor {
	if config.Plans == nil {
		config.Plans = plans.DefaultTable()
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = 5 * time.Second
	}
	// the global meter is a no-op until observability.InitOTel installs one
	events, err := otel.Meter(instrumentationName).Int64Counter("billsync.billing.events",
		metric.WithDescription("Billing events by type and disposition"))
	if err != nil {
		logger.WithError(err).Warn("Failed to create billing event counter")
	}

	return &Processor{
		ledger:        config.Ledger,
		store:         config.Subscriptions,
		plans:         config.Plans,
		resolver:      NewResolver(config.Subscriptions),
		audit:         config.Audit,
		limits:        config.Limits,
		lookup:        config.Lookup,
		lookupTimeout: config.LookupTimeout,
		logger:        logger.WithField("component", "billing"),
		metrics:       metrics,
		tracer:        otel.Tracer(instrumentationName),
		events:        events,
	}
}

// Process handles one verified event. Duplicates and ignored events return a
// nil error. A RetryableError means the event was not applied and should be
// redelivered; ErrMalformedEvent means it never will be.
func (p *Processor) Process(ctx context.Context, ev Event) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "billing.Process", trace.WithAttributes(
		attribute.String("billing.event_id", ev.ID),
		attribute.String("billing.event_type", string(ev.Type)),
		attribute.Bool("billing.livemode", ev.Livemode),
	))
	defer span.End()

	start := time.Now()
	logger := observability.FromContext(ctx, p.logger).WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
	})
	result := Result{EventID: ev.ID, EventType: ev.Type}

	claimed, err := p.ledger.Claim(ctx, ev.ID, string(ev.Type), ev.Livemode, ev.Snapshot())
	if err != nil {
		p.metrics.RecordLedgerClaim("error")
		p.record(ctx, ev.Type, DispositionFailed, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		logger.WithError(err).Error("Failed to claim billing event")
		result.Disposition = DispositionFailed
		return result, retryable("claim event", err)
	}
	if !claimed {
		p.metrics.RecordLedgerClaim("duplicate")
		p.record(ctx, ev.Type, DispositionDuplicate, 0)
		span.SetAttributes(attribute.String("billing.disposition", string(DispositionDuplicate)))
		logger.Info("Billing event already claimed, skipping")
		result.Disposition = DispositionDuplicate
		return result, nil
	}
	p.metrics.RecordLedgerClaim("claimed")

	outcome, err := p.dispatch(ctx, ev, logger)
	if err == nil && outcome.Ignored == "" {
		err = p.apply(ctx, outcome.Mutations, logger)
	}

	// the outcome is decided; a cancelled request must not skip finalize
	finalCtx := context.WithoutCancel(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event failed")
		logger.WithError(err).Error("Billing event failed")
		p.finalize(finalCtx, ev.ID, ledger.StatusFailed, err.Error(), logger)
		p.record(ctx, ev.Type, DispositionFailed, time.Since(start))
		result.Disposition = DispositionFailed
		if errors.Is(err, ErrMalformedEvent) || IsRetryable(err) {
			return result, err
		}
		return result, retryable("process event", err)
	}

	if outcome.Ignored != "" {
		logger.WithField("reason", outcome.Ignored).Info("Billing event ignored")
		p.finalize(finalCtx, ev.ID, ledger.StatusIgnored, outcome.Ignored, logger)
		p.record(ctx, ev.Type, DispositionIgnored, time.Since(start))
		span.SetAttributes(attribute.String("billing.disposition", string(DispositionIgnored)))
		result.Disposition = DispositionIgnored
		return result, nil
	}

	for _, entry := range outcome.Audit {
		if entry.Metadata == nil {
			entry.Metadata = map[string]interface{}{}
		}
		entry.Metadata["event_id"] = ev.ID
		p.audit.Record(finalCtx, entry)
	}

	p.finalize(finalCtx, ev.ID, ledger.StatusProcessed, "", logger)
	p.record(ctx, ev.Type, DispositionProcessed, time.Since(start))
	span.SetAttributes(attribute.String("billing.disposition", string(DispositionProcessed)))
	logger.WithField("mutations", len(outcome.Mutations)).Info("Billing event processed")
	result.Disposition = DispositionProcessed
	return result, nil
}

func (p *Processor) dispatch(ctx context.Context, ev Event, logger logrus.FieldLogger) (Outcome, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		var session CheckoutSession
		if err := decodeObject(ev, &session); err != nil {
			return Outcome{}, err
		}
		sc, err := p.resolver.Resolve(ctx, session.Metadata, session.Customer.String())
		if err != nil {
			if errors.Is(err, ErrScopeUnresolvable) {
				return Outcome{}, retryable("resolve checkout scope", err)
			}
			return Outcome{}, err
		}
		live := p.lookupLive(ctx, session.Subscription.String(), logger)
		return HandleCheckoutCompleted(session, sc, live, p.plans), nil

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub Subscription
		if err := decodeObject(ev, &sub); err != nil {
			return Outcome{}, err
		}
		scopes, err := p.resolver.ResolveAll(ctx, sub.Metadata, sub.Customer.String())
		if err != nil {
			if errors.Is(err, ErrScopeUnresolvable) {
				return Outcome{Ignored: err.Error()}, nil
			}
			return Outcome{}, err
		}
		if ev.Type == EventSubscriptionDeleted {
			return HandleSubscriptionDeleted(sub, scopes, p.plans), nil
		}
		return HandleSubscriptionUpdated(sub, scopes, p.plans), nil

	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv Invoice
		if err := decodeObject(ev, &inv); err != nil {
			return Outcome{}, err
		}
		// attribution only; the status update is not scope-resolved
		attribution, err := p.resolver.ResolveAll(ctx, inv.Metadata, inv.Customer.String())
		if err != nil {
			logger.WithError(err).Debug("Invoice not attributed to a scope")
		}
		return HandleInvoicePayment(inv, ev.Type == EventInvoicePaymentSucceeded, attribution), nil

	case EventTrialWillEnd:
		var sub Subscription
		if err := decodeObject(ev, &sub); err != nil {
			return Outcome{}, err
		}
		logger.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"customer_id":     sub.Customer.String(),
		}).Info("Subscription trial ending")
		return Outcome{}, nil

	default:
		return Outcome{Ignored: fmt.Sprintf("unhandled event type %s", ev.Type)}, nil
	}
}

// apply runs mutations in order. Each write stands on its own; a failure
// stops the remaining writes and the event is redelivered.
func (p *Processor) apply(ctx context.Context, mutations []Mutation, logger logrus.FieldLogger) error {
	var touched []scope.Scope
	defer func() {
		p.limits.Invalidate(touched...)
	}()

	for _, m := range mutations {
		err := p.applyOne(ctx, m)
		switch {
		case err == nil:
			p.metrics.RecordMutation(string(m.Kind), "ok")
			touched = append(touched, m.Scopes()...)
		case errors.Is(err, subscriptions.ErrNotFound):
			p.metrics.RecordMutation(string(m.Kind), "not_found")
			logger.WithFields(logrus.Fields{
				"kind":  m.Kind,
				"scope": m.Scope.String(),
			}).Warn("No subscription record for scope, mutation skipped")
		default:
			p.metrics.RecordMutation(string(m.Kind), "error")
			return retryable(fmt.Sprintf("apply %s", m.Kind), err)
		}
	}
	return nil
}

func (p *Processor) applyOne(ctx context.Context, m Mutation) error {
	switch m.Kind {
	case MutationUpsert:
		return p.store.Upsert(ctx, m.Record)
	case MutationApplyPlan:
		return p.store.ApplyPlan(ctx, m.Scope, m.Update)
	case MutationDowngrade:
		return p.store.Downgrade(ctx, m.Scope, m.Entitlement)
	case MutationStatusByCustomer:
		_, err := p.store.SetStatusByCustomer(ctx, m.CustomerID, m.Status)
		return err
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

func (p *Processor) lookupLive(ctx context.Context, subscriptionID string, logger logrus.FieldLogger) *LiveSubscription {
	if p.lookup == nil || subscriptionID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()

	live, err := p.lookup.Lookup(ctx, subscriptionID)
	if err != nil {
		logger.WithError(err).WithField("subscription_id", subscriptionID).
			Warn("Live subscription lookup failed, defaulting to active")
		return nil
	}
	return live
}

func (p *Processor) finalize(ctx context.Context, eventID string, status ledger.Status, msg string, logger logrus.FieldLogger) {
	if err := p.ledger.Finalize(ctx, eventID, status, ledger.TruncateError(msg)); err != nil {
		p.metrics.RecordFinalizeError()
		logger.WithError(err).WithField("status", status).Error("Failed to finalize billing event")
	}
}

func (p *Processor) record(ctx context.Context, typ EventType, d Disposition, elapsed time.Duration) {
	p.metrics.RecordWebhookEvent(string(typ), string(d), elapsed)
	if p.events != nil {
		p.events.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", string(typ)),
			attribute.String("disposition", string(d)),
		))
	}
}

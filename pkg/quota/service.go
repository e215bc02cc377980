package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/billsync/pkg/observability"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
)

// Service applies quota policy over a Store
type Service struct {
	store   Store
	limits  *LimitSource
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a quota service. store may be nil, in which case every
// limited request faults and is permitted.
func NewService(store Store, limits *LimitSource, logger logrus.FieldLogger, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		limits:  limits,
		logger:  logger.WithField("component", "quota"),
		metrics: metrics,
		tracer:  otel.Tracer("github.com/platinummonkey/billsync/pkg/quota"),
		now:     time.Now,
	}
}

// ConsumeUsage consumes count units against limit for the current month.
// A nil limit is unlimited and never touches the store.
func (s *Service) ConsumeUsage(ctx context.Context, sc scope.Scope, limit *int64, count int64) Result {
	ctx, span := s.tracer.Start(ctx, "quota.ConsumeUsage", trace.WithAttributes(
		attribute.String("scope.type", string(sc.Type)),
		attribute.String("scope.id", sc.ID),
		attribute.Int64("quota.count", count),
	))
	defer span.End()

	start := time.Now()
	res := s.consume(ctx, sc, limit, count)

	span.SetAttributes(attribute.String("quota.outcome", string(res.Outcome)))
	if res.Outcome == OutcomeFault {
		span.SetStatus(codes.Error, res.Cause.Error())
	}
	s.metrics.RecordQuotaDecision(string(sc.Type), string(res.Outcome), s.backend(), time.Since(start))
	return res
}

func (s *Service) consume(ctx context.Context, sc scope.Scope, limit *int64, count int64) Result {
	if err := sc.Validate(); err != nil {
		return Fault(err)
	}
	if count <= 0 {
		return Fault(fmt.Errorf("count must be positive, got %d", count))
	}
	if limit == nil {
		return Unlimited()
	}
	if s.store == nil {
		return Fault(ErrStoreUnavailable)
	}

	allowed, total, err := s.store.ConsumeIfUnderLimit(ctx, sc, MonthStart(s.now()), *limit, count)
	if err != nil {
		s.logger.WithError(err).WithField("scope", sc.String()).
			Warn("Quota store unreachable, allowing request")
		return Fault(err)
	}
	if !allowed {
		return Rejected(total, *limit, "monthly AI call limit reached")
	}
	return Allowed(total, limit)
}

// ConsumeForPlan consumes AI calls against the monthly limit of the scope's
// plan. Failing to determine the plan faults and is permitted.
func (s *Service) ConsumeForPlan(ctx context.Context, sc scope.Scope, count int64) Result {
	if s.limits == nil {
		return Fault(ErrStoreUnavailable)
	}
	limits, err := s.limits.Limits(ctx, sc)
	if err != nil {
		s.logger.WithError(err).WithField("scope", sc.String()).
			Warn("Could not resolve plan limits, allowing request")
		return Fault(err)
	}
	return s.ConsumeUsage(ctx, sc, limits.MonthlyAICallLimit, count)
}

// CheckStorage reports whether adding incomingMB to currentMB stays within
// the plan's storage limit. Nothing is recorded.
func (s *Service) CheckStorage(ctx context.Context, sc scope.Scope, currentMB, incomingMB int64) Result {
	if s.limits == nil {
		return Fault(ErrStoreUnavailable)
	}
	limits, err := s.limits.Limits(ctx, sc)
	if err != nil {
		return Fault(err)
	}
	if limits.StorageLimitMB == nil {
		return Unlimited()
	}
	if currentMB+incomingMB > *limits.StorageLimitMB {
		return Rejected(currentMB, *limits.StorageLimitMB, "storage limit reached")
	}
	return Allowed(currentMB+incomingMB, limits.StorageLimitMB)
}

// Usage returns the current month's counter of a scope
func (s *Service) Usage(ctx context.Context, sc scope.Scope) (int64, error) {
	if s.store == nil {
		return 0, ErrStoreUnavailable
	}
	return s.store.Current(ctx, sc, MonthStart(s.now()))
}

// PlanLimits returns the limits of the scope's plan
func (s *Service) PlanLimits(ctx context.Context, sc scope.Scope) (plans.Limits, error) {
	if s.limits == nil {
		return plans.Limits{}, ErrStoreUnavailable
	}
	return s.limits.Limits(ctx, sc)
}

func (s *Service) backend() string {
	if s.store == nil {
		return "none"
	}
	return s.store.Name()
}

package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/billsync/pkg/observability"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
	"github.com/platinummonkey/billsync/pkg/subscriptions"
)

// RecordReader is the part of the subscription store the limit source needs
type RecordReader interface {
	Get(ctx context.Context, s scope.Scope) (*subscriptions.Record, error)
}

// LimitSource derives a scope's plan limits from its subscription record.
// Results are cached; billing mutations call Invalidate for the scopes they
// touch so upgrades take effect on the next request.
type LimitSource struct {
	records RecordReader
	table   *plans.Table
	cache   *expirable.LRU[scope.Scope, plans.Limits]
	metrics *observability.Metrics
}

// NewLimitSource creates a limit source. size <= 0 disables caching.
func NewLimitSource(records RecordReader, table *plans.Table, size int, ttl time.Duration, metrics *observability.Metrics) *LimitSource {
	ls := &LimitSource{
		records: records,
		table:   table,
		metrics: metrics,
	}
	if size > 0 {
		ls.cache = expirable.NewLRU[scope.Scope, plans.Limits](size, nil, ttl)
	}
	return ls
}

// Limits returns the plan limits of a scope. A scope without a record is on
// the free plan.
func (ls *LimitSource) Limits(ctx context.Context, s scope.Scope) (plans.Limits, error) {
	if ls.cache != nil {
		if l, ok := ls.cache.Get(s); ok {
			ls.metrics.RecordLimitCache(true)
			return l, nil
		}
		ls.metrics.RecordLimitCache(false)
	}

	plan := plans.Free
	rec, err := ls.records.Get(ctx, s)
	switch {
	case errors.Is(err, subscriptions.ErrNotFound):
	case err != nil:
		return plans.Limits{}, fmt.Errorf("failed to load subscription for limits: %w", err)
	default:
		plan = rec.Plan
	}

	limits, ok := ls.table.Limits(plan)
	if !ok {
		limits, _ = ls.table.Limits(plans.Free)
	}

	if ls.cache != nil {
		ls.cache.Add(s, limits)
	}
	return limits, nil
}

// Invalidate drops the cached limits of the given scopes
func (ls *LimitSource) Invalidate(scopes ...scope.Scope) {
	if ls == nil || ls.cache == nil {
		return
	}
	for _, s := range scopes {
		ls.cache.Remove(s)
	}
}

// Purge drops every cached entry, used after the plan table reloads
func (ls *LimitSource) Purge() {
	if ls == nil || ls.cache == nil {
		return
	}
	ls.cache.Purge()
}

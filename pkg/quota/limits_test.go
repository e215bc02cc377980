package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/billsync/pkg/observability"
	"github.com/platinummonkey/billsync/pkg/plans"
	"github.com/platinummonkey/billsync/pkg/scope"
	"github.com/platinummonkey/billsync/pkg/subscriptions"
)

type countingReader struct {
	inner RecordReader
	calls int
	err   error
}

func (c *countingReader) Get(ctx context.Context, s scope.Scope) (*subscriptions.Record, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Get(ctx, s)
}

func TestLimitSource_CachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	records := subscriptions.NewMemoryStore()
	reader := &countingReader{inner: records}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ls := NewLimitSource(reader, plans.DefaultTable(), 16, time.Minute, metrics)
	sc := scope.Personal("user-1")

	limits, err := ls.Limits(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, int64(20), *limits.MonthlyAICallLimit)

	_, err = ls.Limits(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	require.NoError(t, records.Upsert(ctx, &subscriptions.Record{Scope: sc, Plan: plans.Pro, Status: subscriptions.StatusActive}))
	ls.Invalidate(sc)

	limits, err = ls.Limits(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), *limits.MonthlyAICallLimit)
	assert.Equal(t, 2, reader.calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LimitCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LimitCacheTotal.WithLabelValues("miss")))
}

func TestLimitSource_Errors(t *testing.T) {
	reader := &countingReader{err: errors.New("db down")}
	ls := NewLimitSource(reader, plans.DefaultTable(), 16, time.Minute, nil)

	_, err := ls.Limits(context.Background(), scope.Personal("user-1"))
	assert.Error(t, err)

	_, err = ls.Limits(context.Background(), scope.Personal("user-1"))
	assert.Error(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestLimitSource_UncachedAndNilSafe(t *testing.T) {
	reader := &countingReader{inner: subscriptions.NewMemoryStore()}
	ls := NewLimitSource(reader, plans.DefaultTable(), 0, 0, nil)

	for i := 0; i < 3; i++ {
		_, err := ls.Limits(context.Background(), scope.Personal("user-1"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, reader.calls)

	var nilSource *LimitSource
	assert.NotPanics(t, func() {
		nilSource.Invalidate(scope.Personal("x"))
		nilSource.Purge()
		ls.Purge()
	})
}

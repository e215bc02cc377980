package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/billsync/pkg/scope"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_ConsumeIfUnderLimit(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	sc := scope.Organization("org-1")
	month := MonthStart(fixedNow)

	ok, total, err := store.ConsumeIfUnderLimit(ctx, sc, month, 3, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), total)

	ok, total, err = store.ConsumeIfUnderLimit(ctx, sc, month, 3, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), total)

	ok, total, err = store.ConsumeIfUnderLimit(ctx, sc, month, 3, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), total)

	key := "billsync:quota:organization:org-1:2026-03"
	value, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "3", value)
	assert.True(t, mr.TTL(key) > 60*24*time.Hour)

	current, err := store.Current(ctx, sc, month)
	require.NoError(t, err)
	assert.Equal(t, int64(3), current)
}

func TestRedisStore_CurrentMissingKey(t *testing.T) {
	store, _ := newTestRedisStore(t)
	current, err := store.Current(context.Background(), scope.Personal("nobody"), MonthStart(fixedNow))
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestRedisStore_UnreachableFailsOpen(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	svc := newTestService(t, store, nil)
	limit := int64(5)
	res := svc.ConsumeUsage(context.Background(), scope.Personal("user-1"), &limit, 1)

	assert.Equal(t, OutcomeFault, res.Outcome)
	assert.True(t, res.Permitted())
}

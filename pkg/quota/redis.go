package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/billsync/pkg/scope"
)

// consumeScript increments KEYS[1] by ARGV[1] unless that would exceed
// ARGV[2]. Returns {allowed, total}.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local count = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + count > limit then
	return {0, current}
end
local total = redis.call('INCRBY', KEYS[1], count)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return {1, total}
`)

// counterTTL keeps a month's key around past its month for reporting
const counterTTL = 62 * 24 * time.Hour

// RedisStore keeps counters in Redis
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis counter store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "billsync:quota"}
}

// Name returns the backend name
func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) key(sc scope.Scope, month time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, sc.Type, sc.ID, month.UTC().Format("2006-01"))
}

// ConsumeIfUnderLimit runs the consume script
func (s *RedisStore) ConsumeIfUnderLimit(ctx context.Context, sc scope.Scope, month time.Time, limit, count int64) (bool, int64, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.key(sc, month)},
		count, limit, int64(counterTTL.Seconds()),
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to consume quota: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected consume script reply: %v", res)
	}

	allowed, ok1 := res[0].(int64)
	total, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("unexpected consume script reply: %v", res)
	}
	return allowed == 1, total, nil
}

// Current reads the counter of a key
func (s *RedisStore) Current(ctx context.Context, sc scope.Scope, month time.Time) (int64, error) {
	n, err := s.client.Get(ctx, s.key(sc, month)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return n, nil
}

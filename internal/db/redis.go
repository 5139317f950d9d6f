// Package db holds the Redis counter store used for day-scoped usage
// counters. The durable per-entry counters live in the primary store; the
// Redis keys answer "how is this entry doing today" for ops dashboards
// without scanning the audit log.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// dailyTTL keeps a day key around long enough to survive timezone skew
// between writer and reader before Redis reclaims it.
const dailyTTL = 48 * time.Hour

// RedisStore wraps a redis client for daily counter operations.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// IncrementDailyImpression increments today's impression counter for an
// entry. A TTL is applied on first set.
func (r *RedisStore) IncrementDailyImpression(ctx context.Context, entryID string, day time.Time) error {
	return r.incrementDaily(ctx, "imp", entryID, day)
}

// IncrementDailyClick increments today's click counter for an entry.
// A TTL is applied on first set.
func (r *RedisStore) IncrementDailyClick(ctx context.Context, entryID string, day time.Time) error {
	return r.incrementDaily(ctx, "click", entryID, day)
}

func (r *RedisStore) incrementDaily(ctx context.Context, kind, entryID string, day time.Time) error {
	key := dailyKey(kind, entryID, day)
	val, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if val == 1 {
		r.Client.Expire(ctx, key, dailyTTL)
	}
	return nil
}

// GetDailyCounts returns today's impressions and clicks for an entry.
// Missing keys read as zero.
func (r *RedisStore) GetDailyCounts(ctx context.Context, entryID string, day time.Time) (int64, int64) {
	imps, _ := r.Client.Get(ctx, dailyKey("imp", entryID, day)).Int64()
	clicks, _ := r.Client.Get(ctx, dailyKey("click", entryID, day)).Int64()
	return imps, clicks
}

func dailyKey(kind, entryID string, day time.Time) string {
	return fmt.Sprintf("%s:entry:%s:%s", kind, entryID, day.Format("2006-01-02"))
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}

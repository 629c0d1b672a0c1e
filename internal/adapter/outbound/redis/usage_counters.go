package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/genforge/server/internal/module/credits"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const generationCountKeyPrefix = "usage:generations:"

// usageCounters implements credits.UsageCounters on Redis. Keys are scoped to
// the calendar month and expire shortly after the period ends, so rollover
// needs no explicit reset.
type usageCounters struct {
	client redis.UniversalClient
}

// NewUsageCounters creates a new usage counter adapter.
func NewUsageCounters(client redis.UniversalClient) credits.UsageCounters {
	return &usageCounters{client: client}
}

func (c *usageCounters) key(userID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", generationCountKeyPrefix, userID.String(), time.Now().UTC().Format("2006-01"))
}

func (c *usageCounters) IncrementGenerations(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := c.key(userID)
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// Expire at end of month plus a buffer.
	now := time.Now().UTC()
	endOfMonth := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	ttl := time.Until(endOfMonth) + 24*time.Hour
	if ttl > 0 {
		c.client.Expire(ctx, key, ttl)
	}

	return val, nil
}

func (c *usageCounters) DecrementGenerations(ctx context.Context, userID uuid.UUID) error {
	key := c.key(userID)
	val, err := c.client.Decr(ctx, key).Result()
	if err != nil {
		return err
	}
	// Clamp at zero in case the increment expired before the decrement.
	if val < 0 {
		return c.client.Set(ctx, key, 0, redis.KeepTTL).Err()
	}
	return nil
}

func (c *usageCounters) GenerationsThisPeriod(ctx context.Context, userID uuid.UUID) (int64, error) {
	val, err := c.client.Get(ctx, c.key(userID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}

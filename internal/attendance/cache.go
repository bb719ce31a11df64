package attendance

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// dayCacheClient is the slice of redis used by the day cache.
type dayCacheClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// DayCache marks (date, user) pairs in Redis as a fast pre-check for
// "already marked today". It is strictly advisory: any Redis error
// degrades to "not marked" and the Postgres create-if-absent write
// stays the source of truth.
type DayCache struct {
	client dayCacheClient
	ttl    time.Duration
}

// NewDayCache wraps a redis client. Keys expire after two days; the
// composite key only matters within one calendar date.
func NewDayCache(client *redis.Client) *DayCache {
	return &DayCache{client: client, ttl: 48 * time.Hour}
}

func dayKey(date, userID string) string {
	return "attendance:marked:" + date + ":" + userID
}

// Marked reports whether the pair was seen before. Errors read as false.
func (c *DayCache) Marked(ctx context.Context, date, userID string) bool {
	if c == nil || c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, dayKey(date, userID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Mark remembers the pair with create-if-absent semantics, mirroring
// the record store's contract. Failures are logged and dropped.
func (c *DayCache) Mark(ctx context.Context, date, userID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.SetNX(ctx, dayKey(date, userID), "1", c.ttl).Err(); err != nil {
		log.Printf("day cache set failed: %v", err)
	}
}

var _ DayMarker = (*DayCache)(nil)

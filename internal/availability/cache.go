package availability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a short-TTL read cache for day schedules. It only serves the
// display grid; booking admission always re-checks live state, so a stale
// entry can never cause a double booking.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache returns a cache over rdb. A nil client disables caching.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(calleeID, day string) string {
	return "availability:" + calleeID + ":" + day
}

// Get returns the cached schedule and whether it was present. Redis errors
// read as a miss.
func (c *Cache) Get(ctx context.Context, calleeID, day string) (DaySchedule, bool) {
	if c == nil || c.rdb == nil {
		return DaySchedule{}, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(calleeID, day)).Bytes()
	if err != nil {
		return DaySchedule{}, false
	}
	var sched DaySchedule
	if err := json.Unmarshal(raw, &sched); err != nil {
		return DaySchedule{}, false
	}
	return sched, true
}

// Put stores the schedule for the configured TTL. Failures are ignored.
func (c *Cache) Put(ctx context.Context, sched DaySchedule) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(sched)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, cacheKey(sched.CalleeID, sched.Day), raw, c.ttl).Err()
}

// Invalidate drops the cached schedule for one callee and day. Called after
// a booking or cancellation lands so the grid does not show stale state for
// a full TTL. The day string must be the business-zone day the schedule was
// stored under, as produced by Resolver.DayOf.
func (c *Cache) Invalidate(ctx context.Context, calleeID, day string) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, cacheKey(calleeID, day)).Err()
}

package httpx

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts requests per key in fixed windows stored in Redis,
// so every instance of the service draws from the same budget. Each window
// gets its own key (prefix:key:bucket) that expires shortly after it closes.
type RedisRateLimiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(rdb redis.Cmdable, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: prefix, now: time.Now}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := rl.now().UnixMilli() / rl.window.Milliseconds()
	k := rl.prefix + ":" + key + ":" + strconv.FormatInt(bucket, 10)

	var incr *redis.IntCmd
	_, err := rl.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, 2*rl.window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= rl.limit, nil
}

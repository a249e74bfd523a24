package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// Wait polls no faster than minPoll and no slower than maxPoll.
const (
	minPoll = 10 * time.Millisecond
	maxPoll = 250 * time.Millisecond
)

// RateLimiter is a sliding-window limiter over Redis sorted sets. The price
// feed throttles each venue with it and the HTTP server each client IP.
type RateLimiter struct {
	c   *Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow counts one request against key and reports whether it fits in the
// last window. Rejected requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	res, err := slidingWindow.Run(ctx, rl.c.rdb,
		[]string{rl.c.Key("ratelimit", key)},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, nil
}

// Wait blocks until Allow succeeds or ctx ends. The poll interval is the
// average spacing of the limit, clamped to [minPoll, maxPoll].
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	poll := maxPoll
	if limit > 0 {
		poll = min(maxPoll, max(minPoll, window/time.Duration(limit)))
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		ok, err := rl.Allow(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

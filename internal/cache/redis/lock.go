package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// releaseLua deletes the lock only while it still carries the owner's token.
var releaseLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

const releaseTimeout = 5 * time.Second

// LockManager hands out expiring per-key locks. The executor takes
// "exec:{token}" before working a token so two trades never overlap on it,
// even across processes.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire takes the lock for key. It fails with domain.ErrLockHeld while
// someone else holds it. The returned release func is idempotent and uses
// its own context so it works after the caller's context is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lm.c.Key("lock", key)
	owner := uuid.NewString()

	err := lm.c.rdb.SetArgs(ctx, k, owner, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case err == redis.Nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseLua.Run(rctx, lm.c.rdb, []string{k}, owner).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)

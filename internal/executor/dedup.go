package executor

import (
	"sync"
	"time"
)

// Dedup keeps the engine from trading the same token twice within a cooldown
// window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // token -> last attempt
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given cooldown. A zero ttl disables it.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if key was seen within the TTL window. Otherwise
// the key is recorded and false is returned.
func (d *Dedup) IsDuplicate(key string) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget clears key so the next attempt is not treated as a duplicate.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries and returns how many it dropped.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	n := 0
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
			n++
		}
	}
	return n
}

// Len returns the number of tokens currently tracked.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

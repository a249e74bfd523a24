package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. All venue
// quotes for a token live in one hash at "{ns}:quote:{token}", one field per venue,
// and the hash expires ttl after the last write.
type PriceCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, rdb: c.Underlying(), ttl: ttl}
}

func (pc *PriceCache) key(token string) string {
	return pc.c.Key("quote", token)
}

// SetQuote stores q under its venue.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: encode quote %s/%s: %w", q.Venue, q.Token, err)
	}
	key := pc.key(q.Token)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, q.Venue, data)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Venue, q.Token, err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (pc *PriceCache) GetQuote(ctx context.Context, venue, token string) (domain.PriceQuote, error) {
	raw, err := pc.rdb.HGet(ctx, pc.key(token), venue).Bytes()
	if err == redis.Nil {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s/%s: %w", venue, token, err)
	}
	var q domain.PriceQuote
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: decode quote %s/%s: %w", venue, token, err)
	}
	return q, nil
}

// GetQuotes returns every cached venue quote for token. Undecodable fields are
// skipped.
func (pc *PriceCache) GetQuotes(ctx context.Context, token string) (map[string]domain.PriceQuote, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.key(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get quotes %s: %w", token, err)
	}
	out := make(map[string]domain.PriceQuote, len(vals))
	for venue, raw := range vals {
		var q domain.PriceQuote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			continue
		}
		out[venue] = q
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

package domain

import (
	"context"
	"time"
)

// PriceCache keeps the latest quote per venue and token.
type PriceCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, venue, token string) (PriceQuote, error)
	GetQuotes(ctx context.Context, token string) (map[string]PriceQuote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Bus channels.
const (
	ChannelOpportunities = "opportunities"
	ChannelTrades        = "trades"
	ChannelStatus        = "status"
	StreamTrades         = "stream:trades"
)

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

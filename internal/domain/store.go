package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeRecordStore is the durable append-only trade history.
type TradeRecordStore interface {
	Append(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore persists session snapshots keyed by session id.
type SessionStore interface {
	UpsertSnapshot(ctx context.Context, stats SessionStats) error
	Get(ctx context.Context, sessionID string) (SessionStats, error)
	Latest(ctx context.Context) (SessionStats, error)
}

// ConfigStore persists the operator-controlled session config.
type ConfigStore interface {
	Save(ctx context.Context, cfg SessionConfig) error
	Load(ctx context.Context) (SessionConfig, error)
}

// BlacklistStore persists blacklisted tokens.
type BlacklistStore interface {
	Add(ctx context.Context, token, reason string) error
	Remove(ctx context.Context, token string) error
	List(ctx context.Context) ([]string, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

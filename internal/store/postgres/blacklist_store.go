package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// BlacklistStore implements domain.BlacklistStore using PostgreSQL.
type BlacklistStore struct {
	pool *pgxpool.Pool
}

// NewBlacklistStore creates a new BlacklistStore backed by the given connection pool.
func NewBlacklistStore(pool *pgxpool.Pool) *BlacklistStore {
	return &BlacklistStore{pool: pool}
}

// Add blacklists token. Adding an existing token updates its reason.
func (s *BlacklistStore) Add(ctx context.Context, token, reason string) error {
	const query = `
		INSERT INTO blacklist (token, reason) VALUES ($1, $2)
		ON CONFLICT (token) DO UPDATE SET reason = EXCLUDED.reason`
	if _, err := s.pool.Exec(ctx, query, token, reason); err != nil {
		return fmt.Errorf("postgres: blacklist %s: %w", token, err)
	}
	return nil
}

// Remove deletes token, returning domain.ErrNotFound if it was not listed.
func (s *BlacklistStore) Remove(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blacklist WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("postgres: unblacklist %s: %w", token, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns every blacklisted token, sorted.
func (s *BlacklistStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT token FROM blacklist ORDER BY token`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list blacklist: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan blacklist: %w", err)
	}
	return tokens, nil
}

var _ domain.BlacklistStore = (*BlacklistStore)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionCols = `session_id, started_at, total_scans, opportunities_found,
	trades_executed, successful_trades, failed_trades, total_profit, total_fees,
	largest_profit, largest_loss, success_rate, updated_at`

// UpsertSnapshot writes the latest counters of a session.
func (s *SessionStore) UpsertSnapshot(ctx context.Context, st domain.SessionStats) error {
	const query = `
		INSERT INTO session_snapshots (` + sessionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			total_scans         = EXCLUDED.total_scans,
			opportunities_found = EXCLUDED.opportunities_found,
			trades_executed     = EXCLUDED.trades_executed,
			successful_trades   = EXCLUDED.successful_trades,
			failed_trades       = EXCLUDED.failed_trades,
			total_profit        = EXCLUDED.total_profit,
			total_fees          = EXCLUDED.total_fees,
			largest_profit      = EXCLUDED.largest_profit,
			largest_loss        = EXCLUDED.largest_loss,
			success_rate        = EXCLUDED.success_rate,
			updated_at          = NOW()`

	_, err := s.pool.Exec(ctx, query,
		st.SessionID, st.StartedAt, st.TotalScans, st.OpportunitiesFound,
		st.TradesExecuted, st.SuccessfulTrades, st.FailedTrades,
		st.TotalProfit, st.TotalFees, st.LargestProfit, st.LargestLoss, st.SuccessRate,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert session snapshot %s: %w", st.SessionID, err)
	}
	return nil
}

func (s *SessionStore) getOne(ctx context.Context, query string, args ...any) (domain.SessionStats, error) {
	var st domain.SessionStats
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&st.SessionID, &st.StartedAt, &st.TotalScans, &st.OpportunitiesFound,
		&st.TradesExecuted, &st.SuccessfulTrades, &st.FailedTrades,
		&st.TotalProfit, &st.TotalFees, &st.LargestProfit, &st.LargestLoss,
		&st.SuccessRate, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionStats{}, domain.ErrNotFound
	}
	return st, err
}

// Get returns the snapshot of one session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	st, err := s.getOne(ctx, `SELECT `+sessionCols+` FROM session_snapshots WHERE session_id = $1`, sessionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return st, fmt.Errorf("postgres: get session %s: %w", sessionID, err)
	}
	return st, err
}

// Latest returns the most recently started session.
func (s *SessionStore) Latest(ctx context.Context) (domain.SessionStats, error) {
	st, err := s.getOne(ctx, `SELECT `+sessionCols+` FROM session_snapshots ORDER BY started_at DESC LIMIT 1`)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return st, fmt.Errorf("postgres: latest session: %w", err)
	}
	return st, err
}

var _ domain.SessionStore = (*SessionStore)(nil)

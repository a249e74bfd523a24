package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// TradeRecordStore implements domain.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *pgxpool.Pool
}

// NewTradeRecordStore creates a new TradeRecordStore backed by the given connection pool.
func NewTradeRecordStore(pool *pgxpool.Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

const tradeRecordCols = `id, kind, token, symbol, buy_venue, sell_venue,
	buy_price, sell_price, size, notional, pnl, fee, success, state,
	fail_reason, detail, tx_ids, started_at, ts`

func scanTradeRecords(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var startedAt *time.Time
		if err := rows.Scan(
			&r.ID, &r.Kind, &r.Token, &r.Symbol, &r.BuyVenue, &r.SellVenue,
			&r.BuyPrice, &r.SellPrice, &r.Size, &r.Notional, &r.PnL, &r.Fee,
			&r.Success, &r.State, &r.FailReason, &r.Detail, &r.TxIDs,
			&startedAt, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		if startedAt != nil {
			r.StartedAt = *startedAt
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Append inserts a record. Records are immutable, so a repeated id is
// ignored.
func (s *TradeRecordStore) Append(ctx context.Context, r domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (` + tradeRecordCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO NOTHING`

	var startedAt *time.Time
	if !r.StartedAt.IsZero() {
		startedAt = &r.StartedAt
	}
	txIDs := r.TxIDs
	if txIDs == nil {
		txIDs = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		r.ID, string(r.Kind), r.Token, r.Symbol, r.BuyVenue, r.SellVenue,
		r.BuyPrice, r.SellPrice, r.Size, r.Notional, r.PnL, r.Fee,
		r.Success, string(r.State), string(r.FailReason), r.Detail, txIDs,
		startedAt, r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade record %s: %w", r.ID, err)
	}
	return nil
}

// ListRecent returns records newest first.
func (s *TradeRecordStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := withListOpts(`SELECT `+tradeRecordCols+` FROM trade_records WHERE 1=1`, nil, "ts", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return recs, nil
}

// ListBefore returns up to limit records older than before, oldest first.
func (s *TradeRecordStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error) {
	const query = `SELECT ` + tradeRecordCols + ` FROM trade_records
		WHERE ts < $1 ORDER BY ts ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return recs, nil
}

// DeleteBefore removes records older than before and returns how many.
func (s *TradeRecordStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_records WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trade records before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeRecordStore = (*TradeRecordStore)(nil)

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

const defaultBatch = 5000

// TradeArchiveStore is the part of the trade record store the archiver needs.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeArchiver implements domain.Archiver. Records are appended as JSONL to
// one object per calendar month of their timestamp and removed from the
// store only after the upload succeeded.
type TradeArchiver struct {
	blobs  domain.BlobStore
	trades TradeArchiveStore
	audit  domain.AuditStore
	batch  int
	logger *slog.Logger
}

// NewArchiver creates a TradeArchiver. audit may be nil.
func NewArchiver(blobs domain.BlobStore, trades TradeArchiveStore, audit domain.AuditStore, logger *slog.Logger) *TradeArchiver {
	return &TradeArchiver{
		blobs:  blobs,
		trades: trades,
		audit:  audit,
		batch:  defaultBatch,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades moves every record older than before to cold storage and
// returns how many were archived.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		n, done, err := a.archiveBatch(ctx, before)
		total += n
		if err != nil {
			return total, err
		}
		if done {
			break
		}
	}
	if total > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive_trades", map[string]any{
			"count":  total,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return total, nil
}

// archiveBatch archives the oldest batch of records. A full batch is cut
// back to whole timestamps so the delete never removes a record that was
// not uploaded.
func (a *TradeArchiver) archiveBatch(ctx context.Context, before time.Time) (int64, bool, error) {
	recs, err := a.trades.ListBefore(ctx, before, a.batch)
	if err != nil {
		return 0, true, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(recs) == 0 {
		return 0, true, nil
	}

	cutoff, done := before, len(recs) < a.batch
	if !done {
		cutoff = recs[len(recs)-1].Timestamp
		keep := slices.IndexFunc(recs, func(r domain.TradeRecord) bool { return !r.Timestamp.Before(cutoff) })
		if keep == 0 {
			return 0, true, fmt.Errorf("s3blob: archive: more than %d records share timestamp %s", a.batch, cutoff.Format(time.RFC3339Nano))
		}
		recs = recs[:keep]
	}

	for month, group := range groupByMonth(recs) {
		if err := a.appendMonth(ctx, month, group); err != nil {
			return 0, true, err
		}
	}

	deleted, err := a.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, true, fmt.Errorf("s3blob: archive delete: %w", err)
	}
	if deleted != int64(len(recs)) {
		a.logger.WarnContext(ctx, "archived and deleted counts differ",
			slog.Int("archived", len(recs)),
			slog.Int64("deleted", deleted),
		)
	}
	a.logger.InfoContext(ctx, "archived trade records",
		slog.Int("count", len(recs)),
		slog.Time("cutoff", cutoff),
	)
	return int64(len(recs)), done, nil
}

// appendMonth adds recs to the month's object, keeping what is already there.
func (a *TradeArchiver) appendMonth(ctx context.Context, month string, recs []domain.TradeRecord) error {
	path := ArchivePath(month)

	var buf bytes.Buffer
	existing, err := a.blobs.Get(ctx, path)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return fmt.Errorf("s3blob: archive read %s: %w", path, err)
	default:
		_, err = io.Copy(&buf, existing)
		existing.Close()
		if err != nil {
			return fmt.Errorf("s3blob: archive read %s: %w", path, err)
		}
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	if err := writeJSONL(&buf, recs); err != nil {
		return fmt.Errorf("s3blob: archive encode %s: %w", path, err)
	}
	if err := a.blobs.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return nil
}

// ArchivePath is the object key for one month of trade records, e.g.
// archive/trades/2026-01.jsonl.
func ArchivePath(month string) string {
	return "archive/trades/" + month + ".jsonl"
}

func groupByMonth(recs []domain.TradeRecord) map[string][]domain.TradeRecord {
	out := make(map[string][]domain.TradeRecord)
	for _, r := range recs {
		m := r.Timestamp.UTC().Format("2006-01")
		out[m] = append(out[m], r)
	}
	return out
}

func writeJSONL(w io.Writer, recs []domain.TradeRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, r := range recs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

var _ domain.Archiver = (*TradeArchiver)(nil)

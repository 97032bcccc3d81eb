package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fundproof/core/pkg/contracts"
)

// SQLiteAnchorOutbox queues best-effort anchoring transactions (vote anchors
// and attachment-hash anchors). Entries are scheduled with a deterministic
// idempotency key so a retried vote submission never enqueues the same
// anchor twice, and drained by the reconciler with bounded exponential
// backoff. Anchoring failure never blocks or invalidates the verdict.
type SQLiteAnchorOutbox struct {
	db *sql.DB

	// Backoff schedule for failed attempts.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func NewSQLiteAnchorOutbox(db *sql.DB) (*SQLiteAnchorOutbox, error) {
	s := &SQLiteAnchorOutbox{
		db:          db,
		BaseDelay:   2 * time.Second,
		MaxDelay:    5 * time.Minute,
		MaxAttempts: 8,
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAnchorOutbox) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS anchor_outbox (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload BLOB NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		tx_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_due ON anchor_outbox(status, next_attempt_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Schedule enqueues an anchor. The id is the idempotency key; re-scheduling
// an existing id is a no-op.
func (s *SQLiteAnchorOutbox) Schedule(ctx context.Context, rec *contracts.AnchorRecord) error {
	query := `INSERT INTO anchor_outbox (id, contract_id, kind, payload, next_attempt_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	next := rec.NextAttemptAt
	if next.IsZero() {
		next = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ContractID, string(rec.Kind), rec.Payload, next.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule anchor: %w", err)
	}
	return nil
}

// Due returns pending anchors whose next attempt time has passed.
func (s *SQLiteAnchorOutbox) Due(ctx context.Context, now time.Time, limit int) ([]contracts.AnchorRecord, error) {
	query := `SELECT id, contract_id, kind, payload, attempts, next_attempt_at, status, tx_id
		FROM anchor_outbox
		WHERE status = 'PENDING' AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.AnchorRecord
	for rows.Next() {
		var (
			rec  contracts.AnchorRecord
			kind string
			next string
		)
		if err := rows.Scan(&rec.ID, &rec.ContractID, &kind, &rec.Payload, &rec.Attempts, &next, &rec.Status, &rec.TxID); err != nil {
			return nil, err
		}
		rec.Kind = contracts.AnchorKind(kind)
		if ts, err := time.Parse(time.RFC3339Nano, next); err == nil {
			rec.NextAttemptAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkDone settles an anchor with its confirmed transaction id.
func (s *SQLiteAnchorOutbox) MarkDone(ctx context.Context, id, txID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE anchor_outbox SET status = 'DONE', tx_id = ? WHERE id = ?`, txID, id)
	return err
}

// MarkFailed reschedules a failed attempt with exponential backoff, or
// parks the record as FAILED once the attempt budget is spent.
func (s *SQLiteAnchorOutbox) MarkFailed(ctx context.Context, id string, now time.Time) error {
	var attempts int
	err := s.db.QueryRowContext(ctx, `SELECT attempts FROM anchor_outbox WHERE id = ?`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return fmt.Errorf("anchor %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return err
	}

	attempts++
	if attempts >= s.MaxAttempts {
		_, err = s.db.ExecContext(ctx,
			`UPDATE anchor_outbox SET status = 'FAILED', attempts = ? WHERE id = ?`, attempts, id)
		return err
	}

	delay := s.BaseDelay << (attempts - 1)
	if delay > s.MaxDelay || delay <= 0 {
		delay = s.MaxDelay
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE anchor_outbox SET attempts = ?, next_attempt_at = ? WHERE id = ?`,
		attempts, now.Add(delay).UTC().Format(time.RFC3339Nano), id)
	return err
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fundproof/core/pkg/contracts"
)

// SQLiteEscrowStore caches on-ledger escrow state per campaign and owns the
// exactly-once release-claim gate. The claim is a conditional UPDATE, so two
// concurrent submissions that both observe an Approved verdict race on a
// single atomic statement and only one wins — and the flag survives process
// restarts, unlike an in-memory gate.
type SQLiteEscrowStore struct {
	db *sql.DB
}

func NewSQLiteEscrowStore(db *sql.DB) (*SQLiteEscrowStore, error) {
	s := &SQLiteEscrowStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEscrowStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS escrows (
		campaign_id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		escrow_address TEXT NOT NULL,
		ngo_address TEXT NOT NULL,
		goal INTEGER NOT NULL,
		deadline TEXT NOT NULL,
		approval_threshold REAL NOT NULL,
		released INTEGER NOT NULL DEFAULT 0,
		release_claimed INTEGER NOT NULL DEFAULT 0,
		release_tx_id TEXT NOT NULL DEFAULT '',
		release_confirmed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Create records a freshly deployed escrow. At most one escrow exists per
// campaign; a second create fails with ErrEscrowExists.
func (s *SQLiteEscrowStore) Create(ctx context.Context, e *contracts.EscrowState) error {
	query := `INSERT INTO escrows (campaign_id, contract_id, escrow_address, ngo_address, goal, deadline, approval_threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		e.CampaignID, e.ContractID, e.EscrowAddress, e.NGOAddress, e.Goal,
		e.Deadline.UTC().Format(time.RFC3339), e.ApprovalThreshold,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert escrow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("campaign %s: %w", e.CampaignID, contracts.ErrEscrowExists)
	}
	return nil
}

// Get returns the cached escrow state for a campaign, or ErrNotFound.
func (s *SQLiteEscrowStore) Get(ctx context.Context, campaignID string) (*contracts.EscrowState, error) {
	query := `SELECT campaign_id, contract_id, escrow_address, ngo_address, goal, deadline, approval_threshold,
		released, release_claimed, release_tx_id, release_confirmed, created_at
		FROM escrows WHERE campaign_id = ?`

	var (
		e                            contracts.EscrowState
		deadline, created            string
		released, claimed, confirmed int
	)
	err := s.db.QueryRowContext(ctx, query, campaignID).Scan(
		&e.CampaignID, &e.ContractID, &e.EscrowAddress, &e.NGOAddress, &e.Goal,
		&deadline, &e.ApprovalThreshold, &released, &claimed, &e.ReleaseTxID, &confirmed, &created,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escrow for campaign %s: %w", campaignID, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	e.Released = released != 0
	e.ReleaseClaimed = claimed != 0
	e.ReleaseConfirmed = confirmed != 0
	if ts, err := time.Parse(time.RFC3339, deadline); err == nil {
		e.Deadline = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		e.CreatedAt = ts
	}
	return &e, nil
}

// ClaimRelease atomically claims the release trigger for a campaign.
// Returns true exactly once; later claims (including after a restart)
// observe false and must not submit a fresh release.
func (s *SQLiteEscrowStore) ClaimRelease(ctx context.Context, campaignID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET release_claimed = 1 WHERE campaign_id = ? AND release_claimed = 0`,
		campaignID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim release: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkReleaseClaimed mirrors a release claim won on an external gate into
// the escrow row, so PendingReleases sees it and the reconciler can resume
// the release if this process dies mid-flight. Idempotent; a no-op when the
// SQLite store is itself the gate and ClaimRelease already set the flag.
func (s *SQLiteEscrowStore) MarkReleaseClaimed(ctx context.Context, campaignID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET release_claimed = 1 WHERE campaign_id = ?`,
		campaignID,
	)
	return err
}

// MarkReleaseSubmitted records the release transaction id once the ledger
// accepted the submission.
func (s *SQLiteEscrowStore) MarkReleaseSubmitted(ctx context.Context, campaignID, txID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET release_tx_id = ?, released = 1 WHERE campaign_id = ?`,
		txID, campaignID,
	)
	return err
}

// MarkReleaseConfirmed records ledger finality for the release transaction.
func (s *SQLiteEscrowStore) MarkReleaseConfirmed(ctx context.Context, campaignID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET release_confirmed = 1 WHERE campaign_id = ?`,
		campaignID,
	)
	return err
}

// PendingReleases lists campaigns whose release was claimed but has not yet
// confirmed. The reconciler re-drives these against the same claimed intent.
func (s *SQLiteEscrowStore) PendingReleases(ctx context.Context) ([]contracts.EscrowState, error) {
	query := `SELECT campaign_id, contract_id, escrow_address, ngo_address, goal, deadline, approval_threshold,
		released, release_claimed, release_tx_id, release_confirmed, created_at
		FROM escrows WHERE release_claimed = 1 AND release_confirmed = 0`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.EscrowState
	for rows.Next() {
		var (
			e                            contracts.EscrowState
			deadline, created            string
			released, claimed, confirmed int
		)
		if err := rows.Scan(
			&e.CampaignID, &e.ContractID, &e.EscrowAddress, &e.NGOAddress, &e.Goal,
			&deadline, &e.ApprovalThreshold, &released, &claimed, &e.ReleaseTxID, &confirmed, &created,
		); err != nil {
			return nil, err
		}
		e.Released = released != 0
		e.ReleaseClaimed = claimed != 0
		e.ReleaseConfirmed = confirmed != 0
		if ts, err := time.Parse(time.RFC3339, deadline); err == nil {
			e.Deadline = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

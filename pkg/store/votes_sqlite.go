// Package store implements the durable, append-only persistence layer:
// the deduplicated vote ledger, the escrow-state cache with its atomic
// release-claim gate, and the anchoring outbox.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fundproof/core/pkg/contracts"
)

// SQLiteVoteStore is the default vote ledger. The UNIQUE(proof_id, oracle_id)
// constraint gives atomic check-and-insert semantics: under concurrent
// submission for the same pair, exactly one insert succeeds and the others
// observe ErrDuplicateVote. There is no read-then-write race to exploit.
type SQLiteVoteStore struct {
	db *sql.DB
}

func NewSQLiteVoteStore(db *sql.DB) (*SQLiteVoteStore, error) {
	s := &SQLiteVoteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteVoteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS votes (
		vote_id TEXT PRIMARY KEY,
		proof_id TEXT NOT NULL,
		oracle_id TEXT NOT NULL,
		decision INTEGER NOT NULL,
		signature TEXT NOT NULL,
		vote_timestamp INTEGER NOT NULL,
		submitted_at TEXT NOT NULL,
		UNIQUE(proof_id, oracle_id)
	);
	CREATE INDEX IF NOT EXISTS idx_votes_proof ON votes(proof_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Insert records a vote. Returns (false, ErrDuplicateVote) if a vote for
// the (proof, oracle) pair already exists; the stored vote is a signed,
// non-repudiable attestation and is never overwritten.
func (s *SQLiteVoteStore) Insert(ctx context.Context, v *contracts.Vote) (bool, error) {
	query := `INSERT INTO votes (vote_id, proof_id, oracle_id, decision, signature, vote_timestamp, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(proof_id, oracle_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		v.ID, v.ProofID, v.OracleID, boolToInt(v.Decision), v.Signature,
		v.Timestamp, v.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, fmt.Errorf("vote for proof %s by oracle %s: %w", v.ProofID, v.OracleID, contracts.ErrDuplicateVote)
	}
	return true, nil
}

// ListByProof returns the full vote history for a proof, oldest first.
func (s *SQLiteVoteStore) ListByProof(ctx context.Context, proofID string) ([]contracts.Vote, error) {
	query := `SELECT vote_id, proof_id, oracle_id, decision, signature, vote_timestamp, submitted_at
		FROM votes WHERE proof_id = ? ORDER BY submitted_at ASC, vote_id ASC`

	rows, err := s.db.QueryContext(ctx, query, proofID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var votes []contracts.Vote
	for rows.Next() {
		var (
			v         contracts.Vote
			decision  int
			submitted string
		)
		if err := rows.Scan(&v.ID, &v.ProofID, &v.OracleID, &decision, &v.Signature, &v.Timestamp, &submitted); err != nil {
			return nil, err
		}
		v.Decision = decision != 0
		if ts, err := time.Parse(time.RFC3339Nano, submitted); err == nil {
			v.SubmittedAt = ts
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return votes, nil
}

// Get returns the stored vote for a (proof, oracle) pair, or ErrNotFound.
func (s *SQLiteVoteStore) Get(ctx context.Context, proofID, oracleID string) (*contracts.Vote, error) {
	query := `SELECT vote_id, proof_id, oracle_id, decision, signature, vote_timestamp, submitted_at
		FROM votes WHERE proof_id = ? AND oracle_id = ?`

	var (
		v         contracts.Vote
		decision  int
		submitted string
	)
	err := s.db.QueryRowContext(ctx, query, proofID, oracleID).
		Scan(&v.ID, &v.ProofID, &v.OracleID, &decision, &v.Signature, &v.Timestamp, &submitted)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vote for proof %s by oracle %s: %w", proofID, oracleID, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	v.Decision = decision != 0
	if ts, err := time.Parse(time.RFC3339Nano, submitted); err == nil {
		v.SubmittedAt = ts
	}
	return &v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

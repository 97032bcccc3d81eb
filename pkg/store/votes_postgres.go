package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fundproof/core/pkg/contracts"
)

// PostgresVoteStore offers the same contract as SQLiteVoteStore for
// deployments already running Postgres. ON CONFLICT DO NOTHING plus the
// rows-affected check keeps the duplicate decision inside a single
// statement.
type PostgresVoteStore struct {
	db *sql.DB
}

func NewPostgresVoteStore(db *sql.DB) *PostgresVoteStore {
	return &PostgresVoteStore{db: db}
}

// Init creates the votes table. Split from the constructor so sqlmock-backed
// tests can target the statement paths independently.
func (s *PostgresVoteStore) Init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS votes (
		vote_id TEXT PRIMARY KEY,
		proof_id TEXT NOT NULL,
		oracle_id TEXT NOT NULL,
		decision BOOLEAN NOT NULL,
		signature TEXT NOT NULL,
		vote_timestamp BIGINT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		UNIQUE(proof_id, oracle_id)
	);
	CREATE INDEX IF NOT EXISTS idx_votes_proof ON votes(proof_id);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Insert records a vote; duplicates surface as ErrDuplicateVote.
func (s *PostgresVoteStore) Insert(ctx context.Context, v *contracts.Vote) (bool, error) {
	query := `INSERT INTO votes (vote_id, proof_id, oracle_id, decision, signature, vote_timestamp, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (proof_id, oracle_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		v.ID, v.ProofID, v.OracleID, v.Decision, v.Signature, v.Timestamp, v.SubmittedAt.UTC(),
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
func (s *PostgresVoteStore) ListByProof(ctx context.Context, proofID string) ([]contracts.Vote, error) {
	query := `SELECT vote_id, proof_id, oracle_id, decision, signature, vote_timestamp, submitted_at
		FROM votes WHERE proof_id = $1 ORDER BY submitted_at ASC, vote_id ASC`

	rows, err := s.db.QueryContext(ctx, query, proofID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var votes []contracts.Vote
	for rows.Next() {
		var (
			v         contracts.Vote
			submitted time.Time
		)
		if err := rows.Scan(&v.ID, &v.ProofID, &v.OracleID, &v.Decision, &v.Signature, &v.Timestamp, &submitted); err != nil {
			return nil, err
		}
		v.SubmittedAt = submitted
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return votes, nil
}

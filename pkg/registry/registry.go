// Package registry provides read-only access to the oracle registry and the
// proof store. Both are owned by the outer platform; the consensus engine
// only looks records up by id.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fundproof/core/pkg/contracts"
)

// OracleRegistry looks up registered attestors.
type OracleRegistry interface {
	GetOracle(ctx context.Context, id string) (*contracts.Oracle, error)
}

// ProofStore looks up submitted proofs.
type ProofStore interface {
	GetProof(ctx context.Context, id string) (*contracts.Proof, error)
}

// SQLiteRegistry backs both lookups with the shared engine database. Writes
// exist for bootstrap and the administrative path; nothing in the consensus
// core mutates either table.
type SQLiteRegistry struct {
	db *sql.DB
}

func NewSQLiteRegistry(db *sql.DB) (*SQLiteRegistry, error) {
	r := &SQLiteRegistry{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS oracles (
		oracle_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		public_key TEXT NOT NULL,
		key_alg TEXT NOT NULL,
		weight REAL NOT NULL CHECK (weight >= 0),
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS proofs (
		proof_id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		attachment_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proofs_campaign ON proofs(campaign_id);`
	_, err := r.db.ExecContext(context.Background(), query)
	return err
}

// GetOracle returns a registered oracle, or ErrNotFound.
func (r *SQLiteRegistry) GetOracle(ctx context.Context, id string) (*contracts.Oracle, error) {
	var (
		o       contracts.Oracle
		created string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT oracle_id, name, public_key, key_alg, weight, created_at FROM oracles WHERE oracle_id = ?`, id).
		Scan(&o.ID, &o.Name, &o.PublicKey, &o.KeyAlg, &o.Weight, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("oracle %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		o.CreatedAt = ts
	}
	return &o, nil
}

// GetProof returns a submitted proof, or ErrNotFound.
func (r *SQLiteRegistry) GetProof(ctx context.Context, id string) (*contracts.Proof, error) {
	var (
		p       contracts.Proof
		created string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT proof_id, campaign_id, description, attachment_hash, created_at FROM proofs WHERE proof_id = ?`, id).
		Scan(&p.ID, &p.CampaignID, &p.Description, &p.AttachmentHash, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("proof %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		p.CreatedAt = ts
	}
	return &p, nil
}

// PutOracle registers an oracle. Administrative/bootstrap path only.
func (r *SQLiteRegistry) PutOracle(ctx context.Context, o *contracts.Oracle) error {
	if o.Weight < 0 {
		return fmt.Errorf("oracle weight must be >= 0, got %v", o.Weight)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oracles (oracle_id, name, public_key, key_alg, weight, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.PublicKey, o.KeyAlg, o.Weight, o.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to register oracle: %w", err)
	}
	return nil
}

// PutProof records a proof. Administrative/bootstrap path only.
func (r *SQLiteRegistry) PutProof(ctx context.Context, p *contracts.Proof) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO proofs (proof_id, campaign_id, description, attachment_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.CampaignID, p.Description, p.AttachmentHash, p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record proof: %w", err)
	}
	return nil
}

// Weights returns the weight map for a set of oracle ids, used by the
// consensus calculator. Missing oracles are simply absent from the map.
func (r *SQLiteRegistry) Weights(ctx context.Context, oracleIDs []string) (map[string]float64, error) {
	weights := make(map[string]float64, len(oracleIDs))
	for _, id := range oracleIDs {
		o, err := r.GetOracle(ctx, id)
		if err != nil {
			if errors.Is(err, contracts.ErrNotFound) {
				continue
			}
			return nil, err
		}
		weights[id] = o.Weight
	}
	return weights, nil
}

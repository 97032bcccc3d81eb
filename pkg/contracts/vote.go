// Package contracts defines the shared domain records exchanged between the
// consensus engine, stores, and the ledger boundary.
package contracts

import "time"

// Key algorithms an oracle may register. Keys and signatures are hex-encoded
// end to end; the algorithm tag selects the verification scheme.
const (
	KeyAlgEd25519   = "ed25519"
	KeyAlgECDSAP256 = "ecdsa-p256"
	KeyAlgRSASHA256 = "rsa-sha256"
)

// Oracle is a registered attestor. Immutable from this core's perspective;
// the registry owns writes.
type Oracle struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PublicKey string    `json:"public_key"` // hex
	KeyAlg    string    `json:"key_alg"`
	Weight    float64   `json:"weight"` // voting power, >= 0
	CreatedAt time.Time `json:"created_at"`
}

// Proof is an NGO's claim of milestone completion. Read-only context for
// vote validation; created by the outer platform.
type Proof struct {
	ID             string    `json:"id"`
	CampaignID     string    `json:"campaign_id"`
	Description    string    `json:"description"`
	AttachmentHash string    `json:"attachment_hash,omitempty"` // content hash of uploaded evidence
	CreatedAt      time.Time `json:"created_at"`
}

// Vote is one oracle's signed attestation on one proof. Append-only: the
// (ProofID, OracleID) pair is unique and a stored vote is never mutated.
type Vote struct {
	ID          string    `json:"id"`
	ProofID     string    `json:"proof_id"`
	OracleID    string    `json:"oracle_id"`
	Decision    bool      `json:"decision"`
	Signature   string    `json:"signature"` // hex, over the canonical payload
	Timestamp   int64     `json:"timestamp"` // unix seconds, signed into the payload
	SubmittedAt time.Time `json:"submitted_at"`
}

// Verdict is the derived consensus outcome for a proof.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// ConsensusResult is recomputed on demand from the full vote set; it is
// never stored as independent truth.
type ConsensusResult struct {
	ProofID     string  `json:"proof_id"`
	YesWeight   float64 `json:"yes_weight"`
	NoWeight    float64 `json:"no_weight"`
	TotalWeight float64 `json:"total_weight"`
	Threshold   float64 `json:"threshold"`
	Verdict     Verdict `json:"verdict"`
}

// Approved reports whether the verdict is terminal-approved.
func (r ConsensusResult) Approved() bool { return r.Verdict == VerdictApproved }

// Rejected reports whether the verdict is terminal-rejected.
func (r ConsensusResult) Rejected() bool { return r.Verdict == VerdictRejected }

// Pending reports whether neither side holds a strict majority yet.
func (r ConsensusResult) Pending() bool { return r.Verdict == VerdictPending }

package contracts

import "time"

// EscrowState mirrors the on-ledger contract state for one campaign. The
// local record is a cache: state transitions happen through ledger
// transactions and are reflected back by polling, never by local mutation
// of ledger truth.
type EscrowState struct {
	CampaignID        string    `json:"campaign_id"`
	ContractID        string    `json:"contract_id"`
	EscrowAddress     string    `json:"escrow_address"`
	NGOAddress        string    `json:"ngo_address"`
	Goal              uint64    `json:"goal"` // micro-units
	Deadline          time.Time `json:"deadline"`
	ApprovalThreshold float64   `json:"approval_threshold"`
	Released          bool      `json:"released"`
	CreatedAt         time.Time `json:"created_at"`

	// Release bookkeeping. ReleaseClaimed is the exactly-once gate: it is
	// set atomically before the release transaction is ever submitted and
	// survives restarts, so a half-finished release is retried against the
	// same claimed intent rather than re-triggered.
	ReleaseClaimed   bool   `json:"release_claimed"`
	ReleaseTxID      string `json:"release_tx_id,omitempty"`
	ReleaseConfirmed bool   `json:"release_confirmed"`
}

// AnchorKind distinguishes the two best-effort anchoring transaction types.
type AnchorKind string

const (
	AnchorKindVote       AnchorKind = "vote"
	AnchorKindAttachment AnchorKind = "attachment"
)

// AnchorRecord is one pending or settled anchoring transaction in the
// outbox. Anchoring is transparency, not consensus truth: a failed anchor
// never invalidates the off-chain verdict.
type AnchorRecord struct {
	ID            string     `json:"id"`
	ContractID    string     `json:"contract_id"`
	Kind          AnchorKind `json:"kind"`
	Payload       []byte     `json:"payload"` // JSON: vote + weight, or content hash
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	Status        string     `json:"status"` // PENDING | DONE | FAILED
	TxID          string     `json:"tx_id,omitempty"`
}

// Outbox statuses.
const (
	AnchorStatusPending = "PENDING"
	AnchorStatusDone    = "DONE"
	AnchorStatusFailed  = "FAILED"
)

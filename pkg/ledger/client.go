// Package ledger is the boundary to the external escrow ledger network. It
// deploys escrow contract instances, submits vote-anchoring and release
// transactions, and polls for confirmation over network rounds.
package ledger

import (
	"context"
	"time"

	"github.com/fundproof/core/pkg/contracts"
)

// AttachmentNotePrefix tags anchored content hashes in transaction notes,
// e.g. "IPFS:QmXy...".
const AttachmentNotePrefix = "IPFS:"

// Credentials identify the transaction signer at the gateway.
type Credentials struct {
	Address string `json:"address"`
	Token   string `json:"-"`
}

// CreateEscrowParams are the immutable deployment parameters of one escrow
// contract instance.
type CreateEscrowParams struct {
	NGOAddress        string    `json:"ngo_address"`
	Goal              uint64    `json:"goal"`
	Deadline          time.Time `json:"deadline"`
	ApprovalThreshold float64   `json:"approval_threshold"`
}

// Client is the escrow adapter consumed by the consensus engine. All calls
// are blocking-with-timeout through their context; none of them may be
// invoked while holding a vote-submission lock.
type Client interface {
	// CreateEscrow deploys a new escrow contract instance. At most once
	// per campaign; the engine enforces this against its local state.
	CreateEscrow(ctx context.Context, params CreateEscrowParams) (contractID, escrowAddress string, err error)

	// AnchorVote records a vote on-ledger for transparency. Best-effort:
	// failure never invalidates the off-chain verdict.
	AnchorVote(ctx context.Context, contractID string, vote contracts.Vote, oracleWeight float64, creds Credentials) (txID string, err error)

	// Release triggers the escrow fund release. Invoked exactly once per
	// campaign via the engine's release-claim gate.
	Release(ctx context.Context, contractID string, creds Credentials) (txID string, err error)

	// AnchorAttachmentHash records an off-chain content hash as
	// ledger-anchored evidence.
	AnchorAttachmentHash(ctx context.Context, contractID, contentHash string, creds Credentials) (txID string, err error)

	// WaitForConfirmation polls until the transaction is finalized or the
	// round budget is exhausted. Exhaustion returns (false,
	// ErrConfirmationTimeout): the outcome is unknown, not failed — the
	// transaction may still land, so callers reconcile instead of
	// resubmitting blindly.
	WaitForConfirmation(ctx context.Context, txID string, maxRounds uint64) (confirmed bool, err error)
}

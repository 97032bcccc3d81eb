package contracts

import "errors"

// Error taxonomy for the consensus and escrow-release paths. Callers are
// expected to classify with errors.Is; only ErrNotFound, ErrInvalidSignature,
// ErrStaleVote and ErrDuplicateVote are client-visible, the rest are
// operational.
var (
	// ErrNotFound indicates the referenced proof or oracle does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSignature indicates the vote payload was not signed by the
	// claimed oracle's registered key. Logged as a security event.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrStaleVote indicates the vote timestamp falls outside the plausible
	// submission window for its proof.
	ErrStaleVote = errors.New("stale vote timestamp")

	// ErrDuplicateVote indicates a vote for the same (proof, oracle) pair is
	// already recorded. The existing vote stands; it is never overwritten.
	ErrDuplicateVote = errors.New("duplicate vote")

	// ErrLedgerSubmission indicates a ledger transaction could not be
	// constructed or submitted. Anchoring callers retry with backoff.
	ErrLedgerSubmission = errors.New("ledger submission failed")

	// ErrConfirmationTimeout indicates the confirmation round budget was
	// exhausted before the transaction finalized. The outcome is unknown,
	// not failed: callers reconcile against the ledger instead of assuming
	// the transaction was dropped.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrEscrowExists indicates an escrow contract was already deployed for
	// the campaign. Deployment is at most once per campaign.
	ErrEscrowExists = errors.New("escrow already exists")

	// ErrReleaseClaimed indicates another submission already claimed the
	// release trigger for the campaign.
	ErrReleaseClaimed = errors.New("release already claimed")
)

// Package engine orchestrates vote submission: signature verification,
// deduplicated storage, verdict recomputation, and the edge-triggered
// escrow release. It is constructed from small injected capabilities so
// every collaborator can be swapped for a fake in tests.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundproof/core/pkg/audit"
	"github.com/fundproof/core/pkg/canonicalize"
	"github.com/fundproof/core/pkg/consensus"
	"github.com/fundproof/core/pkg/contracts"
	"github.com/fundproof/core/pkg/crypto"
	"github.com/fundproof/core/pkg/ledger"
	"github.com/fundproof/core/pkg/observability"
	"github.com/fundproof/core/pkg/registry"
)

// VoteStore is the durable, deduplicated vote ledger.
type VoteStore interface {
	Insert(ctx context.Context, v *contracts.Vote) (bool, error)
	ListByProof(ctx context.Context, proofID string) ([]contracts.Vote, error)
}

// EscrowStore caches on-ledger escrow state and release bookkeeping.
type EscrowStore interface {
	Create(ctx context.Context, e *contracts.EscrowState) error
	Get(ctx context.Context, campaignID string) (*contracts.EscrowState, error)
	MarkReleaseClaimed(ctx context.Context, campaignID string) error
	MarkReleaseSubmitted(ctx context.Context, campaignID, txID string) error
	MarkReleaseConfirmed(ctx context.Context, campaignID string) error
	PendingReleases(ctx context.Context) ([]contracts.EscrowState, error)
}

// ReleaseGate arbitrates the exactly-once release claim. The SQLite escrow
// store implements it with a conditional update; the Redis gate with SET NX.
type ReleaseGate interface {
	ClaimRelease(ctx context.Context, campaignID string) (bool, error)
}

// AnchorOutbox queues best-effort anchoring transactions.
type AnchorOutbox interface {
	Schedule(ctx context.Context, rec *contracts.AnchorRecord) error
	Due(ctx context.Context, now time.Time, limit int) ([]contracts.AnchorRecord, error)
	MarkDone(ctx context.Context, id, txID string) error
	MarkFailed(ctx context.Context, id string, now time.Time) error
}

// Options tune the engine's timestamp windows and ledger behavior.
type Options struct {
	// VoteMaxAge bounds how old a vote's signed timestamp may be relative
	// to submission time. Replay defense in depth on top of the
	// per-(proof, oracle) uniqueness constraint.
	VoteMaxAge time.Duration

	// ClockSkew tolerates disagreement between oracle and engine clocks.
	ClockSkew time.Duration

	// ConfirmationRounds is the round budget for WaitForConfirmation.
	ConfirmationRounds uint64

	// AnchorSigner signs anchoring transactions; Releaser signs release
	// transactions.
	AnchorSigner ledger.Credentials
	Releaser     ledger.Credentials
}

// DefaultOptions mirror the production deployment profile.
func DefaultOptions() Options {
	return Options{
		VoteMaxAge:         24 * time.Hour,
		ClockSkew:          5 * time.Minute,
		ConfirmationRounds: 10,
	}
}

// Engine is the consensus orchestrator. Per-proof serialization happens at
// the vote store's uniqueness constraint; the engine itself holds no lock
// across ledger calls.
type Engine struct {
	oracles registry.OracleRegistry
	proofs  registry.ProofStore
	votes   VoteStore
	escrows EscrowStore
	gate    ReleaseGate
	outbox  AnchorOutbox
	ledger  ledger.Client
	trail   *audit.Log
	metrics *observability.Metrics
	opts    Options
	logger  *slog.Logger
	clock   func() time.Time

	wg sync.WaitGroup
}

// New wires an engine from its collaborators. outbox and trail may be nil
// to disable anchoring and auditing respectively.
func New(oracles registry.OracleRegistry, proofs registry.ProofStore, votes VoteStore,
	escrows EscrowStore, gate ReleaseGate, outbox AnchorOutbox, lc ledger.Client,
	trail *audit.Log, metrics *observability.Metrics, opts Options) *Engine {
	return &Engine{
		oracles: oracles,
		proofs:  proofs,
		votes:   votes,
		escrows: escrows,
		gate:    gate,
		outbox:  outbox,
		ledger:  lc,
		trail:   trail,
		metrics: metrics,
		opts:    opts,
		logger:  slog.Default().With("component", "consensus-engine"),
		clock:   time.Now,
	}
}

// WithClock overrides time for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Close waits for in-flight asynchronous release work.
func (e *Engine) Close() {
	e.wg.Wait()
}

// SubmitVoteRequest is one oracle attestation as received from the outer
// API layer. Timestamp is the unix-seconds value the oracle signed into
// the canonical payload.
type SubmitVoteRequest struct {
	ProofID   string `json:"proof_id"`
	OracleID  string `json:"oracle_id"`
	Decision  bool   `json:"vote"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// SubmitVote verifies, stores, and tallies one vote, returning the stored
// vote and the recomputed verdict. When the verdict first flips to Approved
// the escrow release is claimed atomically and submitted asynchronously;
// vote acceptance latency is never coupled to ledger finality.
func (e *Engine) SubmitVote(ctx context.Context, req SubmitVoteRequest) (*contracts.Vote, contracts.ConsensusResult, error) {
	var zero contracts.ConsensusResult

	proof, err := e.proofs.GetProof(ctx, req.ProofID)
	if err != nil {
		return nil, zero, err
	}
	oracle, err := e.oracles.GetOracle(ctx, req.OracleID)
	if err != nil {
		return nil, zero, err
	}

	if err := e.checkTimestamp(proof, req.Timestamp); err != nil {
		e.audit(req.OracleID, audit.EventStaleVote, "proof:"+req.ProofID, "")
		e.metrics.VoteRejected(ctx, "stale_timestamp")
		return nil, zero, err
	}

	payload := canonicalize.VotePayload{
		ProofID:   req.ProofID,
		OracleID:  req.OracleID,
		Decision:  req.Decision,
		Timestamp: req.Timestamp,
	}
	message, err := payload.Bytes()
	if err != nil {
		return nil, zero, fmt.Errorf("canonicalize payload: %w", err)
	}
	if !crypto.VerifyDetached(oracle.KeyAlg, oracle.PublicKey, req.Signature, message) {
		e.logger.Warn("signature verification failed",
			"proof_id", req.ProofID, "oracle_id", req.OracleID)
		e.audit(req.OracleID, audit.EventSignatureRejected, "proof:"+req.ProofID, "")
		e.metrics.VoteRejected(ctx, "invalid_signature")
		return nil, zero, fmt.Errorf("vote by oracle %s on proof %s: %w", req.OracleID, req.ProofID, contracts.ErrInvalidSignature)
	}

	vote := &contracts.Vote{
		ID:          uuid.New().String(),
		ProofID:     req.ProofID,
		OracleID:    req.OracleID,
		Decision:    req.Decision,
		Signature:   req.Signature,
		Timestamp:   req.Timestamp,
		SubmittedAt: e.clock(),
	}
	if _, err := e.votes.Insert(ctx, vote); err != nil {
		if errors.Is(err, contracts.ErrDuplicateVote) {
			e.metrics.VoteRejected(ctx, "duplicate")
		}
		return nil, zero, err
	}

	e.audit(req.OracleID, audit.EventVoteAccepted, "proof:"+req.ProofID,
		fmt.Sprintf("decision=%t", req.Decision))
	e.metrics.VoteAccepted(ctx)

	e.scheduleAnchors(ctx, proof, vote, oracle.Weight)

	result, err := e.computeResult(ctx, req.ProofID)
	if err != nil {
		return nil, zero, err
	}

	if result.Approved() {
		e.maybeTriggerRelease(ctx, proof.CampaignID)
	}
	return vote, result, nil
}

// GetResult recomputes the verdict for a proof without side effects.
func (e *Engine) GetResult(ctx context.Context, proofID string) (contracts.ConsensusResult, error) {
	var zero contracts.ConsensusResult
	if _, err := e.proofs.GetProof(ctx, proofID); err != nil {
		return zero, err
	}
	return e.computeResult(ctx, proofID)
}

// CreateEscrow deploys the escrow contract for a campaign, at most once.
func (e *Engine) CreateEscrow(ctx context.Context, campaignID string, params ledger.CreateEscrowParams) (*contracts.EscrowState, error) {
	if _, err := e.escrows.Get(ctx, campaignID); err == nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, contracts.ErrEscrowExists)
	} else if !errors.Is(err, contracts.ErrNotFound) {
		return nil, err
	}

	contractID, escrowAddr, err := e.ledger.CreateEscrow(ctx, params)
	if err != nil {
		return nil, err
	}

	state := &contracts.EscrowState{
		CampaignID:        campaignID,
		ContractID:        contractID,
		EscrowAddress:     escrowAddr,
		NGOAddress:        params.NGOAddress,
		Goal:              params.Goal,
		Deadline:          params.Deadline,
		ApprovalThreshold: params.ApprovalThreshold,
		CreatedAt:         e.clock(),
	}
	if err := e.escrows.Create(ctx, state); err != nil {
		// The deploy went through but another instance won the local
		// record; surface the conflict, the ledger contract it created
		// is the one that stands.
		return nil, err
	}

	e.audit("engine", audit.EventEscrowCreated, "campaign:"+campaignID, "contract="+contractID)
	return state, nil
}

func (e *Engine) checkTimestamp(proof *contracts.Proof, ts int64) error {
	voteTime := time.Unix(ts, 0)
	now := e.clock()

	if voteTime.Before(proof.CreatedAt.Add(-e.opts.ClockSkew)) {
		return fmt.Errorf("vote predates proof creation: %w", contracts.ErrStaleVote)
	}
	if e.opts.VoteMaxAge > 0 && voteTime.Before(now.Add(-e.opts.VoteMaxAge)) {
		return fmt.Errorf("vote older than %s: %w", e.opts.VoteMaxAge, contracts.ErrStaleVote)
	}
	if voteTime.After(now.Add(e.opts.ClockSkew)) {
		return fmt.Errorf("vote timestamp in the future: %w", contracts.ErrStaleVote)
	}
	return nil
}

func (e *Engine) computeResult(ctx context.Context, proofID string) (contracts.ConsensusResult, error) {
	votes, err := e.votes.ListByProof(ctx, proofID)
	if err != nil {
		return contracts.ConsensusResult{}, fmt.Errorf("list votes: %w", err)
	}

	weights := make(map[string]float64, len(votes))
	for _, v := range votes {
		if _, ok := weights[v.OracleID]; ok {
			continue
		}
		o, err := e.oracles.GetOracle(ctx, v.OracleID)
		if err != nil {
			if errors.Is(err, contracts.ErrNotFound) {
				continue
			}
			return contracts.ConsensusResult{}, fmt.Errorf("oracle weight lookup: %w", err)
		}
		weights[v.OracleID] = o.Weight
	}

	return consensus.Compute(proofID, votes, weights), nil
}

// anchorVotePayload is the outbox payload for a vote anchor.
type anchorVotePayload struct {
	Vote   contracts.Vote `json:"vote"`
	Weight float64        `json:"weight"`
}

// scheduleAnchors enqueues best-effort transparency anchors for an accepted
// vote. Failures are logged and dropped: anchoring never blocks the verdict.
func (e *Engine) scheduleAnchors(ctx context.Context, proof *contracts.Proof, vote *contracts.Vote, weight float64) {
	if e.outbox == nil {
		return
	}
	escrow, err := e.escrows.Get(ctx, proof.CampaignID)
	if err != nil {
		if !errors.Is(err, contracts.ErrNotFound) {
			e.logger.Warn("escrow lookup for anchoring failed", "campaign_id", proof.CampaignID, "error", err)
		}
		return
	}

	payload, err := json.Marshal(anchorVotePayload{Vote: *vote, Weight: weight})
	if err != nil {
		e.logger.Warn("anchor payload marshal failed", "error", err)
		return
	}
	if err := e.outbox.Schedule(ctx, &contracts.AnchorRecord{
		ID:         "vote:" + vote.ProofID + ":" + vote.OracleID,
		ContractID: escrow.ContractID,
		Kind:       contracts.AnchorKindVote,
		Payload:    payload,
	}); err != nil {
		e.logger.Warn("vote anchor scheduling failed", "error", err)
	}

	if proof.AttachmentHash != "" {
		if err := e.outbox.Schedule(ctx, &contracts.AnchorRecord{
			ID:         "attach:" + proof.ID,
			ContractID: escrow.ContractID,
			Kind:       contracts.AnchorKindAttachment,
			Payload:    []byte(fmt.Sprintf("%q", proof.AttachmentHash)),
		}); err != nil {
			e.logger.Warn("attachment anchor scheduling failed", "error", err)
		}
	}
}

// maybeTriggerRelease claims and submits the escrow release the first time
// a proof's verdict is observed Approved. The claim is atomic and durable:
// repeated Approved recomputations and concurrent submissions cannot
// re-trigger, and a failed submission is retried by the reconciler against
// the same claimed intent.
func (e *Engine) maybeTriggerRelease(ctx context.Context, campaignID string) {
	escrow, err := e.escrows.Get(ctx, campaignID)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			e.logger.Warn("verdict approved but no escrow deployed", "campaign_id", campaignID)
			return
		}
		e.logger.Error("escrow lookup failed", "campaign_id", campaignID, "error", err)
		return
	}

	claimed, err := e.gate.ClaimRelease(ctx, campaignID)
	if err != nil {
		e.logger.Error("release claim failed", "campaign_id", campaignID, "error", err)
		return
	}
	if !claimed {
		return
	}

	// The gate may live outside the escrow store (Redis SET NX). Mirror the
	// claim into the escrow row so PendingReleases covers this release and a
	// crash before confirmation is resumed by the reconciler.
	if err := e.escrows.MarkReleaseClaimed(ctx, campaignID); err != nil {
		e.logger.Error("release claim bookkeeping failed", "campaign_id", campaignID, "error", err)
	}

	e.audit("engine", audit.EventReleaseTriggered, "campaign:"+campaignID, "contract="+escrow.ContractID)
	e.metrics.ReleaseTriggered(ctx)
	e.logger.Info("release claimed", "campaign_id", campaignID, "contract_id", escrow.ContractID)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// Detached from the request context: vote acceptance must not
		// wait on ledger finality.
		e.driveRelease(context.Background(), campaignID, escrow.ContractID, "")
	}()
}

// driveRelease submits (or resumes) a claimed release and waits for
// confirmation within the round budget. A timeout leaves the claim in
// place for the reconciler.
func (e *Engine) driveRelease(ctx context.Context, campaignID, contractID, txID string) {
	if txID == "" {
		var err error
		txID, err = e.ledger.Release(ctx, contractID, e.opts.Releaser)
		if err != nil {
			e.logger.Error("release submission failed, will retry against claimed intent",
				"campaign_id", campaignID, "error", err)
			return
		}
		if err := e.escrows.MarkReleaseSubmitted(ctx, campaignID, txID); err != nil {
			e.logger.Error("release bookkeeping failed", "campaign_id", campaignID, "error", err)
			return
		}
	}

	confirmed, err := e.ledger.WaitForConfirmation(ctx, txID, e.opts.ConfirmationRounds)
	switch {
	case confirmed:
		if err := e.escrows.MarkReleaseConfirmed(ctx, campaignID); err != nil {
			e.logger.Error("release confirmation bookkeeping failed", "campaign_id", campaignID, "error", err)
			return
		}
		e.logger.Info("release confirmed", "campaign_id", campaignID, "tx_id", txID)
	case errors.Is(err, contracts.ErrConfirmationTimeout):
		// Unknown outcome: the reconciler re-checks rather than
		// assuming failure.
		e.logger.Warn("release confirmation timed out, deferring to reconciler",
			"campaign_id", campaignID, "tx_id", txID)
	default:
		e.logger.Error("release confirmation failed", "campaign_id", campaignID, "tx_id", txID, "error", err)
	}
}

func (e *Engine) audit(actor, event, target, details string) {
	if e.trail == nil {
		return
	}
	if _, err := e.trail.Append(actor, event, target, details); err != nil {
		e.logger.Error("audit append failed", "event", event, "error", err)
	}
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fundproof/core/pkg/contracts"
)

// Reconciler is the background loop that finishes what the hot path left
// behind: draining the anchor outbox with backoff and re-driving claimed
// releases that never confirmed. It is the reconciliation half of the
// ConfirmationTimeout contract — a timed-out transaction is an unknown
// outcome, so the reconciler re-checks the ledger instead of resubmitting
// blindly.
type Reconciler struct {
	engine   *Engine
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewReconciler builds a reconciler over the same engine collaborators.
func NewReconciler(e *Engine, interval time.Duration) *Reconciler {
	return &Reconciler{
		engine:   e,
		interval: interval,
		batch:    32,
		logger:   slog.Default().With("component", "reconciler"),
	}
}

// Run ticks until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass. Exposed so tests and the daemon's
// shutdown path can drive it deterministically.
func (r *Reconciler) Tick(ctx context.Context) {
	r.drainOutbox(ctx)
	r.resumeReleases(ctx)
}

func (r *Reconciler) drainOutbox(ctx context.Context) {
	e := r.engine
	if e.outbox == nil {
		return
	}

	due, err := e.outbox.Due(ctx, e.clock(), r.batch)
	if err != nil {
		r.logger.Error("outbox query failed", "error", err)
		return
	}

	for _, rec := range due {
		txID, err := r.submitAnchor(ctx, rec)
		if err != nil {
			r.logger.Warn("anchor submission failed",
				"anchor_id", rec.ID, "attempts", rec.Attempts, "error", err)
			e.metrics.AnchorRetried(ctx)
			if err := e.outbox.MarkFailed(ctx, rec.ID, e.clock()); err != nil {
				r.logger.Error("outbox bookkeeping failed", "anchor_id", rec.ID, "error", err)
			}
			continue
		}
		if err := e.outbox.MarkDone(ctx, rec.ID, txID); err != nil {
			r.logger.Error("outbox bookkeeping failed", "anchor_id", rec.ID, "error", err)
			continue
		}
		e.metrics.AnchorSubmitted(ctx)
	}
}

func (r *Reconciler) submitAnchor(ctx context.Context, rec contracts.AnchorRecord) (string, error) {
	e := r.engine

	switch rec.Kind {
	case contracts.AnchorKindVote:
		var payload anchorVotePayload
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return "", err
		}
		return e.ledger.AnchorVote(ctx, rec.ContractID, payload.Vote, payload.Weight, e.opts.AnchorSigner)
	case contracts.AnchorKindAttachment:
		var contentHash string
		if err := json.Unmarshal(rec.Payload, &contentHash); err != nil {
			return "", err
		}
		return e.ledger.AnchorAttachmentHash(ctx, rec.ContractID, contentHash, e.opts.AnchorSigner)
	default:
		return "", errors.New("unknown anchor kind: " + string(rec.Kind))
	}
}

// resumeReleases re-drives claimed releases that have not confirmed:
// unsubmitted claims are submitted, submitted ones are re-checked for
// finality. Always against the original claimed intent — never a fresh
// trigger.
func (r *Reconciler) resumeReleases(ctx context.Context) {
	e := r.engine

	pending, err := e.escrows.PendingReleases(ctx)
	if err != nil {
		r.logger.Error("pending release query failed", "error", err)
		return
	}

	for _, escrow := range pending {
		r.logger.Info("resuming claimed release",
			"campaign_id", escrow.CampaignID, "tx_id", escrow.ReleaseTxID)
		e.driveRelease(ctx, escrow.CampaignID, escrow.ContractID, escrow.ReleaseTxID)
	}
}

// Package consensus computes the weighted verdict for a proof from its full
// vote set. Compute is pure and deterministic: identical vote sets always
// yield identical results, so the verdict is safe to recompute on every read
// instead of caching totals that could drift from the ledger.
package consensus

import "github.com/fundproof/core/pkg/contracts"

// Compute tallies cast weight for and against a proof. Oracles that never
// voted contribute nothing: this is a strict majority of cast weight, not of
// registered weight. The threshold is exactly half the cast total, so at
// most one side can strictly exceed it and Approved/Rejected are mutually
// exclusive. Zero votes yield a zero threshold and a Pending verdict.
func Compute(proofID string, votes []contracts.Vote, weights map[string]float64) contracts.ConsensusResult {
	var yes, no float64
	for _, v := range votes {
		w := weights[v.OracleID]
		if w < 0 {
			// Registration rejects negative weights; treat any that slip
			// through as abstaining rather than poisoning the tally.
			continue
		}
		if v.Decision {
			yes += w
		} else {
			no += w
		}
	}

	total := yes + no
	threshold := total / 2

	verdict := contracts.VerdictPending
	switch {
	case yes > threshold:
		verdict = contracts.VerdictApproved
	case no > threshold:
		verdict = contracts.VerdictRejected
	}

	return contracts.ConsensusResult{
		ProofID:     proofID,
		YesWeight:   yes,
		NoWeight:    no,
		TotalWeight: total,
		Threshold:   threshold,
		Verdict:     verdict,
	}
}

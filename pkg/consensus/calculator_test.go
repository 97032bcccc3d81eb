package consensus

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fundproof/core/pkg/contracts"
)

func vote(oracle string, decision bool) contracts.Vote {
	return contracts.Vote{ProofID: "p1", OracleID: oracle, Decision: decision}
}

func TestCompute_ZeroVotes(t *testing.T) {
	r := Compute("p1", nil, map[string]float64{"o1": 5})
	assert.Equal(t, 0.0, r.TotalWeight)
	assert.Equal(t, 0.0, r.Threshold)
	assert.Equal(t, contracts.VerdictPending, r.Verdict)
}

func TestCompute_SingleYesApproves(t *testing.T) {
	// One oracle of weight 2 voting yes is a strict majority of cast weight.
	r := Compute("p1", []contracts.Vote{vote("o1", true)}, map[string]float64{"o1": 2})
	assert.Equal(t, 2.0, r.YesWeight)
	assert.Equal(t, 0.0, r.NoWeight)
	assert.Equal(t, 2.0, r.TotalWeight)
	assert.Equal(t, 1.0, r.Threshold)
	assert.Equal(t, contracts.VerdictApproved, r.Verdict)
}

func TestCompute_ExactTieIsPending(t *testing.T) {
	// Weights {2,3,5} voting {yes,yes,no}: 5 vs 5 against threshold 5,
	// neither side strictly exceeds it.
	votes := []contracts.Vote{vote("o1", true), vote("o2", true), vote("o3", false)}
	weights := map[string]float64{"o1": 2, "o2": 3, "o3": 5}

	r := Compute("p1", votes, weights)
	assert.Equal(t, 5.0, r.YesWeight)
	assert.Equal(t, 5.0, r.NoWeight)
	assert.Equal(t, 10.0, r.TotalWeight)
	assert.Equal(t, 5.0, r.Threshold)
	assert.Equal(t, contracts.VerdictPending, r.Verdict)
}

func TestCompute_Rejected(t *testing.T) {
	votes := []contracts.Vote{vote("o1", true), vote("o2", false)}
	weights := map[string]float64{"o1": 1, "o2": 3}

	r := Compute("p1", votes, weights)
	assert.Equal(t, contracts.VerdictRejected, r.Verdict)
	assert.True(t, r.Rejected())
	assert.False(t, r.Approved())
}

func TestCompute_AbstainersExcludedFromDenominator(t *testing.T) {
	// o3 (weight 100) never voted; the verdict is a majority of cast
	// weight only.
	votes := []contracts.Vote{vote("o1", true)}
	weights := map[string]float64{"o1": 1, "o2": 2, "o3": 100}

	r := Compute("p1", votes, weights)
	assert.Equal(t, 1.0, r.TotalWeight)
	assert.Equal(t, contracts.VerdictApproved, r.Verdict)
}

func TestCompute_UnregisteredOracleHasZeroWeight(t *testing.T) {
	votes := []contracts.Vote{vote("ghost", true), vote("o1", false)}
	weights := map[string]float64{"o1": 1}

	r := Compute("p1", votes, weights)
	assert.Equal(t, 0.0, r.YesWeight)
	assert.Equal(t, contracts.VerdictRejected, r.Verdict)
}

func TestCompute_OrderIndependence(t *testing.T) {
	votes := []contracts.Vote{
		vote("o1", true), vote("o2", false), vote("o3", true),
		vote("o4", false), vote("o5", true), vote("o6", false),
	}
	weights := map[string]float64{"o1": 1, "o2": 2, "o3": 3, "o4": 4, "o5": 5, "o6": 6}
	want := Compute("p1", votes, weights)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := make([]contracts.Vote, len(votes))
		copy(shuffled, votes)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Compute("p1", shuffled, weights))
	}
}

func TestCompute_Idempotent(t *testing.T) {
	votes := []contracts.Vote{vote("o1", true), vote("o2", true)}
	weights := map[string]float64{"o1": 1, "o2": 1}

	first := Compute("p1", votes, weights)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compute("p1", votes, weights))
	}
}

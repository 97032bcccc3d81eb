package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/fundproof/core/pkg/api"
	"github.com/fundproof/core/pkg/canonicalize"
	"github.com/fundproof/core/pkg/contracts"
	"github.com/fundproof/core/pkg/crypto"
	"github.com/fundproof/core/pkg/engine"
	"github.com/fundproof/core/pkg/ledger"
	"github.com/fundproof/core/pkg/registry"
	"github.com/fundproof/core/pkg/store"
)

// stubLedger satisfies ledger.Client without a gateway.
type stubLedger struct{}

func (stubLedger) CreateEscrow(ctx context.Context, params ledger.CreateEscrowParams) (string, string, error) {
	return "ctr-1", "ESCROW1", nil
}
func (stubLedger) AnchorVote(ctx context.Context, contractID string, vote contracts.Vote, w float64, creds ledger.Credentials) (string, error) {
	return "tx-anchor", nil
}
func (stubLedger) Release(ctx context.Context, contractID string, creds ledger.Credentials) (string, error) {
	return "tx-release", nil
}
func (stubLedger) AnchorAttachmentHash(ctx context.Context, contractID, contentHash string, creds ledger.Credentials) (string, error) {
	return "tx-hash", nil
}
func (stubLedger) WaitForConfirmation(ctx context.Context, txID string, maxRounds uint64) (bool, error) {
	return true, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine, *crypto.Ed25519Signer) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	reg, err := registry.NewSQLiteRegistry(db)
	require.NoError(t, err)
	votes, err := store.NewSQLiteVoteStore(db)
	require.NoError(t, err)
	escrows, err := store.NewSQLiteEscrowStore(db)
	require.NoError(t, err)

	e := engine.New(reg, reg, votes, escrows, escrows, nil, stubLedger{}, nil, nil, engine.DefaultOptions())
	t.Cleanup(e.Close)

	signer, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	ts := httptest.NewServer(api.NewServer(e, reg, reg).Routes())
	t.Cleanup(ts.Close)
	return ts, e, signer
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func signedBody(t *testing.T, signer crypto.Signer, proofID, oracleID string, decision bool) map[string]any {
	t.Helper()
	ts := time.Now().Unix()
	payload := canonicalize.VotePayload{ProofID: proofID, OracleID: oracleID, Decision: decision, Timestamp: ts}
	message, err := payload.Bytes()
	require.NoError(t, err)
	sig, err := signer.Sign(message)
	require.NoError(t, err)
	return map[string]any{
		"oracle_id": oracleID,
		"vote":      decision,
		"signature": sig,
		"timestamp": ts,
	}
}

func registerFixtures(t *testing.T, ts *httptest.Server, signer crypto.Signer) {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/oracles", map[string]any{
		"id":         "o1",
		"name":       "auditor one",
		"public_key": signer.PublicKey(),
		"key_alg":    signer.KeyAlg(),
		"weight":     2.0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/proofs", map[string]any{
		"id":          "p1",
		"campaign_id": "c1",
		"description": "well constructed",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestSubmitVoteEndpoint(t *testing.T) {
	ts, _, signer := newTestServer(t)
	registerFixtures(t, ts, signer)

	resp := postJSON(t, ts.URL+"/v1/proofs/p1/votes", signedBody(t, signer, "p1", "o1", true))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Vote   contracts.Vote            `json:"vote"`
		Result contracts.ConsensusResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "p1", out.Vote.ProofID)
	assert.Equal(t, contracts.VerdictApproved, out.Result.Verdict)
}

func TestSubmitVoteEndpoint_ErrorMapping(t *testing.T) {
	ts, _, signer := newTestServer(t)
	registerFixtures(t, ts, signer)

	imposter, err := crypto.NewEd25519Signer()
	require.NoError(t, err)

	// Unknown proof -> 404.
	resp := postJSON(t, ts.URL+"/v1/proofs/ghost/votes", signedBody(t, signer, "ghost", "o1", true))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	// Forged signature -> 403.
	resp = postJSON(t, ts.URL+"/v1/proofs/p1/votes", signedBody(t, imposter, "p1", "o1", true))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// First vote lands, replay -> 409.
	body := signedBody(t, signer, "p1", "o1", true)
	resp = postJSON(t, ts.URL+"/v1/proofs/p1/votes", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = postJSON(t, ts.URL+"/v1/proofs/p1/votes", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Malformed body -> 400.
	resp2, err := http.Post(ts.URL+"/v1/proofs/p1/votes", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestGetResultEndpoint(t *testing.T) {
	ts, _, signer := newTestServer(t)
	registerFixtures(t, ts, signer)

	resp, err := http.Get(ts.URL + "/v1/proofs/p1/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		contracts.ConsensusResult
		Approved bool `json:"approved"`
		Pending  bool `json:"pending"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, contracts.VerdictPending, result.Verdict)
	assert.Zero(t, result.TotalWeight)
	assert.True(t, result.Pending)
	assert.False(t, result.Approved)

	resp, err = http.Get(ts.URL + "/v1/proofs/ghost/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateEscrowEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	body := map[string]any{
		"ngo_address":        "NGO1",
		"goal":               1000000,
		"deadline":           time.Now().Add(time.Hour).Format(time.RFC3339),
		"approval_threshold": 0.5,
	}
	resp := postJSON(t, ts.URL+"/v1/campaigns/c1/escrow", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var state contracts.EscrowState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, "ctr-1", state.ContractID)

	// Second deploy for the same campaign conflicts.
	resp = postJSON(t, ts.URL+"/v1/campaigns/c1/escrow", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRegisterOracle_Validation(t *testing.T) {
	ts, _, signer := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/oracles", map[string]any{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Negative weight rejected by the registry.
	resp = postJSON(t, ts.URL+"/v1/oracles", map[string]any{
		"id":         "o-neg",
		"public_key": signer.PublicKey(),
		"weight":     -1.0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

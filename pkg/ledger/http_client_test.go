package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundproof/core/pkg/contracts"
)

// fakeGateway is a minimal in-memory ledger gateway.
type fakeGateway struct {
	mux       *http.ServeMux
	lastRound atomic.Uint64
	confirmAt map[string]uint64 // txID -> round at which it confirms
	poolError map[string]string
	calls     []applicationCall
}

func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	t.Helper()
	g := &fakeGateway{
		mux:       http.NewServeMux(),
		confirmAt: map[string]uint64{},
		poolError: map[string]string{},
	}
	g.lastRound.Store(100)

	g.mux.HandleFunc("POST /v2/escrows", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(createEscrowResponse{ContractID: "ctr-1", EscrowAddress: "ESCROW1"})
	})
	g.mux.HandleFunc("POST /v2/contracts/{id}/calls", func(w http.ResponseWriter, r *http.Request) {
		var call applicationCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		g.calls = append(g.calls, call)
		_ = json.NewEncoder(w).Encode(submitTxResponse{TxID: "tx-" + call.Method})
	})
	g.mux.HandleFunc("GET /v2/status", func(w http.ResponseWriter, r *http.Request) {
		// Each status poll advances one round.
		round := g.lastRound.Add(1)
		_ = json.NewEncoder(w).Encode(networkStatusResponse{LastRound: round})
	})
	g.mux.HandleFunc("GET /v2/transactions/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if msg, ok := g.poolError[id]; ok {
			_ = json.NewEncoder(w).Encode(txStatusResponse{PoolError: msg})
			return
		}
		var confirmed uint64
		if at, ok := g.confirmAt[id]; ok && g.lastRound.Load() >= at {
			confirmed = at
		}
		_ = json.NewEncoder(w).Encode(txStatusResponse{ConfirmedRound: confirmed})
	})

	srv := httptest.NewServer(g.mux)
	t.Cleanup(srv.Close)
	return g, srv
}

func newTestClient(srv *httptest.Server) *HTTPClient {
	c := NewHTTPClient(srv.URL, "test-token")
	c.PollInterval = time.Millisecond
	return c
}

func TestHTTPClient_CreateEscrow(t *testing.T) {
	_, srv := newFakeGateway(t)
	c := newTestClient(srv)

	contractID, addr, err := c.CreateEscrow(context.Background(), CreateEscrowParams{
		NGOAddress:        "NGO1",
		Goal:              1_000_000,
		Deadline:          time.Now().Add(time.Hour),
		ApprovalThreshold: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "ctr-1", contractID)
	assert.Equal(t, "ESCROW1", addr)
}

func TestHTTPClient_AnchorVoteArgs(t *testing.T) {
	g, srv := newFakeGateway(t)
	c := newTestClient(srv)

	vote := contracts.Vote{ProofID: "p1", OracleID: "o1", Decision: true}
	txID, err := c.AnchorVote(context.Background(), "ctr-1", vote, 2.5, Credentials{Address: "ANCHOR_SENDER"})
	require.NoError(t, err)
	assert.Equal(t, "tx-oracle_vote", txID)

	require.Len(t, g.calls, 1)
	assert.Equal(t, "oracle_vote", g.calls[0].Method)
	assert.Equal(t, []string{"p1", "o1", "1", "2.5"}, g.calls[0].Args)
	assert.Equal(t, "ANCHOR_SENDER", g.calls[0].Sender)
}

func TestHTTPClient_AttachmentNoteFormat(t *testing.T) {
	g, srv := newFakeGateway(t)
	c := newTestClient(srv)

	_, err := c.AnchorAttachmentHash(context.Background(), "ctr-1", "QmXy12", Credentials{Address: "S"})
	require.NoError(t, err)

	require.Len(t, g.calls, 1)
	assert.Equal(t, "anchor_hash", g.calls[0].Method)
	assert.Equal(t, "IPFS:QmXy12", g.calls[0].Note)
}

func TestHTTPClient_WaitForConfirmation_Confirms(t *testing.T) {
	g, srv := newFakeGateway(t)
	c := newTestClient(srv)
	g.confirmAt["tx-1"] = 103

	confirmed, err := c.WaitForConfirmation(context.Background(), "tx-1", 50)
	require.NoError(t, err)
	assert.True(t, confirmed)
}

func TestHTTPClient_WaitForConfirmation_Timeout(t *testing.T) {
	_, srv := newFakeGateway(t)
	c := newTestClient(srv)

	// tx never confirms; budget of 5 rounds must exhaust.
	confirmed, err := c.WaitForConfirmation(context.Background(), "tx-ghost", 5)
	assert.False(t, confirmed)
	assert.ErrorIs(t, err, contracts.ErrConfirmationTimeout)
}

func TestHTTPClient_WaitForConfirmation_PoolError(t *testing.T) {
	g, srv := newFakeGateway(t)
	c := newTestClient(srv)
	g.poolError["tx-bad"] = "overspend"

	confirmed, err := c.WaitForConfirmation(context.Background(), "tx-bad", 50)
	assert.False(t, confirmed)
	assert.ErrorIs(t, err, contracts.ErrLedgerSubmission)
}

func TestHTTPClient_GatewayErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()
	c := newTestClient(srv)

	_, _, err := c.CreateEscrow(context.Background(), CreateEscrowParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrLedgerSubmission)
}

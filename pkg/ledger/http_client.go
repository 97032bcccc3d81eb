package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fundproof/core/pkg/contracts"
	"github.com/fundproof/core/pkg/util/resiliency"
)

// HTTPClient talks to the ledger gateway's REST API. Transaction submission
// goes through the resilient client (backoff, breaker, rate limit);
// confirmation polling walks network rounds at PollInterval.
type HTTPClient struct {
	baseURL string
	token   string
	http    *resiliency.Client

	// PollInterval approximates one network round when waiting for
	// confirmation.
	PollInterval time.Duration
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:      baseURL,
		token:        token,
		http:         resiliency.NewClient("ledger-gateway"),
		PollInterval: 2 * time.Second,
	}
}

// WithResiliency swaps the underlying resilient client, mainly for tests.
func (c *HTTPClient) WithResiliency(rc *resiliency.Client) *HTTPClient {
	c.http = rc
	return c
}

type createEscrowResponse struct {
	ContractID    string `json:"contract_id"`
	EscrowAddress string `json:"escrow_address"`
}

type submitTxResponse struct {
	TxID string `json:"tx_id"`
}

type txStatusResponse struct {
	ConfirmedRound uint64 `json:"confirmed_round"`
	PoolError      string `json:"pool_error"`
}

type networkStatusResponse struct {
	LastRound uint64 `json:"last_round"`
}

// applicationCall is one on-ledger contract invocation. Arguments travel as
// strings the contract decodes; the note carries out-of-band evidence tags.
type applicationCall struct {
	Method string   `json:"method"`
	Args   []string `json:"args,omitempty"`
	Sender string   `json:"sender,omitempty"`
	Note   string   `json:"note,omitempty"`
}

func (c *HTTPClient) CreateEscrow(ctx context.Context, params CreateEscrowParams) (string, string, error) {
	var resp createEscrowResponse
	if err := c.post(ctx, "/v2/escrows", params, &resp); err != nil {
		return "", "", fmt.Errorf("%w: create escrow: %v", contracts.ErrLedgerSubmission, err)
	}
	if resp.ContractID == "" {
		return "", "", fmt.Errorf("%w: gateway returned empty contract id", contracts.ErrLedgerSubmission)
	}
	return resp.ContractID, resp.EscrowAddress, nil
}

func (c *HTTPClient) AnchorVote(ctx context.Context, contractID string, vote contracts.Vote, oracleWeight float64, creds Credentials) (string, error) {
	call := applicationCall{
		Method: "oracle_vote",
		Args: []string{
			vote.ProofID,
			vote.OracleID,
			encodeBool(vote.Decision),
			strconv.FormatFloat(oracleWeight, 'f', -1, 64),
		},
		Sender: creds.Address,
	}
	var resp submitTxResponse
	if err := c.post(ctx, "/v2/contracts/"+contractID+"/calls", call, &resp); err != nil {
		return "", fmt.Errorf("%w: anchor vote: %v", contracts.ErrLedgerSubmission, err)
	}
	return resp.TxID, nil
}

func (c *HTTPClient) Release(ctx context.Context, contractID string, creds Credentials) (string, error) {
	call := applicationCall{
		Method: "release",
		Sender: creds.Address,
	}
	var resp submitTxResponse
	if err := c.post(ctx, "/v2/contracts/"+contractID+"/calls", call, &resp); err != nil {
		return "", fmt.Errorf("%w: release: %v", contracts.ErrLedgerSubmission, err)
	}
	return resp.TxID, nil
}

func (c *HTTPClient) AnchorAttachmentHash(ctx context.Context, contractID, contentHash string, creds Credentials) (string, error) {
	call := applicationCall{
		Method: "anchor_hash",
		Sender: creds.Address,
		Note:   AttachmentNotePrefix + contentHash,
	}
	var resp submitTxResponse
	if err := c.post(ctx, "/v2/contracts/"+contractID+"/calls", call, &resp); err != nil {
		return "", fmt.Errorf("%w: anchor attachment hash: %v", contracts.ErrLedgerSubmission, err)
	}
	return resp.TxID, nil
}

// WaitForConfirmation polls transaction status once per round until the
// transaction finalizes, the pool rejects it, or maxRounds elapse past the
// round observed at entry.
func (c *HTTPClient) WaitForConfirmation(ctx context.Context, txID string, maxRounds uint64) (bool, error) {
	var network networkStatusResponse
	if err := c.get(ctx, "/v2/status", &network); err != nil {
		return false, fmt.Errorf("%w: network status: %v", contracts.ErrLedgerSubmission, err)
	}
	deadline := network.LastRound + maxRounds

	for {
		var status txStatusResponse
		if err := c.get(ctx, "/v2/transactions/"+txID+"/status", &status); err != nil {
			return false, fmt.Errorf("%w: transaction status: %v", contracts.ErrLedgerSubmission, err)
		}
		if status.ConfirmedRound > 0 {
			return true, nil
		}
		if status.PoolError != "" {
			return false, fmt.Errorf("%w: pool rejected %s: %s", contracts.ErrLedgerSubmission, txID, status.PoolError)
		}

		if err := c.get(ctx, "/v2/status", &network); err != nil {
			return false, fmt.Errorf("%w: network status: %v", contracts.ErrLedgerSubmission, err)
		}
		if network.LastRound >= deadline {
			return false, fmt.Errorf("transaction %s after %d rounds: %w", txID, maxRounds, contracts.ErrConfirmationTimeout)
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.roundTrip(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.roundTrip(req, out)
}

func (c *HTTPClient) roundTrip(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

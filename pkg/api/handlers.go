package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fundproof/core/pkg/contracts"
	"github.com/fundproof/core/pkg/engine"
	"github.com/fundproof/core/pkg/ledger"
)

// OracleAdmin enrolls oracles; ProofAdmin registers proofs open for voting.
// Both are served by the SQLite registry.
type OracleAdmin interface {
	PutOracle(ctx context.Context, o *contracts.Oracle) error
}

type ProofAdmin interface {
	PutProof(ctx context.Context, p *contracts.Proof) error
}

// Server exposes the consensus engine over HTTP.
type Server struct {
	engine  *engine.Engine
	oracles OracleAdmin
	proofs  ProofAdmin
}

// NewServer wires the HTTP surface.
func NewServer(e *engine.Engine, oracles OracleAdmin, proofs ProofAdmin) *Server {
	return &Server{engine: e, oracles: oracles, proofs: proofs}
}

// Routes registers all endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/proofs/{id}/votes", s.HandleSubmitVote)
	mux.HandleFunc("GET /v1/proofs/{id}/result", s.HandleGetResult)
	mux.HandleFunc("POST /v1/proofs", s.HandleRegisterProof)
	mux.HandleFunc("POST /v1/oracles", s.HandleRegisterOracle)
	mux.HandleFunc("POST /v1/campaigns/{id}/escrow", s.HandleCreateEscrow)
	mux.HandleFunc("GET /healthz", s.HandleHealth)
	return mux
}

// HandleSubmitVote handles POST /v1/proofs/{id}/votes.
func (s *Server) HandleSubmitVote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req engine.SubmitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	req.ProofID = r.PathValue("id")

	// Basic validation
	if req.OracleID == "" || req.Signature == "" {
		WriteBadRequest(w, "Missing required fields: oracle_id, signature")
		return
	}

	vote, result, err := s.engine.SubmitVote(r.Context(), req)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(struct {
		Vote   *contracts.Vote           `json:"vote"`
		Result contracts.ConsensusResult `json:"result"`
	}{Vote: vote, Result: result})
}

// resultResponse flattens the verdict into the booleans downstream
// dashboards branch on.
type resultResponse struct {
	contracts.ConsensusResult
	Approved bool `json:"approved"`
	Rejected bool `json:"rejected"`
	Pending  bool `json:"pending"`
}

// HandleGetResult handles GET /v1/proofs/{id}/result.
func (s *Server) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resultResponse{
		ConsensusResult: result,
		Approved:        result.Approved(),
		Rejected:        result.Rejected(),
		Pending:         result.Pending(),
	})
}

// RegisterProofRequest creates a proof record open for voting.
type RegisterProofRequest struct {
	ID             string `json:"id"`
	CampaignID     string `json:"campaign_id"`
	Description    string `json:"description"`
	AttachmentHash string `json:"attachment_hash,omitempty"`
}

// HandleRegisterProof handles POST /v1/proofs.
func (s *Server) HandleRegisterProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RegisterProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ID == "" || req.CampaignID == "" {
		WriteBadRequest(w, "Missing required fields: id, campaign_id")
		return
	}

	proof := &contracts.Proof{
		ID:             req.ID,
		CampaignID:     req.CampaignID,
		Description:    req.Description,
		AttachmentHash: req.AttachmentHash,
		CreatedAt:      time.Now(),
	}
	if err := s.proofs.PutProof(r.Context(), proof); err != nil {
		WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(proof)
}

// RegisterOracleRequest enrolls a trusted oracle.
type RegisterOracleRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	PublicKey string  `json:"public_key"`
	KeyAlg    string  `json:"key_alg"`
	Weight    float64 `json:"weight"`
}

// HandleRegisterOracle handles POST /v1/oracles.
func (s *Server) HandleRegisterOracle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RegisterOracleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ID == "" || req.PublicKey == "" {
		WriteBadRequest(w, "Missing required fields: id, public_key")
		return
	}
	if req.KeyAlg == "" {
		req.KeyAlg = contracts.KeyAlgEd25519
	}

	oracle := &contracts.Oracle{
		ID:        req.ID,
		Name:      req.Name,
		PublicKey: req.PublicKey,
		KeyAlg:    req.KeyAlg,
		Weight:    req.Weight,
		CreatedAt: time.Now(),
	}
	if err := s.oracles.PutOracle(r.Context(), oracle); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(oracle)
}

// CreateEscrowRequest deploys the escrow contract for a campaign.
type CreateEscrowRequest struct {
	NGOAddress        string    `json:"ngo_address"`
	Goal              uint64    `json:"goal"`
	Deadline          time.Time `json:"deadline"`
	ApprovalThreshold float64   `json:"approval_threshold"`
}

// HandleCreateEscrow handles POST /v1/campaigns/{id}/escrow.
func (s *Server) HandleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.NGOAddress == "" {
		WriteBadRequest(w, "Missing required field: ngo_address")
		return
	}

	state, err := s.engine.CreateEscrow(r.Context(), r.PathValue("id"), ledger.CreateEscrowParams{
		NGOAddress:        req.NGOAddress,
		Goal:              req.Goal,
		Deadline:          req.Deadline,
		ApprovalThreshold: req.ApprovalThreshold,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(state)
}

// HandleHealth handles GET /healthz.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Package api exposes the escrow engine over an HTTP JSON API. The
// authenticated principal from the auth middleware is the explicit actor
// for every privileged call; the engine never sees transport credentials.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bridgelock/escrow/pkg/admin"
	"github.com/bridgelock/escrow/pkg/api/problem"
	"github.com/bridgelock/escrow/pkg/auth"
	"github.com/bridgelock/escrow/pkg/contracts"
	"github.com/bridgelock/escrow/pkg/escrow"
	"github.com/bridgelock/escrow/pkg/observability"
	"github.com/bridgelock/escrow/pkg/roles"
)

// Server holds the API's collaborators.
type Server struct {
	engine   *escrow.Engine
	gate     *admin.Gate
	registry *roles.Registry
	obs      *observability.Provider
	logger   *slog.Logger
}

// NewServer creates an API server. obs may be nil.
func NewServer(engine *escrow.Engine, gate *admin.Gate, registry *roles.Registry, obs *observability.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, gate: gate, registry: registry, obs: obs, logger: logger.With("component", "api")}
}

// Routes builds the route table. Auth and rate limiting are applied by the
// caller so tests can exercise handlers directly.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.HandleFunc("POST /api/escrow/lock", s.handleLock)
	mux.HandleFunc("POST /api/escrow/complete", s.handleComplete)
	mux.HandleFunc("POST /api/escrow/refund", s.handleRefund)
	mux.HandleFunc("POST /api/escrow/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/escrow/{id}", s.handleGet)
	mux.HandleFunc("GET /api/pool", s.handlePool)
	mux.HandleFunc("POST /api/admin/mint", s.handleMint)
	mux.HandleFunc("POST /api/admin/pool/adjust", s.handleAdjustPool)
	mux.HandleFunc("POST /api/roles/grant", s.handleGrant)
	mux.HandleFunc("POST /api/roles/revoke", s.handleRevoke)

	return mux
}

// Handler wraps Routes with authentication and rate limiting.
func (s *Server) Handler(validator *auth.Validator, limiter *auth.ActorLimiter) http.Handler {
	h := s.Routes()
	h = auth.RateLimitMiddleware(limiter)(h)
	h = auth.Middleware(validator)(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness reports ready once the commitment store answers queries.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.LockedTotal(r.Context()); err != nil {
		problem.Write(w, http.StatusServiceUnavailable, "NOT_READY", "Service Unavailable", "commitment store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type lockRequest struct {
	Counterparty    string             `json:"counterparty"`
	Amount          uint64             `json:"amount"`
	HashLock        contracts.HashLock `json:"hash_lock"`
	TimelockSeconds uint64             `json:"timelock_seconds"`
}

type lockResponse struct {
	ID contracts.CommitmentID `json:"id"`
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	locker, err := auth.GetPrincipal(r.Context())
	if err != nil {
		problem.WriteUnauthorized(w, "no authenticated principal")
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "malformed request body")
		return
	}

	id, err := s.engine.Lock(r.Context(), locker, contracts.Principal(req.Counterparty),
		req.Amount, req.HashLock, time.Duration(req.TimelockSeconds)*time.Second)
	s.record(r, "lock", started, err)
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lockResponse{ID: id})
}

type completeRequest struct {
	ID       contracts.CommitmentID `json:"id"`
	Preimage string                 `json:"preimage"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "malformed request body")
		return
	}
	preimage, err := hex.DecodeString(req.Preimage)
	if err != nil {
		problem.WriteBadRequest(w, "preimage is not valid hex")
		return
	}

	err = s.engine.Complete(r.Context(), req.ID, preimage)
	s.record(r, "complete", started, err)
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(contracts.StateCompleted)})
}

type idRequest struct {
	ID contracts.CommitmentID `json:"id"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "malformed request body")
		return
	}

	err := s.engine.Refund(r.Context(), req.ID)
	s.record(r, "refund", started, err)
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(contracts.StateRefunded)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	caller, err := auth.GetPrincipal(r.Context())
	if err != nil {
		problem.WriteUnauthorized(w, "no authenticated principal")
		return
	}
	var req idRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "malformed request body")
		return
	}

	err = s.engine.Cancel(r.Context(), caller, req.ID)
	s.record(r, "cancel", started, err)
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(contracts.StateCancelled)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := contracts.ParseCommitmentID(r.PathValue("id"))
	if err != nil {
		problem.WriteBadRequest(w, "malformed commitment id")
		return
	}
	rec, err := s.engine.Get(r.Context(), id)
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.PoolBalance(r.Context())
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	locked, err := s.engine.LockedTotal(r.Context())
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"pool_balance": pool,
		"locked_total": locked,
	})
}

type mintRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	actor, err := auth.GetPrincipal(r.Context())
	if err != nil {
		problem.WriteUnauthorized(w, "no authenticated principal")
		return
	}
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "malformed request body")
		return
	}

	err = s.gate.Mint(r.Context(), actor, contracts.Principal(req.To), req.Amount)
	s.record(r, "mint", started, err)
	if err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

type adjustPoolRequest struct {
	Delta int64 `json:"delta"`
}

func (s *Server) handleAdjustPool(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.GetPrincipal(r.Context())
	if err != nil {
		problem.WriteUnauthorized(w, "no authenticated principal")
		return
	}
	var req adjustPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "malformed request body")
		return
	}

	if err := s.gate.AdjustPool(r.Context(), actor, req.Delta); err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "adjusted"})
}

type roleRequest struct {
	Role      string `json:"role"`
	Principal string `json:"principal"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, s.registry.GrantRole)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, s.registry.RevokeRole)
}

func (s *Server) handleRoleChange(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, actor contracts.Principal, role roles.Role, principal contracts.Principal) error) {
	actor, err := auth.GetPrincipal(r.Context())
	if err != nil {
		problem.WriteUnauthorized(w, "no authenticated principal")
		return
	}
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, "malformed request body")
		return
	}
	role, err := resolveRole(req.Role)
	if err != nil {
		problem.WriteBadRequest(w, "unknown role")
		return
	}

	if err := apply(r.Context(), actor, role, contracts.Principal(req.Principal)); err != nil {
		problem.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// resolveRole accepts either a well-known role name or a 64-character hex
// role tag.
func resolveRole(name string) (roles.Role, error) {
	switch name {
	case "MINTER_ROLE":
		return roles.MinterRole, nil
	case "MINTER_ADMIN_ROLE":
		return roles.MinterAdminRole, nil
	case "OPERATOR_ROLE":
		return roles.OperatorRole, nil
	}
	return roles.ParseRole(name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) record(r *http.Request, op string, started time.Time, err error) {
	if s.obs == nil {
		return
	}
	s.obs.RecordOperation(r.Context(), op, time.Since(started), err)
}

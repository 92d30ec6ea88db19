package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/engine"
	"github.com/mirrorlabs/mirror/core/pkg/governance"
	"github.com/mirrorlabs/mirror/core/pkg/observability"
	"github.com/mirrorlabs/mirror/core/pkg/recognition"
	"github.com/mirrorlabs/mirror/core/pkg/updates"
	"github.com/mirrorlabs/mirror/core/pkg/workers"
)

// apiServer is the node's JSON control surface over the engine and the
// worker registry. Governance activity is announced to peers through
// the gossip bridge; executed proposals are applied by the executor.
type apiServer struct {
	engine   *engine.Engine
	workers  *workers.Registry
	obs      *observability.Provider
	gossip   *gossip
	executor governance.Executor
	logger   *slog.Logger
}

func (s *apiServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/reflections", s.handleSubmit)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/chain/verify", s.handleVerifyChain)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)

	mux.HandleFunc("POST /api/certs", s.handleCertify)
	mux.HandleFunc("GET /api/certs/verify", s.handleVerifyCert)
	mux.HandleFunc("POST /api/certs/revoke", s.handleRevoke)

	mux.HandleFunc("POST /api/proposals", s.handlePropose)
	mux.HandleFunc("POST /api/proposals/vote", s.handleVote)
	mux.HandleFunc("POST /api/proposals/execute", s.handleExecuteProposal)

	mux.HandleFunc("POST /api/updates", s.handleRegisterUpdate)
	mux.HandleFunc("GET /api/updates", s.handleAvailableUpdates)
	mux.HandleFunc("POST /api/updates/applied", s.handleMarkApplied)

	mux.HandleFunc("POST /api/workers", s.handleRegisterWorker)
	mux.HandleFunc("POST /api/workers/approve", s.handleApproveWorker)
	mux.HandleFunc("GET /api/workers", s.handleListWorkers)
	mux.HandleFunc("POST /api/workers/execute", s.handleExecuteWorker)
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reflection  contracts.Reflection   `json:"reflection"`
		Preferences *contracts.Preferences `json:"preferences"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	prefs := contracts.DefaultPreferences()
	if req.Preferences != nil {
		prefs = *req.Preferences
	}
	done := s.obs.RequestStarted(r.Context())
	defer done()

	result, err := s.engine.SubmitReflection(r.Context(), req.Reflection, prefs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.obs.RecordRequest(r.Context(), string(req.Reflection.Mode),
		result.Success, result.CrisisDetected, len(result.Violations))
	s.writeJSON(w, result)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.engine.GetHistory(r.Context(),
		r.URL.Query().Get("user"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, events)
}

func (s *apiServer) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.VerifyChain(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *apiServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, snap)
}

func (s *apiServer) handleCertify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Tier   string `json:"tier"`
		TTL    string `json:"ttl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	ttl := 90 * 24 * time.Hour
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
		ttl = d
	}
	cert, err := s.engine.Certify(r.Context(), req.UserID, req.Tier, ttl)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, cert)
}

func (s *apiServer) handleVerifyCert(w http.ResponseWriter, r *http.Request) {
	cert := s.engine.VerifyCert(r.URL.Query().Get("id"))
	if cert == nil {
		s.writeJSON(w, map[string]bool{"valid": false})
		return
	}
	s.writeJSON(w, map[string]any{"valid": true, "certificate": cert})
}

func (s *apiServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CertID string                   `json:"cert_id"`
		Cause  contracts.RevocationCause `json:"cause"`
		Reason string                   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rev, err := s.engine.Revoke(req.CertID, req.Cause, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, rev)
}

func (s *apiServer) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        contracts.ProposalType `json:"type"`
		Title       string                 `json:"title"`
		Description string                 `json:"description"`
		Changes     map[string]any         `json:"changes"`
		ProposedBy  string                 `json:"proposed_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	id, err := s.engine.Propose(req.Type, req.Title, req.Description, req.Changes, req.ProposedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.gossip != nil {
		if p, err := s.gossip.council.Get(id); err == nil {
			s.gossip.announceProposal(r.Context(), p)
		}
	}
	s.writeJSON(w, map[string]string{"proposal_id": id})
}

func (s *apiServer) handleVote(w http.ResponseWriter, r *http.Request) {
	var vote contracts.Vote
	if err := json.NewDecoder(r.Body).Decode(&vote); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.engine.CastVote(vote); err != nil {
		s.writeError(w, err)
		return
	}
	if s.gossip != nil {
		s.gossip.voteRecorded(r.Context(), vote)
	}
	s.writeJSON(w, map[string]string{"status": "recorded"})
}

func (s *apiServer) handleExecuteProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.engine.Execute(req.ProposalID, s.executor); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "executed"})
}

func (s *apiServer) handleRegisterUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Manifest            contracts.UpdateManifest `json:"manifest"`
		ThresholdSignatures map[string]string        `json:"threshold_signatures"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.engine.RegisterUpdate(req.Manifest, req.ThresholdSignatures); err != nil {
		s.writeError(w, err)
		return
	}
	if s.gossip != nil {
		s.gossip.announceUpdate(r.Context(), req.Manifest, req.ThresholdSignatures)
	}
	s.writeJSON(w, map[string]string{"status": "registered"})
}

func (s *apiServer) handleAvailableUpdates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.engine.AvailableUpdates(
		contracts.UpdateSection(q.Get("section")),
		contracts.UpdateChannel(q.Get("channel")),
		q.Get("version"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *apiServer) handleMarkApplied(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UpdateID string `json:"update_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.engine.MarkApplied(req.UpdateID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "applied"})
}

func (s *apiServer) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var m contracts.WorkerManifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	id, err := s.workers.Register(m)
	if err != nil {
		s.writeWorkerError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"worker_id": id, "status": string(contracts.WorkerProposed)})
}

func (s *apiServer) handleApproveWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID            string            `json:"worker_id"`
		Approver            string            `json:"approver"`
		ThresholdSignatures map[string]string `json:"threshold_signatures"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.workers.Approve(req.WorkerID, req.Approver, req.ThresholdSignatures); err != nil {
		s.writeWorkerError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": string(contracts.WorkerApproved)})
}

func (s *apiServer) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	status := contracts.WorkerStatus(r.URL.Query().Get("status"))
	s.writeJSON(w, s.workers.List(status))
}

func (s *apiServer) handleExecuteWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string          `json:"worker_id"`
		Input    json.RawMessage `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	result, err := s.workers.Execute(r.Context(), req.WorkerID, req.Input)
	if err != nil {
		s.writeWorkerError(w, err)
		return
	}
	s.writeJSON(w, result)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	var engErr *engine.Error
	status := http.StatusInternalServerError
	// State conflicts (re-revoking a certificate, re-applying an update)
	// are 409s, not bad requests.
	if errors.Is(err, recognition.ErrAlreadyRevoked) || errors.Is(err, updates.ErrAlreadyApplied) {
		status = http.StatusConflict
	} else if errors.As(err, &engErr) {
		switch engErr.Kind {
		case contracts.KindMalformedInput:
			status = http.StatusBadRequest
		case contracts.KindUnauthorized, contracts.KindSignatureInvalid,
			contracts.KindThresholdNotMet:
			status = http.StatusForbidden
		case contracts.KindChainMismatch, contracts.KindGenesisViolation:
			status = http.StatusConflict
		case contracts.KindDeadlineExceeded:
			status = http.StatusGatewayTimeout
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *apiServer) writeWorkerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workers.ErrWorkerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workers.ErrSchemaViolation):
		status = http.StatusBadRequest
	case errors.Is(err, workers.ErrSignatureInvalid),
		errors.Is(err, workers.ErrThresholdRequired),
		errors.Is(err, workers.ErrNotApproved):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("worker request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

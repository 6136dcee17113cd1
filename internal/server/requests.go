package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MSubhan6/open-moniker/internal/governance"
)

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req governance.MonikerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed moniker request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}

	created, err := s.ctrl.Submit(&req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	status := governance.RequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "", governance.RequestPending, governance.RequestApproved, governance.RequestRejected:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown request status "+string(status))
		return
	}
	reqs := s.ctrl.ListRequests(status)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(reqs), "requests": reqs})
}

type decisionBody struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// decisionActor prefers an explicit actor in the body, falling back to the
// role name of the presented token.
func (s *Server) decisionActor(r *http.Request, body decisionBody) string {
	if body.Actor != "" {
		return body.Actor
	}
	return s.gate.FromRequest(r).String()
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	// An empty body is fine for approvals.
	_ = json.NewDecoder(r.Body).Decode(&body)

	id := chi.URLParam(r, "id")
	req, node, err := s.ctrl.Approve(r.Context(), id, s.decisionActor(r, body))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": req, "node": node})
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed decision body")
		return
	}
	if body.Reason == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "rejection reason is required")
		return
	}

	id := chi.URLParam(r, "id")
	req, err := s.ctrl.Reject(id, s.decisionActor(r, body), body.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

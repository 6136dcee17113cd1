package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MSubhan6/open-moniker/internal/catalog"
	"github.com/MSubhan6/open-moniker/internal/telemetry"
)

func callerFrom(r *http.Request) telemetry.CallerIdentity {
	return telemetry.CallerIdentity{
		AppID: r.Header.Get("X-App-ID"),
		Team:  r.Header.Get("X-Team"),
	}
}

func wildcardPath(r *http.Request) string {
	return strings.Trim(chi.URLParam(r, "*"), "/")
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	raw := wildcardPath(r)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_moniker", "missing moniker path")
		return
	}
	// Query params are part of the moniker, not transport options.
	if r.URL.RawQuery != "" {
		raw += "?" + r.URL.RawQuery
	}

	res, err := s.svc.Resolve(r.Context(), raw, callerFrom(r), chimiddleware.GetReqID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if res.Status == catalog.NodeStatusDeprecated {
		w.Header().Set("X-Moniker-Deprecated", "true")
	}
	if res.Successor != nil {
		w.Header().Set("X-Moniker-Successor", *res.Successor)
	}
	if res.RedirectedFrom != nil {
		w.Header().Set("X-Moniker-Redirected-From", *res.RedirectedFrom)
	}
	writeJSON(w, http.StatusOK, res)
}

type batchRequest struct {
	Monikers []string `json:"monikers"`
}

type batchEntry struct {
	Moniker string           `json:"moniker"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *errorBody       `json:"error,omitempty"`
}

const maxBatchSize = 100

func (s *Server) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"monikers\": [...]}")
		return
	}
	if len(req.Monikers) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "monikers list is empty")
		return
	}
	if len(req.Monikers) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "invalid_request", "too many monikers in one batch")
		return
	}

	caller := callerFrom(r)
	requestID := chimiddleware.GetReqID(r.Context())
	out := make([]batchEntry, 0, len(req.Monikers))
	for _, raw := range req.Monikers {
		entry := batchEntry{Moniker: raw}
		res, err := s.svc.Resolve(r.Context(), raw, caller, requestID)
		if err != nil {
			entry.Error = &errorBody{Error: errorKind(err), Message: err.Error()}
		} else if data, merr := json.Marshal(res); merr == nil {
			raw := json.RawMessage(data)
			entry.Result = &raw
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleTelemetryAccess(w http.ResponseWriter, r *http.Request) {
	var ev telemetry.UsageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed usage event")
		return
	}
	if ev.Moniker == "" || ev.Operation == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "moniker and operation are required")
		return
	}
	if ev.Caller.AppID == "" {
		ev.Caller = callerFrom(r)
	}
	if ev.RequestID == "" {
		ev.RequestID = chimiddleware.GetReqID(r.Context())
	}
	s.svc.EmitAccess(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

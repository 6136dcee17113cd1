package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MSubhan6/open-moniker/internal/catalog"
	"github.com/MSubhan6/open-moniker/internal/governance"
)

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing path")
		return
	}
	res, err := s.svc.Describe(r.Context(), path)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	// Empty path lists the top level.
	res, err := s.svc.List(r.Context(), wildcardPath(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": res})
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing path")
		return
	}
	res, err := s.svc.Lineage(r.Context(), path)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lineage": res})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tree": s.svc.Tree(r.Context())})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	nodes := s.svc.Registry().AllNodes()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(nodes),
		"nodes": nodes,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}
	res := s.svc.Search(r.Context(), q)
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "count": len(res), "results": res})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats(r.Context()))
}

type statusUpdateBody struct {
	Status             string  `json:"status"`
	Actor              string  `json:"actor"`
	Reason             *string `json:"reason,omitempty"`
	DeprecationMessage *string `json:"deprecation_message,omitempty"`
	Successor          *string `json:"successor,omitempty"`
	SunsetDeadline     *string `json:"sunset_deadline,omitempty"`
	MigrationGuideURL  *string `json:"migration_guide_url,omitempty"`
}

// handleStatusUpdate serves PUT /catalog/{path}/status, where {path} itself
// contains slashes.
func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	wildcard := wildcardPath(r)
	path, ok := strings.CutSuffix(wildcard, "/status")
	if !ok || path == "" {
		writeError(w, http.StatusNotFound, "not_found", "expected /catalog/{path}/status")
		return
	}

	var body statusUpdateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed status update body")
		return
	}
	status, err := catalog.ParseStatus(body.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.Actor == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actor is required")
		return
	}

	node, err := s.ctrl.UpdateNodeStatus(r.Context(), path, governance.StatusUpdate{
		Status:             status,
		Actor:              body.Actor,
		Reason:             body.Reason,
		DeprecationMessage: body.DeprecationMessage,
		Successor:          body.Successor,
		SunsetDeadline:     body.SunsetDeadline,
		MigrationGuideURL:  body.MigrationGuideURL,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleAudit serves GET /catalog/{path}/audit.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	wildcard := wildcardPath(r)
	path, ok := strings.CutSuffix(wildcard, "/audit")
	if !ok || path == "" {
		writeError(w, http.StatusNotFound, "not_found", "expected /catalog/{path}/audit")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.svc.Registry().AuditLog(path, limit)
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "entries": entries})
}

type reloadBody struct {
	Actor         string `json:"actor"`
	BlockBreaking *bool  `json:"block_breaking,omitempty"`
	File          string `json:"file,omitempty"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	var body reloadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed reload body")
		return
	}
	if body.Actor == "" {
		body.Actor = "api"
	}
	blockBreaking := true
	if body.BlockBreaking != nil {
		blockBreaking = *body.BlockBreaking
	}
	file := body.File
	if file == "" {
		file = s.catalogFile
	}
	if file == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "no catalog file configured")
		return
	}

	res, err := s.ctrl.ReloadFromFile(r.Context(), file, blockBreaking, body.Actor)
	if err != nil && res != nil {
		// Breaking reload rejected: surface the diff alongside the error kind.
		writeJSON(w, http.StatusConflict, struct {
			Error string `json:"error"`
			*governance.ReloadResult
		}{Error: "breaking_reload_rejected", ReloadResult: res})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDomains(w http.ResponseWriter, _ *http.Request) {
	if s.domains == nil {
		writeJSON(w, http.StatusOK, map[string]any{"count": 0, "domains": []any{}})
		return
	}
	all := s.domains.All()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(all), "domains": all})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	if s.models == nil {
		writeJSON(w, http.StatusOK, map[string]any{"count": 0, "models": []any{}})
		return
	}
	all := s.models.All()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(all), "models": all})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.models == nil {
		writeError(w, http.StatusNotFound, "not_found", "models registry not configured")
		return
	}
	m, ok := s.models.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "model "+name+" not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Stats(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"catalog":    stats,
		"cache_size": s.svc.CacheLen(r.Context()),
		"telemetry":  s.svc.TelemetryStats(),
	})
}

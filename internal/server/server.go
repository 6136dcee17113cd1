// Package server exposes the resolver over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MSubhan6/open-moniker/internal/auth"
	"github.com/MSubhan6/open-moniker/internal/catalog"
	"github.com/MSubhan6/open-moniker/internal/domains"
	"github.com/MSubhan6/open-moniker/internal/governance"
	"github.com/MSubhan6/open-moniker/internal/models"
	"github.com/MSubhan6/open-moniker/internal/moniker"
	"github.com/MSubhan6/open-moniker/internal/service"
	"github.com/MSubhan6/open-moniker/internal/template"
)

// Server holds the HTTP surface dependencies.
type Server struct {
	svc     *service.Service
	ctrl    *governance.Controller
	gate    *auth.Gate
	domains *domains.Registry
	models  *models.Registry
	log     *zap.Logger

	catalogFile string
	gatherer    prometheus.Gatherer

	requestDuration *prometheus.HistogramVec
}

// New builds a Server. domains and models may be nil.
func New(svc *service.Service, ctrl *governance.Controller, gate *auth.Gate,
	dom *domains.Registry, mdl *models.Registry, reg prometheus.Registerer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		svc:     svc,
		ctrl:    ctrl,
		gate:    gate,
		domains: dom,
		models:  mdl,
		log:     log,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moniker_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(s.requestDuration)
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		s.gatherer = g
	} else {
		s.gatherer = prometheus.DefaultGatherer
	}
	return s
}

// SetCatalogFile records the file reloads fall back to when a request names
// no file of its own.
func (s *Server) SetCatalogFile(path string) {
	s.catalogFile = path
}

// Router assembles the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-App-ID", "X-Team"},
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Get("/resolve/*", s.handleResolve)
	r.Post("/resolve/batch", s.handleResolveBatch)
	r.Get("/describe/*", s.handleDescribe)
	r.Get("/list/*", s.handleList)
	r.Get("/list", s.handleList)
	r.Get("/lineage/*", s.handleLineage)
	r.Get("/tree", s.handleTree)

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/", s.handleCatalog)
		r.Get("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)
		r.With(s.gate.Require(auth.RoleApprover)).Post("/reload", s.handleReload)
		r.With(s.gate.Require(auth.RoleApprover)).Put("/*", s.handleStatusUpdate)
		r.Get("/*", s.handleAudit)
	})

	r.Route("/requests", func(r chi.Router) {
		r.With(s.gate.Require(auth.RoleSubmitter)).Post("/", s.handleSubmitRequest)
		r.With(s.gate.Require(auth.RoleSubmitter)).Get("/", s.handleListRequests)
		r.With(s.gate.Require(auth.RoleApprover)).Post("/{id}/approve", s.handleApproveRequest)
		r.With(s.gate.Require(auth.RoleApprover)).Post("/{id}/reject", s.handleRejectRequest)
	})

	r.Post("/telemetry/access", s.handleTelemetryAccess)

	r.Get("/domains", s.handleDomains)
	r.Get("/models", s.handleModels)
	r.Get("/models/{name}", s.handleModel)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.requestDuration.WithLabelValues(route, statusClass(ww.Status())).Observe(elapsed.Seconds())
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

// classify maps domain errors onto the HTTP surface.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, moniker.ErrInvalidMoniker):
		return http.StatusBadRequest, "invalid_moniker"
	case errors.Is(err, service.ErrUnknownMoniker), errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, governance.ErrRequestNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrNoBinding):
		return http.StatusUnprocessableEntity, "no_binding"
	case errors.Is(err, template.ErrTemplateMissing):
		return http.StatusUnprocessableEntity, "template_error"
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, catalog.ErrConflict), errors.Is(err, governance.ErrRequestClosed):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func errorKind(err error) string {
	_, kind := classify(err)
	return kind
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeError(w, status, kind, err.Error())
}

// Package admin exposes the agent's operational surface over HTTP: health,
// Prometheus metrics, cache statistics, targeted cache invalidation and
// event processing records. It is an operator tool, not a data path; the
// per-client rate limit keeps a misbehaving script from hammering the cache
// with invalidations.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/catalog-sdk/dispatch"
	"github.com/example/catalog-sdk/pkg/middleware"
	"github.com/example/catalog-sdk/refcache"
)

// Server wires the admin endpoints to the agent's resolver and dispatcher.
type Server struct {
	resolver   *refcache.Resolver
	dispatcher *dispatch.Dispatcher
	registry   *dispatch.Registry
	logger     *slog.Logger
	limiter    *middleware.ClientLimiter
}

func NewServer(r *refcache.Resolver, d *dispatch.Dispatcher, reg *dispatch.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		resolver:   r,
		dispatcher: d,
		registry:   reg,
		logger:     logger,
		limiter:    middleware.NewClientLimiter(10, 20),
	}
}

// Handler builds the routed handler with logging and rate limiting applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/api/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	router.HandleFunc("/api/cache/invalidate", s.handleInvalidate).Methods(http.MethodPost)
	router.HandleFunc("/api/events", s.handleListRecords).Methods(http.MethodGet)
	router.HandleFunc("/api/events/{id}", s.handleRecord).Methods(http.MethodGet)
	router.HandleFunc("/api/handlers", s.handleHandlerTypes).Methods(http.MethodGet)

	return middleware.RequestLogger(s.logger,
		middleware.RateLimit(s.limiter, middleware.KeyByIP, router))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"caches": s.resolver.Stats(),
	})
}

// InvalidateRequest names what to drop from the reference cache. Exactly one
// of GUIDs, QualifiedNames, Pattern or All should be set; TypeName is always
// required.
type InvalidateRequest struct {
	TypeName       string   `json:"typeName"`
	GUIDs          []string `json:"guids,omitempty"`
	QualifiedNames []string `json:"qualifiedNames,omitempty"`
	Pattern        string   `json:"pattern,omitempty"`
	All            bool     `json:"all,omitempty"`
}

type InvalidateResponse struct {
	Success          bool      `json:"success"`
	InvalidatedCount int       `json:"invalidatedCount"`
	RequestID        string    `json:"requestId"`
	ProcessedAt      time.Time `json:"processedAt"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TypeName == "" {
		writeError(w, http.StatusBadRequest, "typeName is required")
		return
	}
	if len(req.GUIDs) == 0 && len(req.QualifiedNames) == 0 && req.Pattern == "" && !req.All {
		writeError(w, http.StatusBadRequest, "nothing to invalidate")
		return
	}

	count := 0
	switch {
	case req.All:
		s.resolver.InvalidateType(req.TypeName)
	case req.Pattern != "":
		count = s.resolver.InvalidatePattern(req.TypeName, req.Pattern)
	default:
		for _, guid := range req.GUIDs {
			if s.resolver.Invalidate(req.TypeName, guid) {
				count++
			}
		}
		for _, qn := range req.QualifiedNames {
			if s.resolver.InvalidateQualifiedName(req.TypeName, qn) {
				count++
			}
		}
	}

	requestID := middleware.RequestIDFromCtx(r.Context())
	s.logger.Info("cache invalidation",
		"requestId", requestID,
		"typeName", req.TypeName,
		"pattern", req.Pattern,
		"all", req.All,
		"invalidated", count)

	writeJSON(w, http.StatusOK, InvalidateResponse{
		Success:          true,
		InvalidatedCount: count,
		RequestID:        requestID,
		ProcessedAt:      time.Now(),
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"records": s.dispatcher.Records(),
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, ok := s.dispatcher.Record(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no record for event "+id)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHandlerTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"eventTypes": s.registry.Types(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

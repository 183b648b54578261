// Package server exposes the HTTP surface: webhook intake, contact reads,
// enrichment triggers, and breaker administration.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/breaker"
	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/internal/monitoring"
	"github.com/sells-group/contact-enrichment/internal/provider"
	"github.com/sells-group/contact-enrichment/internal/store"
	"github.com/sells-group/contact-enrichment/internal/webhook"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Server holds the handler dependencies.
type Server struct {
	store     store.Store
	guard     *webhook.Guard
	breakers  *breaker.Manager
	collector *monitoring.Collector
}

func New(st store.Store, guard *webhook.Guard, breakers *breaker.Manager) *Server {
	return &Server{
		store:     st,
		guard:     guard,
		breakers:  breakers,
		collector: monitoring.NewCollector(st, breakers, provider.Services()),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-External-ID"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/webhooks/{source}", s.handleWebhook)

	r.Route("/contacts", func(api chi.Router) {
		api.Get("/", s.handleListContacts)
		api.Get("/{id}", s.handleGetContact)
		api.Post("/{id}/enrich", s.handleEnqueueEnrich)
	})

	r.Route("/breakers", func(api chi.Router) {
		api.Get("/{service}", s.handleBreakerState)
		api.Post("/{service}/force-open", s.handleForceOpen)
		api.Post("/{service}/force-close", s.handleForceClose)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleWebhook acknowledges every delivery with 200 once the body is read.
// A replay gets the same response as the original; nothing in the reply
// reveals whether the event was new. Internal failures are logged and still
// acknowledged so the sender retries on its own schedule without probing.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Error("read webhook body", zap.String("source", source), zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	externalID := r.Header.Get("X-External-ID")
	if externalID == "" {
		externalID = extractExternalID(body)
	}

	if _, err := s.guard.Admit(r.Context(), source, externalID, body); err != nil {
		zap.L().Error("webhook admit failed", zap.String("source", source), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "contact not found"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	filter := store.ContactFilter{
		Status: model.ContactStatus(r.URL.Query().Get("status")),
		Kind:   model.ContactKind(r.URL.Query().Get("kind")),
	}
	contacts, err := s.store.ListContacts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts, "count": len(contacts)})
}

func (s *Server) handleEnqueueEnrich(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "contact not found"})
		return
	}

	var req struct {
		Kinds []model.EnrichmentKind `json:"kinds"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}
	}
	for _, k := range req.Kinds {
		if !model.ValidEnrichmentKind(k) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown enrichment kind: " + string(k)})
			return
		}
	}

	args, err := json.Marshal(model.ProcessContactArgs{ContactID: id, Kinds: req.Kinds})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	job := &model.Job{Type: model.JobProcessContact, Args: args}
	if err := s.store.EnqueueJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleBreakerState(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	state, err := s.breakers.State(r.Context(), service)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleForceOpen(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if err := s.breakers.ForceOpen(r.Context(), service); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	zap.L().Warn("breaker force-opened", zap.String("service", service))
	writeJSON(w, http.StatusOK, map[string]string{"service": service, "circuit": string(breaker.CircuitOpen)})
}

func (s *Server) handleForceClose(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if err := s.breakers.ForceClose(r.Context(), service); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	zap.L().Warn("breaker force-closed", zap.String("service", service))
	writeJSON(w, http.StatusOK, map[string]string{"service": service, "circuit": string(breaker.CircuitClosed)})
}

// extractExternalID probes the common payload fields sources use for their
// delivery identifier.
func extractExternalID(body []byte) string {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	for _, field := range []string{"external_id", "submission_id", "event_id", "id"} {
		raw, ok := probe[field]
		if !ok {
			continue
		}
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
			return asString
		}
		var asNumber json.Number
		if err := json.Unmarshal(raw, &asNumber); err == nil && asNumber.String() != "" {
			return asNumber.String()
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, status, map[string]string{"error": "internal error"})
}

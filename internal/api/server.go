package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"foodsafe-workflow/internal/config"
	"foodsafe-workflow/internal/evidence"
	"foodsafe-workflow/internal/ratelimit"
	"foodsafe-workflow/internal/status"
	"foodsafe-workflow/internal/store"
	"foodsafe-workflow/internal/sweep"
	"foodsafe-workflow/internal/telemetry"
	"foodsafe-workflow/internal/workflow"
)

// Server wires HTTP handlers for the workflow API. Identity resolution is
// external; handlers consume the already-resolved actor id from the
// X-Actor-ID header.
type Server struct {
	cfg      config.Config
	engine   *workflow.Engine
	sweeper  *sweep.Runner
	evidence *evidence.Store
	limiter  *ratelimit.ActorLimiter
	log      *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, engine *workflow.Engine, sweeper *sweep.Runner, ev *evidence.Store, limiter *ratelimit.ActorLimiter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		engine:   engine,
		sweeper:  sweeper,
		evidence: ev,
		limiter:  limiter,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/capas", func(r chi.Router) {
		r.Post("/", s.handleCreateCAPA)
		r.Get("/{id}", s.handleGetCAPA)
		r.Post("/{id}/transition", s.handleTransitionCAPA)
		r.Post("/{id}/effectiveness", s.handleEffectiveness)
	})

	r.Route("/nonconformances", func(r chi.Router) {
		r.Post("/", s.handleCreateNC)
		r.Get("/{id}", s.handleGetNC)
		r.Post("/{id}/transition", s.handleTransitionNC)
		r.Post("/{id}/capa", s.handleGenerateCAPAFromNC)
		r.Put("/{id}/capa/{capaID}", s.handleLinkCAPA)
	})

	r.Route("/complaints", func(r chi.Router) {
		r.Post("/", s.handleCreateComplaint)
		r.Get("/{id}", s.handleGetComplaint)
		r.Post("/{id}/transition", s.handleTransitionComplaint)
		r.Post("/{id}/capa", s.handleGenerateCAPAFromComplaint)
		r.Post("/{id}/evidence", s.handleAttachEvidence)
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleCreateDocument)
		r.Get("/{id}", s.handleGetDocument)
		r.Post("/{id}/transition", s.handleTransitionDocument)
		r.Post("/{id}/checkout", s.handleCheckout)
		r.Post("/{id}/checkin", s.handleCheckin)
	})

	r.Get("/records/{id}/activities", s.handleActivities)
	r.Post("/sweeps/run", s.handleRunSweeps)

	return r
}

// actor resolves the caller id and applies the per-actor rate limit. An
// empty return means the response has already been written.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		http.Error(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return ""
	}
	if id == "System" {
		// The System sentinel is reserved for the sweep scheduler.
		http.Error(w, "actor id System is reserved", http.StatusBadRequest)
		return ""
	}
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), id)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return ""
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return ""
		}
	}
	return id
}

type createCAPARequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Source      string     `json:"source"`
	AssignedTo  *string    `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`
}

func (s *Server) handleCreateCAPA(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req createCAPARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	c, err := s.engine.CreateCAPA(r.Context(), workflow.CreateCAPAParams{
		Title:       req.Title,
		Description: req.Description,
		Priority:    status.ParsePriority(req.Priority),
		Source:      status.ParseSource(req.Source),
		AssignedTo:  req.AssignedTo,
		DueDate:     req.DueDate,
		Actor:       actor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCAPA(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetCAPA(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capa":       c,
		"is_overdue": workflow.IsOverdue(c, time.Now().UTC()),
	})
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleTransitionCAPA(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	to, ok := status.ParseCAPAStrict(req.Status)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown CAPA status %q", req.Status), http.StatusBadRequest)
		return
	}
	c, err := s.engine.TransitionCAPA(r.Context(), chi.URLParam(r, "id"), to, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type effectivenessRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) handleEffectiveness(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req effectivenessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	c, err := s.engine.SetEffectivenessRating(r.Context(), chi.URLParam(r, "id"), req.Rating, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type createNCRequest struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Quantity       float64    `json:"quantity"`
	QuantityOnHold float64    `json:"quantity_on_hold"`
	AssignedTo     *string    `json:"assigned_to"`
	DueDate        *time.Time `json:"due_date"`
}

func (s *Server) handleCreateNC(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req createNCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	nc, err := s.engine.CreateNC(r.Context(), workflow.CreateNCParams{
		Title:          req.Title,
		Description:    req.Description,
		Quantity:       req.Quantity,
		QuantityOnHold: req.QuantityOnHold,
		AssignedTo:     req.AssignedTo,
		DueDate:        req.DueDate,
		Actor:          actor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nc)
}

func (s *Server) handleGetNC(w http.ResponseWriter, r *http.Request) {
	nc, err := s.engine.GetNC(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nc)
}

func (s *Server) handleTransitionNC(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	to, ok := status.ParseNCStrict(req.Status)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown non-conformance status %q", req.Status), http.StatusBadRequest)
		return
	}
	nc, err := s.engine.TransitionNC(r.Context(), chi.URLParam(r, "id"), to, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nc)
}

func (s *Server) handleGenerateCAPAFromNC(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	c, err := s.engine.GenerateCAPA(r.Context(), status.EntityNonConformance, chi.URLParam(r, "id"), actor, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleLinkCAPA(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	err := s.engine.LinkCAPA(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "capaID"), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

type createComplaintRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	AssignedTo  *string    `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`
}

func (s *Server) handleCreateComplaint(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req createComplaintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	c, err := s.engine.CreateComplaint(r.Context(), workflow.CreateComplaintParams{
		Title:       req.Title,
		Description: req.Description,
		Category:    status.ParseCategory(req.Category),
		AssignedTo:  req.AssignedTo,
		DueDate:     req.DueDate,
		Actor:       actor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetComplaint(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetComplaint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleTransitionComplaint(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	to, ok := status.ParseComplaintStrict(req.Status)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown complaint status %q", req.Status), http.StatusBadRequest)
		return
	}
	c, err := s.engine.TransitionComplaint(r.Context(), chi.URLParam(r, "id"), to, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGenerateCAPAFromComplaint(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	c, err := s.engine.GenerateCAPA(r.Context(), status.EntityComplaint, chi.URLParam(r, "id"), actor, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleAttachEvidence(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	if s.evidence == nil {
		http.Error(w, "evidence storage is not configured", http.StatusNotImplemented)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file form field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.EvidenceMaxBytes+1))
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	stored, err := s.evidence.Attach(r.Context(), id, header.Filename, data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.RecordEvidence(r.Context(), id, actor, stored.Key, stored.ThumbnailKey); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

type createDocumentRequest struct {
	Title      string     `json:"title"`
	ExpiryDate *time.Time `json:"expiry_date"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	d, err := s.engine.CreateDocument(r.Context(), workflow.CreateDocumentParams{
		Title:      req.Title,
		ExpiryDate: req.ExpiryDate,
		Actor:      actor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTransitionDocument(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	to, ok := status.ParseDocumentStrict(req.Status)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown document status %q", req.Status), http.StatusBadRequest)
		return
	}
	d, err := s.engine.TransitionDocument(r.Context(), chi.URLParam(r, "id"), to, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	d, err := s.engine.CheckoutDocument(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == "" {
		return
	}
	d, err := s.engine.CheckinDocument(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	order := store.OrderAsc
	if r.URL.Query().Get("order") == "desc" {
		order = store.OrderDesc
	}
	activities, err := s.engine.Activities(r.Context(), chi.URLParam(r, "id"), order)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

// handleRunSweeps triggers all sweeps once, for an external cron or an
// operator. Item failures come back in the summaries, not as an error.
func (s *Server) handleRunSweeps(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		http.Error(w, "sweeper is not configured", http.StatusNotImplemented)
		return
	}
	summaries := s.sweeper.RunAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// writeError maps the engine error taxonomy onto HTTP. Validation and
// conflict reasons pass through verbatim for inline display; transport
// problems get a generic retry message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validation *workflow.ValidationError
		notFound   *workflow.NotFoundError
		conflict   *workflow.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Reason, http.StatusBadRequest)
	case errors.As(err, &notFound):
		http.Error(w, notFound.Error(), http.StatusNotFound)
	case errors.As(err, &conflict):
		http.Error(w, conflict.Reason, http.StatusConflict)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, "temporary problem talking to the record store; please retry", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

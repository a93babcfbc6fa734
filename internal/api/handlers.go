package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/flashsync/internal/types"
	"github.com/hyperengineering/flashsync/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Repository is the persistence surface the handlers need.
// Implemented by repository.Repository.
type Repository interface {
	Ping(ctx context.Context) error

	ListCardSets(ctx context.Context) ([]types.CardSet, error)
	GetCardSet(ctx context.Context, id string) (types.CardSet, error)
	CreateCardSet(ctx context.Context, in types.CardSetInput) (types.CardSet, error)
	UpdateCardSet(ctx context.Context, id string, cs types.CardSet) (types.CardSet, error)
	DeleteCardSet(ctx context.Context, id string) error

	ListSessions(ctx context.Context) ([]types.StudySession, error)
	GetSession(ctx context.Context, id string) (types.StudySession, error)
	CreateSession(ctx context.Context, in types.SessionInput) (types.StudySession, error)
	UpdateSession(ctx context.Context, id string, s types.StudySession) (types.StudySession, error)
	DeleteSession(ctx context.Context, id string) error
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Handler implements the API handlers
type Handler struct {
	repo    Repository
	apiKey  string
	version string
}

// NewHandler creates a Handler.
func NewHandler(repo Repository, apiKey, version string) *Handler {
	return &Handler{
		repo:    repo,
		apiKey:  apiKey,
		version: version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// decodeBody decodes the JSON request body into v, writing a problem
// response and returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

// pathID returns the {id} URL parameter. Ids the server could never have
// issued are answered with 404.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if verr := validation.ValidateULID("id", id); verr != nil {
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
		return "", false
	}
	return id, true
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: h.version})
}

// ListCardSets handles GET /api/v1/cardsets
func (h *Handler) ListCardSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.repo.ListCardSets(r.Context())
	if err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	if sets == nil {
		sets = []types.CardSet{}
	}
	writeJSON(w, http.StatusOK, sets)
}

// GetCardSet handles GET /api/v1/cardsets/{id}
func (h *Handler) GetCardSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cs, err := h.repo.GetCardSet(r.Context(), id)
	if err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// CreateCardSet handles POST /api/v1/cardsets
func (h *Handler) CreateCardSet(w http.ResponseWriter, r *http.Request) {
	var in types.CardSetInput
	if !decodeBody(w, r, &in) {
		return
	}
	if errs := validation.ValidateCardSetInput(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	cs, err := h.repo.CreateCardSet(r.Context(), in)
	if err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	slog.Info("card set created",
		"component", "api",
		"request_id", GetRequestID(r.Context()),
		"id", cs.ID,
		"cards", len(cs.Cards),
	)
	writeJSON(w, http.StatusCreated, cs)
}

// UpdateCardSet handles PUT /api/v1/cardsets/{id}
func (h *Handler) UpdateCardSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var cs types.CardSet
	if !decodeBody(w, r, &cs) {
		return
	}
	if errs := validation.ValidateCardSet(cs); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	updated, err := h.repo.UpdateCardSet(r.Context(), id, cs)
	if err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteCardSet handles DELETE /api/v1/cardsets/{id}
func (h *Handler) DeleteCardSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteCardSet(r.Context(), id); err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	slog.Info("card set deleted",
		"component", "api",
		"request_id", GetRequestID(r.Context()),
		"id", id,
	)
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /api/v1/statistics
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
	if err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []types.StudySession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/statistics/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// CreateSession handles POST /api/v1/statistics
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var in types.SessionInput
	if !decodeBody(w, r, &in) {
		return
	}
	if errs := validation.ValidateSessionInput(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	s, err := h.repo.CreateSession(r.Context(), in)
	if err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// UpdateSession handles PUT /api/v1/statistics/{id}
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var s types.StudySession
	if !decodeBody(w, r, &s) {
		return
	}
	if errs := validation.ValidateSession(s); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	updated, err := h.repo.UpdateSession(r.Context(), id, s)
	if err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteSession handles DELETE /api/v1/statistics/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteSession(r.Context(), id); err != nil {
		MapRepositoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

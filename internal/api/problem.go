package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/flashsync/internal/repository"
	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusBadRequest:            {"https://flashsync.dev/errors/bad-request", "Bad Request"},
	http.StatusUnauthorized:          {"https://flashsync.dev/errors/unauthorized", "Unauthorized"},
	http.StatusNotFound:              {"https://flashsync.dev/errors/not-found", "Not Found"},
	http.StatusRequestEntityTooLarge: {"https://flashsync.dev/errors/too-large", "Request Entity Too Large"},
	http.StatusUnprocessableEntity:   {"https://flashsync.dev/errors/validation-error", "Validation Error"},
	http.StatusTooManyRequests:       {"https://flashsync.dev/errors/rate-limit", "Too Many Requests"},
	http.StatusInternalServerError:   {"https://flashsync.dev/errors/internal-error", "Internal Server Error"},
	http.StatusServiceUnavailable:    {"https://flashsync.dev/errors/service-unavailable", "Service Unavailable"},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{"https://flashsync.dev/errors/unknown", http.StatusText(status)}
	}
	return Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

// MapRepositoryError converts domain errors to Problem Details responses.
func MapRepositoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, store.ErrStorageUnavailable), errors.Is(err, store.ErrClosed):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Storage unavailable")
	default:
		slog.Error("request failed",
			"component", "api",
			"request_id", GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

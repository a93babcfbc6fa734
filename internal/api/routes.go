package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterConfig holds the HTTP-level settings of the router.
type RouterConfig struct {
	// CORSOrigins lists allowed browser origins. Empty disables CORS headers.
	CORSOrigins []string
	// DeletesPerMinute limits DELETE requests per client IP. Zero disables
	// the limit.
	DeletesPerMinute int
}

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	deleteLimit := func(next http.Handler) http.Handler { return next }
	if cfg.DeletesPerMinute > 0 {
		deleteLimit = httprate.Limit(cfg.DeletesPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				WriteProblem(w, r, http.StatusTooManyRequests, "Delete rate limit exceeded")
			}),
		)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Get("/cardsets", h.ListCardSets)
			r.Post("/cardsets", h.CreateCardSet)
			r.Get("/cardsets/{id}", h.GetCardSet)
			r.Put("/cardsets/{id}", h.UpdateCardSet)
			r.With(deleteLimit).Delete("/cardsets/{id}", h.DeleteCardSet)

			r.Get("/statistics", h.ListSessions)
			r.Post("/statistics", h.CreateSession)
			r.Get("/statistics/{id}", h.GetSession)
			r.Put("/statistics/{id}", h.UpdateSession)
			r.With(deleteLimit).Delete("/statistics/{id}", h.DeleteSession)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// Package server exposes the HTTP surface: event intake, audit queries and
// health.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/terraconstructs/rolewarden/internal/audit"
)

// RouterOptions controls the construction of the HTTP router.
// Routes whose collaborator is nil are not mounted.
type RouterOptions struct {
	Events        Enqueuer
	Validator     *EventValidator
	Audit         audit.Store
	CORSOptions   *cors.Options
	HealthHandler http.HandlerFunc
}

// DefaultCORSOptions returns the read-mostly CORS policy used for local
// dashboards.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with the shared middleware and handlers.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	r.Route("/v1", func(r chi.Router) {
		if opts.Events != nil && opts.Validator != nil {
			r.Post("/events", HandlePostEvent(opts.Validator, opts.Events, nil))
		}
		if opts.Audit != nil {
			r.Get("/audit", HandleListAudit(opts.Audit))
			r.Get("/audit/{memberID}", HandleGetAudit(opts.Audit))
		}
	})

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/healthz", healthHandler)

	return r
}

// NewH2CHandler wraps the router so HTTP/2 clients can connect without TLS.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}

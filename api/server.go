/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Structured request logging (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Latency histogram per route pattern
  6. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/books/*                 Book management
  /api/books/{bookID}/*        Everything scoped to one book
  /api/recurring/status        Background runner status
  /api/export, /api/import     Backup
  /api/scenarios/*             Demo books
  /healthz                     Liveness + store ping
  /metrics                     Prometheus

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/bookkeeper/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
		r.Get("/recurring/status", h.RecurringStatus)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Post("/", h.CreateBook)

			r.Route("/{bookID}", func(r chi.Router) {
				r.Get("/", h.GetBook)
				r.Put("/", h.UpdateBook)
				r.Delete("/", h.DeleteBook)
				r.Post("/default", h.SetDefaultBook)
				r.Post("/initialize", h.InitializeBook)

				// Account routes
				r.Route("/accounts", func(r chi.Router) {
					r.Get("/", h.ListAccounts)
					r.Post("/", h.CreateAccount)
					r.Get("/{id}", h.GetAccount)
					r.Put("/{id}", h.UpdateAccount)
					r.Delete("/{id}", h.DeleteAccount)
					r.Get("/{id}/activity", h.ListActivity)
				})

				// Transaction routes
				r.Route("/transactions", func(r chi.Router) {
					r.Get("/", h.ListTransactions)
					r.Post("/", h.CreateTransaction)
					r.Get("/{id}", h.GetTransaction)
					r.Put("/{id}", h.UpdateTransaction)
					r.Delete("/{id}", h.DeleteTransaction)
				})

				// Category routes
				r.Route("/categories", func(r chi.Router) {
					r.Get("/", h.ListCategories)
					r.Post("/", h.CreateCategory)
					r.Delete("/{id}", h.DeleteCategory)
				})

				// Recurring routes
				r.Route("/recurring", func(r chi.Router) {
					r.Get("/", h.ListRecurring)
					r.Post("/", h.CreateRecurring)
					r.Post("/process", h.ProcessRecurring)
					r.Get("/{id}", h.GetRecurring)
					r.Put("/{id}", h.UpdateRecurring)
					r.Delete("/{id}", h.DeleteRecurring)
					r.Post("/{id}/pause", h.PauseRecurring)
					r.Post("/{id}/resume", h.ResumeRecurring)
				})

				r.Get("/report", h.GetReport)
				r.Get("/verify", h.VerifyBook)
			})
		})
	})

	return r
}

// Health reports liveness and, when the store supports it, database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Ledger.Store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the school portal frontend

ROUTE GROUPS:
  /api/fee-structures/*  Fee schedule management
  /api/payments/*        Recording and reversal
  /api/schools/*         Ledger, balance and directory reads
  /api/students/*        Registration and self-service payments
  /api/gateway/*         Mobile-money callbacks and push initiation
  /api/demo/*            Demo data (dev only)
  /api/reset             Database reset (dev only)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Fee structure routes
		r.Route("/fee-structures", func(r chi.Router) {
			r.Get("/", h.ListFeeStructures)
			r.Post("/", h.UpsertFeeStructure)
			r.Put("/{id}", h.UpdateFeeStructure)
			r.Delete("/{id}", h.DeleteFeeStructure)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RecordPayment)
			r.Post("/{id}/reverse", h.ReversePayment)
			r.Get("/{id}/reversals", h.ListReversals)
		})

		// School-scoped reads
		r.Route("/schools", func(r chi.Router) {
			r.Post("/", h.CreateSchool)
			r.Route("/{schoolID}", func(r chi.Router) {
				r.Get("/", h.GetSchool)
				r.Get("/ledger", h.SchoolLedger)
				r.Route("/students/{admission}", func(r chi.Router) {
					r.Get("/", h.GetStudent)
					r.Get("/ledger", h.StudentLedger)
					r.Get("/balance", h.GetBalance)
				})
			})
		})

		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Post("/", h.CreateStudent)
			r.Get("/{id}/payments", h.MyPayments)
		})

		// Directory routes
		r.Post("/enrollments", h.CreateEnrollment)
		r.Post("/actors", h.CreateActor)

		// Gateway routes
		r.Route("/gateway/mpesa", func(r chi.Router) {
			r.Post("/callback", h.MpesaCallback)
			r.Post("/c2b", h.MpesaCallback)
			r.Post("/push", h.InitiatePush)
		})

		// Dev tooling
		r.Post("/demo/seed", h.SeedDemo)
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Secure:     Security headers, HTTPS redirect in production
  5. CORS:       Cross-origin requests for frontend
  6. RateLimit:  Per client IP, API routes only

ROUTE GROUPS:
  /health               Liveness
  /api/apartments/*     Apartments
  /api/categories/*     Categories
  /api/expenses/*       Expenses, splits, settlements
  /api/payments/*       Payments and status transitions
  /api/balances/*       Balances and suggested transfers
  /api/ledger/*         Monthly deltas and running totals
  /api/sheets           Aggregated balance sheets
  /api/payment-events/* Scheduler trigger, status, run history

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	// AllowedOrigins for CORS. Empty allows the local frontend dev servers.
	AllowedOrigins []string

	// RateLimit is requests per minute per IP. Zero disables limiting.
	RateLimit int

	// Production turns on the HTTPS redirect.
	Production bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        opts.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !opts.Production,
	})

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.Limit(opts.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), nil)
				}),
			))
		}

		r.Route("/apartments", func(r chi.Router) {
			r.Get("/", h.ListApartments)
			r.Post("/", h.CreateApartment)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.CreateExpense)
			r.Get("/{id}/split", h.SplitExpense)
			r.Post("/{id}/settle", h.SettleShare)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Post("/{id}/status", h.UpdatePaymentStatus)
		})

		r.Route("/balances", func(r chi.Router) {
			r.Get("/", h.GetBalances)
			r.Get("/settlements", h.GetSettlements)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/deltas", h.GetMonthlyDeltas)
			r.Get("/totals", h.GetLedgerTotals)
		})

		r.Get("/sheets", h.GetSheets)

		r.Route("/payment-events", func(r chi.Router) {
			r.Post("/generate", h.GeneratePaymentEvents)
			r.Get("/status", h.GetGenerationStatus)
			r.Get("/runs", h.ListGenerationRuns)
		})
	})

	return r
}

package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the ledger API.
//
// Route layout:
//
//	GET  /healthz               – liveness probe + ledger stats (no authentication)
//	GET  /metrics               – writer metrics, Prometheus text format (no authentication)
//	POST /api/v1/entries        – append an audit event (token with ledger:append)
//	GET  /api/v1/entries/head   – chain head (any valid token)
//	GET  /api/v1/entries/{id}   – entry lookup by UUID (any valid token)
//	GET  /api/v1/verify         – full-chain verification (any valid token)
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// /api routes; the append route additionally requires the ledger:append
// scope. Pass nil to disable authentication entirely (useful in tests that
// cover only request parsing / response formatting). metricsHandler may be
// nil when no metrics are collected.
func NewRouter(srv *Server, pubKey *rsa.PublicKey, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	// Built-in chi middleware for observability and hygiene.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Unauthenticated operational endpoints.
	r.Get("/healthz", srv.handleHealthz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Authenticated API routes.
	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(NewAuthenticator(pubKey).Middleware)
		}

		r.Post("/entries", srv.handleAddEntry)
		r.Get("/entries/head", srv.handleGetHead)
		r.Get("/entries/{id}", srv.handleGetEntry)
		r.Get("/verify", srv.handleVerify)
	})

	return r
}

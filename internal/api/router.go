/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * the authentication middleware: trading-token auth for account holders,
 * leveled admin JWT auth for the administrative surface.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crownbank/ledger-service/internal/app"
)

// LedgerRoutes creates and returns the router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, service *app.Service, adminJWTSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Account-holder endpoints, authenticated by trading token.
	r.Group(func(r chi.Router) {
		r.Use(TradingTokenAuthMiddleware(service))

		r.Get("/account", h.GetAccountHandler)
		r.Get("/balance", h.GetBalanceHandler)
		r.Get("/codes", h.GetCodesHandler)
		r.Get("/transaction", h.GetTransactionHandler)
		r.Get("/transactions", h.GetTransactionsHandler)

		r.Post("/transfer", h.TransferHandler)
		r.Post("/payment", h.PaymentHandler)
		r.Post("/verify", h.VerifyHandler)
	})

	// Admin surface: level 1 issues money, level 2 manages accounts.
	r.Route("/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminJWTSecret, 1))

			r.Post("/emission", h.BatchEmissionHandler)
			r.Post("/commission", h.BatchCommissionHandler)
			r.Get("/history", h.HistoryHandler)
		})
		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminJWTSecret, 2))

			r.Post("/accounts", h.ProvisionAccountHandler)
			r.Post("/ban", h.BanAccountHandler)
			r.Post("/unban", h.UnbanAccountHandler)
		})
	})

	return r
}

/**
 * @description
 * This file sets up the HTTP router for the affiliate-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware for authentication and inbound rate limiting.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/coinatlas/affiliate-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AffiliateRoutes creates and returns the router for the affiliate service.
func AffiliateRoutes(h *SyncHandlers, limiter *app.SlidingWindowLimiter, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(320 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Trigger endpoint: shared-secret protected inside the handler, outside
	// the tier limiter so a cron tick can never be throttled away. GET and
	// POST behave identically.
	r.Get("/sync", h.TriggerSyncHandler)
	r.Post("/sync", h.TriggerSyncHandler)

	// Operator endpoints behind the tier limiter.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter))
		r.Get("/sync/runs", h.ListSyncRunsHandler)
	})

	// User endpoints: authenticated and rate limited.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))
		r.Use(RateLimitMiddleware(limiter))
		r.Post("/bindings", h.CreateBindingHandler)
	})

	return r
}

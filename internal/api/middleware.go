/**
 * @description
 * This file contains custom middleware for the HTTP router: authentication of
 * the product's users via the auth provider's HS256 JWTs, and the tiered
 * inbound rate limiter.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 * - internal/app: The sliding-window limiter and its decision type.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coinatlas/affiliate-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	userIDKey contextKey = "userID"
	tierKey   contextKey = "tier"
)

// UserIDFromContext returns the authenticated user's ID, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// AuthMiddleware validates the auth provider's HS256 JWT and puts the user ID
// and tier claim on the request context.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			sub, ok := claims["sub"].(string)
			if !ok {
				http.Error(w, "User ID not found in token", http.StatusUnauthorized)
				return
			}
			userID, err := uuid.Parse(sub)
			if err != nil {
				http.Error(w, "Invalid user ID in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			if tier, ok := claims["tier"].(string); ok && tier != "" {
				ctx = context.WithValue(ctx, tierKey, tier)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware throttles requests per caller tier using the
// sliding-window limiter. Backend failures fail open: the request proceeds
// and the degraded decision is logged by the limiter.
func RateLimitMiddleware(limiter *app.SlidingWindowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := resolveTier(r, limiter)
			identity := resolveIdentity(r)
			endpoint := routePattern(r)

			decision := limiter.Check(r.Context(), tier, endpoint, identity)

			switch decision.Verdict {
			case app.VerdictDeny:
				setRateLimitHeaders(w, decision)
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			case app.VerdictAllow:
				setRateLimitHeaders(w, decision)
			case app.VerdictAllowDegraded:
				// Fail-open: no headers worth reporting, let the request through.
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, decision app.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", decision.Reset.UTC().Format(time.RFC3339))
}

// resolveTier prefers the JWT tier claim, then the X-API-Tier header, and
// falls back to free. Unknown tier names are treated as free rather than
// trusted.
func resolveTier(r *http.Request, limiter *app.SlidingWindowLimiter) string {
	if tier, ok := r.Context().Value(tierKey).(string); ok && limiter.KnownTier(tier) {
		return tier
	}
	if tier := strings.TrimSpace(r.Header.Get("X-API-Tier")); tier != "" && limiter.KnownTier(tier) {
		return tier
	}
	return "free"
}

// resolveIdentity keys the counter by user when authenticated, by client IP
// otherwise.
func resolveIdentity(r *http.Request) string {
	if userID, ok := UserIDFromContext(r.Context()); ok {
		return userID.String()
	}
	return clientIP(r)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// clientIP extracts the caller address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx > 0 {
		return ip[:idx]
	}
	return ip
}

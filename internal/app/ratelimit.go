/**
 * @description
 * Tiered sliding-window rate limiter for the product's own API surface.
 * Counting is approximate: a counter keyed by {tier, endpoint, identity}
 * is incremented atomically with a TTL equal to the window, and the counter
 * is not decremented on rejection. Backend failures are handled fail-open —
 * availability is prioritized over strict enforcement — and the degraded
 * allow is made explicit in the decision type so callers can log it.
 *
 * @dependencies
 * - context, log/slog, strings, time: Standard Go libraries.
 */
package app

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Verdict is the outcome class of one rate-limit check.
type Verdict int

const (
	// VerdictAllow lets the request through under the tier's quota.
	VerdictAllow Verdict = iota
	// VerdictDeny rejects the request; RetryAfter carries the hint.
	VerdictDeny
	// VerdictAllowDegraded lets the request through because the counting
	// backend failed, not because the quota had room.
	VerdictAllowDegraded
)

// Decision is the full result of one rate-limit check, including the values
// needed for the X-RateLimit response headers.
type Decision struct {
	Verdict    Verdict
	Reason     string // set for VerdictAllowDegraded
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int // seconds, set for VerdictDeny
}

// TierLimit configures one caller tier.
type TierLimit struct {
	MaxRequests int
	Window      time.Duration
}

// WindowCounter is the counting backend: it atomically increments the counter
// for a key, arming the TTL on first increment, and reports the post-increment
// count plus the key's remaining lifetime.
type WindowCounter interface {
	ConsumeWindow(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// SlidingWindowLimiter throttles inbound requests by caller tier. It shares
// no state with the outbound batch fetcher.
type SlidingWindowLimiter struct {
	counter WindowCounter
	tiers   map[string]TierLimit
	logger  *slog.Logger
	now     func() time.Time
}

// NewSlidingWindowLimiter creates a limiter over the given tier table.
func NewSlidingWindowLimiter(counter WindowCounter, tiers map[string]TierLimit, logger *slog.Logger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		counter: counter,
		tiers:   tiers,
		logger:  logger,
		now:     time.Now,
	}
}

// KnownTier reports whether the tier name is configured.
func (l *SlidingWindowLimiter) KnownTier(tier string) bool {
	_, ok := l.tiers[tier]
	return ok
}

// Check consumes one request slot for {tier, endpoint, identity} and decides
// whether the request may proceed.
func (l *SlidingWindowLimiter) Check(ctx context.Context, tier, endpoint, identity string) Decision {
	limit, ok := l.tiers[tier]
	if !ok || limit.MaxRequests <= 0 || limit.Window <= 0 {
		return Decision{Verdict: VerdictAllowDegraded, Reason: "unknown tier " + tier}
	}

	key := strings.Join([]string{tier, endpoint, identity}, ":")
	count, ttl, err := l.counter.ConsumeWindow(ctx, key, limit.Window)
	if err != nil {
		l.logger.Warn("rate limit backend unavailable; allowing request", "tier", tier, "endpoint", endpoint, "error", err)
		return Decision{Verdict: VerdictAllowDegraded, Reason: err.Error(), Limit: limit.MaxRequests}
	}
	if ttl <= 0 {
		ttl = limit.Window
	}
	reset := l.now().Add(ttl)

	if count > int64(limit.MaxRequests) {
		retryAfter := int(ttl.Round(time.Second) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{
			Verdict:    VerdictDeny,
			Limit:      limit.MaxRequests,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: retryAfter,
		}
	}

	return Decision{
		Verdict:   VerdictAllow,
		Limit:     limit.MaxRequests,
		Remaining: limit.MaxRequests - int(count),
		Reset:     reset,
	}
}

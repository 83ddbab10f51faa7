// Package kv builds the deterministic Redis key layouts the gateway uses for
// nonce replay protection, fixed-window rate limiting, and per-model usage
// aggregates (spec.md §4.2, §4.4), and wraps go-redis with the small set of
// operations those callers need.
//
// Key shapes are grounded on the login rate limiter's "login_ratelimit:%s"
// scheme (internal/auth/ratelimit.go) and the alert deduplicator's
// "alert:dedup:" prefix (pkg/alert/dedup.go), generalized to this package's
// three concerns.
package kv

import (
	"fmt"
	"time"
)

// NonceKey returns the replay-protection key for an app's signed request
// nonce (spec.md §4.2). Nonces are scoped per app: two different apps may
// reuse the same nonce value without colliding.
func NonceKey(appID, nonce string) string {
	return fmt.Sprintf("pop:nonce:%s:%s", appID, nonce)
}

// RateLimitKey returns the fixed-window counter key for a permission,
// "rate:<permissionID>:<windowStart>". at is truncated to the start of its
// window (Unix seconds) so every request inside the same window increments
// the same counter.
func RateLimitKey(permissionID string, windowSeconds int, at time.Time) string {
	windowStart := at.UTC().Unix() / int64(windowSeconds) * int64(windowSeconds)
	return fmt.Sprintf("rate:%s:%d", permissionID, windowStart)
}

// ModelUsageKey returns the per-model token total key for a permission
// within a day. RecordUsage adds each call's input+output tokens to it;
// nothing in the gateway reads it back.
func ModelUsageKey(permissionID, model string, day time.Time) string {
	return fmt.Sprintf("policy:modelusage:%s:%s:%s", permissionID, model, day.UTC().Format("2006-01-02"))
}

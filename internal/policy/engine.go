// Package policy implements the ordered permission checks of spec.md §4.4:
// validity window, time window, rate limit, quota, token budget, and
// plugin-specific constraints, plus post-success usage accounting.
//
// The rate limiter is grounded on internal/auth/ratelimit.go's INCR+EXPIRE
// shape (generalized from per-IP login attempts to per-permission fixed
// windows); per-model usage aggregates are grounded on pkg/alert/dedup.go's
// Redis-cache-with-DB-backing pattern.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/gatewayerr"
	"github.com/nightgate/resourcegate/internal/kv"
	"github.com/nightgate/resourcegate/internal/telemetry"
)

// modelUsageTTL keeps a per-model aggregate alive through a full month
// (spec.md §4.4: "32-day TTL").
const modelUsageTTL = 32 * 24 * time.Hour

// PermissionLoader resolves and expires ResourcePermission rows.
type PermissionLoader interface {
	GetActiveByAppAndResource(ctx context.Context, appID uuid.UUID, resourceID, action string) (*domain.ResourcePermission, error)
	ExpireOne(ctx context.Context, id uuid.UUID) error
}

// RateLimiter claims fixed-window request slots.
type RateLimiter interface {
	IncrCounter(ctx context.Context, key string, window time.Duration) (int64, error)
}

// UsageStore tracks per-period request/token counters.
type UsageStore interface {
	IncrementAndGet(ctx context.Context, permissionID uuid.UUID, periodType domain.PeriodType, periodStart time.Time, requestDelta, tokenDelta int64) (*domain.PermissionUsage, error)
	Get(ctx context.Context, permissionID uuid.UUID, periodType domain.PeriodType, periodStart time.Time) (*domain.PermissionUsage, error)
}

// ModelUsageRecorder records per-model usage aggregates in the KV store.
type ModelUsageRecorder interface {
	IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)
}

// Engine evaluates the ordered policy checks and records usage on success.
type Engine struct {
	permissions PermissionLoader
	rateLimit   RateLimiter
	usage       UsageStore
	modelUsage  ModelUsageRecorder
}

func NewEngine(permissions PermissionLoader, rateLimit RateLimiter, usage UsageStore, modelUsage ModelUsageRecorder) *Engine {
	return &Engine{permissions: permissions, rateLimit: rateLimit, usage: usage, modelUsage: modelUsage}
}

// Check runs the ordered checks of spec.md §4.4 against the permission
// matching (appID, resourceID, action), at time now, for a request
// estimated to consume inputTokens and (if this is an LLM call) targeting
// model. It returns the matched permission on success.
func (e *Engine) Check(ctx context.Context, appID uuid.UUID, resourceID, action string, now time.Time, inputTokens int64, model string) (*domain.ResourcePermission, error) {
	perm, err := e.permissions.GetActiveByAppAndResource(ctx, appID, resourceID, action)
	if err != nil || perm == nil {
		return nil, gatewayerr.PermissionNotFound
	}

	if now.Before(perm.ValidFrom) {
		return nil, gatewayerr.NotYetValid
	}

	if perm.ExpiresAt != nil && now.After(*perm.ExpiresAt) {
		go func() {
			_ = e.permissions.ExpireOne(context.WithoutCancel(ctx), perm.ID)
		}()
		return nil, gatewayerr.Expired
	}

	if perm.TimeWindow != nil {
		if err := checkTimeWindow(*perm.TimeWindow, now); err != nil {
			return nil, err
		}
	}

	if perm.RateLimit != nil {
		if err := e.checkRateLimit(ctx, perm.ID.String(), *perm.RateLimit, now); err != nil {
			return nil, err
		}
	}

	if err := e.checkQuota(ctx, perm, now); err != nil {
		return nil, err
	}

	if err := e.checkTokenBudget(ctx, perm, now, inputTokens); err != nil {
		return nil, err
	}

	if err := checkConstraints(perm.Constraints, model, inputTokens); err != nil {
		return nil, err
	}

	return perm, nil
}

func checkTimeWindow(tw domain.TimeWindow, now time.Time) error {
	loc, err := time.LoadLocation(tw.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if len(tw.AllowedDays) > 0 {
		allowed := false
		for _, d := range tw.AllowedDays {
			if d == local.Weekday() {
				allowed = true
				break
			}
		}
		if !allowed {
			return gatewayerr.DayNotAllowed
		}
	}

	hour := local.Hour()
	inWindow := false
	if tw.StartHour <= tw.EndHour {
		inWindow = hour >= tw.StartHour && hour < tw.EndHour
	} else {
		inWindow = hour >= tw.StartHour || hour < tw.EndHour
	}
	if !inWindow {
		return gatewayerr.OutsideTimeWindow
	}
	return nil
}

func (e *Engine) checkRateLimit(ctx context.Context, permissionID string, rl domain.RateLimit, now time.Time) error {
	key := kv.RateLimitKey(permissionID, rl.WindowSeconds, now)
	count, err := e.rateLimit.IncrCounter(ctx, key, time.Duration(rl.WindowSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if count > int64(rl.MaxRequests) {
		telemetry.RateLimitRejectionsTotal.WithLabelValues(permissionID).Inc()
		return gatewayerr.RateLimited
	}
	return nil
}

func (e *Engine) checkQuota(ctx context.Context, perm *domain.ResourcePermission, now time.Time) error {
	if perm.Quota.Daily != nil {
		daily, err := e.usage.Get(ctx, perm.ID, domain.PeriodDaily, domain.DayStartUTC(now))
		if err != nil {
			daily = &domain.PermissionUsage{}
		}
		if daily.RequestCount >= int64(*perm.Quota.Daily) {
			return gatewayerr.DailyQuotaExceeded
		}
	}
	if perm.Quota.Monthly != nil {
		monthly, err := e.usage.Get(ctx, perm.ID, domain.PeriodMonthly, domain.MonthStartUTC(now))
		if err != nil {
			monthly = &domain.PermissionUsage{}
		}
		if monthly.RequestCount >= int64(*perm.Quota.Monthly) {
			return gatewayerr.MonthlyQuotaExceeded
		}
	}
	return nil
}

func (e *Engine) checkTokenBudget(ctx context.Context, perm *domain.ResourcePermission, now time.Time, inputTokens int64) error {
	if perm.TokenBudget.Daily != nil {
		daily, err := e.usage.Get(ctx, perm.ID, domain.PeriodDaily, domain.DayStartUTC(now))
		if err != nil {
			daily = &domain.PermissionUsage{}
		}
		if daily.TokenCount+inputTokens > *perm.TokenBudget.Daily {
			return gatewayerr.DailyTokenBudgetExceeded
		}
	}
	if perm.TokenBudget.Monthly != nil {
		monthly, err := e.usage.Get(ctx, perm.ID, domain.PeriodMonthly, domain.MonthStartUTC(now))
		if err != nil {
			monthly = &domain.PermissionUsage{}
		}
		if monthly.TokenCount+inputTokens > *perm.TokenBudget.Monthly {
			return gatewayerr.MonthlyTokenBudgetExceeded
		}
	}
	return nil
}

func checkConstraints(c domain.Constraints, model string, inputTokens int64) error {
	if len(c.AllowedModels) > 0 && model != "" {
		allowed := false
		for _, m := range c.AllowedModels {
			if m == model {
				allowed = true
				break
			}
		}
		if !allowed {
			return gatewayerr.ModelNotAllowed
		}
	}
	if c.MaxInputTokens > 0 && inputTokens > int64(c.MaxInputTokens) {
		return gatewayerr.InputTokensExceeded
	}
	return nil
}

// RecordUsage upserts the DAILY and MONTHLY PermissionUsage rows and the
// per-model KV aggregate after a successful call (spec.md §4.4).
func (e *Engine) RecordUsage(ctx context.Context, perm *domain.ResourcePermission, now time.Time, requestDelta int64, model string, inputTokens, outputTokens int64) error {
	tokenDelta := inputTokens + outputTokens

	if _, err := e.usage.IncrementAndGet(ctx, perm.ID, domain.PeriodDaily, domain.DayStartUTC(now), requestDelta, tokenDelta); err != nil {
		return fmt.Errorf("recording daily usage: %w", err)
	}
	if _, err := e.usage.IncrementAndGet(ctx, perm.ID, domain.PeriodMonthly, domain.MonthStartUTC(now), requestDelta, tokenDelta); err != nil {
		return fmt.Errorf("recording monthly usage: %w", err)
	}

	if model != "" {
		key := kv.ModelUsageKey(perm.ID.String(), model, now)
		if _, err := e.modelUsage.IncrByFloat(ctx, key, float64(tokenDelta), modelUsageTTL); err != nil {
			return fmt.Errorf("recording model usage: %w", err)
		}
	}

	return nil
}

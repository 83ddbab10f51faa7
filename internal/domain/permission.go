package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PermissionStatus is the lifecycle state of a ResourcePermission.
type PermissionStatus string

const (
	PermissionActive  PermissionStatus = "ACTIVE"
	PermissionExpired PermissionStatus = "EXPIRED"
	PermissionRevoked PermissionStatus = "REVOKED"
)

// TimeWindow restricts when a permission may be exercised, in a named
// timezone. Start is inclusive, End is exclusive; Start > End means an
// overnight window wrapping past midnight (spec.md §4.4).
type TimeWindow struct {
	StartHour    int
	EndHour      int
	Timezone     string
	AllowedDays  []time.Weekday // nil/empty means every day
}

// RateLimit is a fixed-window request cap.
type RateLimit struct {
	MaxRequests   int
	WindowSeconds int
}

// Quota caps the number of requests in a period. A nil pointer field means
// "no cap for that period".
type Quota struct {
	Daily   *int
	Monthly *int
}

// TokenBudget caps token usage in a period.
type TokenBudget struct {
	Daily   *int64
	Monthly *int64
}

// Constraints holds plugin-specific limits the generic policy engine cannot
// evaluate on its own (spec.md §4.4 step 7). The plugin runtime both reads
// and, for LLM resources, enforces these during validateAndShape.
type Constraints struct {
	AllowedModels   []string
	MaxOutputTokens int
	MaxInputTokens  int
	AllowStreaming  bool
}

// ResourcePermission grants an app the ability to invoke a single
// (resource, action) under a specific policy (spec.md §3).
type ResourcePermission struct {
	ID          uuid.UUID
	AppID       uuid.UUID
	ResourceID  string // "<resourceType>:<provider>"
	Action      string
	ValidFrom   time.Time
	ExpiresAt   *time.Time
	TimeWindow  *TimeWindow
	RateLimit   *RateLimit
	Quota       Quota
	TokenBudget TokenBudget
	Constraints Constraints
	Status      PermissionStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SplitResourceID splits a "<resourceType>:<provider>" identifier. It fails
// if either side is empty or more than one colon is present, per spec.md §6
// ("enforced at every write site with an explicit reject on missing colon").
func SplitResourceID(resourceID string) (resourceType, provider string, err error) {
	parts := strings.SplitN(resourceID, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid resourceId %q: want \"<resourceType>:<provider>\"", resourceID)
	}
	if strings.Contains(parts[1], ":") {
		// Reject a second colon rather than silently keeping it in the provider.
		return "", "", fmt.Errorf("invalid resourceId %q: exactly one colon required", resourceID)
	}
	return parts[0], parts[1], nil
}

// JoinResourceID builds the canonical "<resourceType>:<provider>" form.
func JoinResourceID(resourceType, provider string) string {
	return resourceType + ":" + provider
}

// PeriodType distinguishes daily from monthly usage/quota windows.
type PeriodType string

const (
	PeriodDaily   PeriodType = "DAILY"
	PeriodMonthly PeriodType = "MONTHLY"
)

// PermissionUsage is the running counter for one permission/period
// (spec.md §3). PeriodStart is the UTC start of the day or month.
type PermissionUsage struct {
	ID            uuid.UUID
	PermissionID  uuid.UUID
	PeriodType    PeriodType
	PeriodStart   time.Time
	RequestCount  int64
	TokenCount    int64
	UpdatedAt     time.Time
}

// DayStartUTC returns the UTC midnight for t's day — the daily period key.
func DayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStartUTC returns the first of t's UTC month — the monthly period key.
func MonthStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

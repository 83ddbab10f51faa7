// Package gatewayerr defines the typed error taxonomy every layer of the
// gateway returns: authentication, pairing, policy, plugin and pipeline
// failures all resolve to one of these codes before they reach the HTTP
// boundary.
package gatewayerr

import "fmt"

// Error is a stable, transport-mappable failure. Most rejections in this
// module are returned as *Error; the pipeline maps any bare error it gets
// to invalid_request or an internal error.
type Error struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	Details   any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with no details and Retryable=false.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Auth / PoP errors (spec.md §4.2, §7).
var (
	MissingAuth          = New("missing_auth", 401, "missing proof-of-possession headers")
	UnsupportedPoPVersion = New("unsupported_pop_version", 401, "unsupported proof-of-possession version")
	ExpiredTimestamp     = New("expired_timestamp", 401, "request timestamp outside the allowed window")
	InvalidNonce         = New("invalid_nonce", 401, "nonce already used or invalid")
	InvalidSignature     = New("invalid_signature", 401, "signature verification failed")
	AppNotFound          = New("app_not_found", 401, "app not found or has no active credentials")
	AppDisabled          = New("app_disabled", 403, "app is disabled")
)

// Pipeline / plugin errors.
var (
	UnknownResource = New("unknown_resource", 404, "no plugin registered for this resource")
	InvalidRequest  = New("invalid_request", 400, "request failed validation")
)

// Policy errors (spec.md §4.4, §7). All 403 except RateLimited (429).
var (
	PermissionNotFound        = New("permission_not_found", 403, "no active permission for this app/resource/action")
	NotYetValid               = New("not_yet_valid", 403, "permission is not yet valid")
	Expired                   = New("expired", 403, "permission has expired")
	OutsideTimeWindow         = New("outside_time_window", 403, "request falls outside the permitted time window")
	DayNotAllowed             = New("day_not_allowed", 403, "request falls on a day not permitted by this permission")
	RateLimited               = New("rate_limited", 429, "rate limit exceeded")
	DailyQuotaExceeded        = New("daily_quota_exceeded", 403, "daily quota exceeded")
	MonthlyQuotaExceeded      = New("monthly_quota_exceeded", 403, "monthly quota exceeded")
	DailyTokenBudgetExceeded  = New("daily_token_budget_exceeded", 403, "daily token budget exceeded")
	MonthlyTokenBudgetExceeded = New("monthly_token_budget_exceeded", 403, "monthly token budget exceeded")
	ModelNotAllowed           = New("model_not_allowed", 403, "model is not in the permission's allow-list")
	StreamingNotAllowed       = New("streaming_not_allowed", 403, "streaming is not permitted for this permission")
	InputTokensExceeded       = New("input_tokens_exceeded", 403, "input token estimate exceeds the permitted maximum")
)

// Internal is the catch-all for unexpected failures.
var Internal = New("internal", 500, "internal error")

// Provider builds a provider-mapped error (spec.md §4.5 mapError / §7).
// Status is preserved from the upstream mapping.
func Provider(code string, status int, message string, retryable bool) *Error {
	return &Error{Code: code, Status: status, Message: message, Retryable: retryable}
}

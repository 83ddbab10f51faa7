package kv

import (
	"testing"
	"time"
)

func TestNonceKeyScopedPerApp(t *testing.T) {
	a := NonceKey("app-1", "abc")
	b := NonceKey("app-2", "abc")
	if a == b {
		t.Fatal("expected distinct nonce keys for distinct apps with the same nonce value")
	}
}

func TestRateLimitKeySameBucketWithinWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := RateLimitKey("perm-1", 60, base)
	b := RateLimitKey("perm-1", 60, base.Add(30*time.Second))
	if a != b {
		t.Fatalf("expected same bucket within window: %q != %q", a, b)
	}

	c := RateLimitKey("perm-1", 60, base.Add(61*time.Second))
	if a == c {
		t.Fatal("expected different bucket once the window has elapsed")
	}
}

func TestModelUsageKeyScopedPerDay(t *testing.T) {
	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)

	a := ModelUsageKey("perm-1", "llama-3.1-70b", day1)
	b := ModelUsageKey("perm-1", "llama-3.1-70b", day2)
	if a == b {
		t.Fatal("expected distinct keys across days")
	}
}

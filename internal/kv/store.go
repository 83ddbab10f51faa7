package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a *redis.Client with the handful of operations the PoP
// authenticator and policy engine need, grounded on the Get/TTL/Pipeline
// shapes in internal/auth/ratelimit.go and pkg/alert/dedup.go.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// ClaimNonce atomically claims a nonce key, returning false if it was
// already claimed within ttl — the replay-protection check of spec.md §4.2.
func (s *Store) ClaimNonce(ctx context.Context, key string, ttl time.Duration) (claimed bool, err error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv: claiming nonce: %w", err)
	}
	return ok, nil
}

// IncrCounter increments a fixed-window counter, setting its expiry only on
// the first increment in the window so the window's TTL is never extended by
// later requests.
func (s *Store) IncrCounter(ctx context.Context, key string, window time.Duration) (count int64, err error) {
	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("kv: incrementing counter: %w", err)
	}
	if incr.Val() == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("kv: setting counter expiry: %w", err)
		}
	}
	return incr.Val(), nil
}

// TTL returns the remaining time-to-live of key, or zero if it does not
// exist or has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: reading ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// IncrByFloat adds delta to a float aggregate, extending its expiry to ttl
// from now on every call — used for per-model usage aggregates that should
// stay warm as long as the permission keeps being exercised.
func (s *Store) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	pipe := s.rdb.Pipeline()
	incr := pipe.IncrByFloat(ctx, key, delta)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("kv: incrementing aggregate: %w", err)
	}
	return incr.Val(), nil
}

// GetInt64 reads an integer value, returning (0, false, nil) if the key does
// not exist.
func (s *Store) GetInt64(ctx context.Context, key string) (value int64, ok bool, err error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("kv: reading counter: %w", err)
	}
	return v, true, nil
}

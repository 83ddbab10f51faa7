package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

// UsageStore implements repo.UsageRepo with an upsert against the unique
// (permission_id, period_type, period_start) key, so concurrent requests in
// the same period accumulate into one row instead of racing to insert it.
type UsageStore struct {
	db DBTX
}

func NewUsageStore(db DBTX) *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) IncrementAndGet(ctx context.Context, permissionID uuid.UUID, periodType domain.PeriodType, periodStart time.Time, requestDelta, tokenDelta int64) (*domain.PermissionUsage, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO permission_usage (permission_id, period_type, period_start, request_count, token_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (permission_id, period_type, period_start)
		 DO UPDATE SET
		   request_count = permission_usage.request_count + EXCLUDED.request_count,
		   token_count = permission_usage.token_count + EXCLUDED.token_count,
		   updated_at = now()
		 RETURNING id, permission_id, period_type, period_start, request_count, token_count, updated_at`,
		permissionID, periodType, periodStart, requestDelta, tokenDelta,
	)

	var u domain.PermissionUsage
	err := row.Scan(&u.ID, &u.PermissionID, &u.PeriodType, &u.PeriodStart, &u.RequestCount, &u.TokenCount, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting permission usage: %w", err)
	}
	return &u, nil
}

func (s *UsageStore) Get(ctx context.Context, permissionID uuid.UUID, periodType domain.PeriodType, periodStart time.Time) (*domain.PermissionUsage, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, permission_id, period_type, period_start, request_count, token_count, updated_at
		 FROM permission_usage
		 WHERE permission_id = $1 AND period_type = $2 AND period_start = $3`,
		permissionID, periodType, periodStart,
	)

	var u domain.PermissionUsage
	err := row.Scan(&u.ID, &u.PermissionID, &u.PeriodType, &u.PeriodStart, &u.RequestCount, &u.TokenCount, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting permission usage: %w", err)
	}
	return &u, nil
}

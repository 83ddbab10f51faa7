package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

// PermissionStore implements repo.PermissionRepo. The policy sub-structs
// (TimeWindow, RateLimit, Quota, TokenBudget, Constraints) are stored as a
// single JSONB "policy" column rather than one column per field, since they
// form one cohesive, plugin-interpreted document rather than independently
// queried attributes.
type PermissionStore struct {
	db DBTX
}

func NewPermissionStore(db DBTX) *PermissionStore {
	return &PermissionStore{db: db}
}

type permissionPolicy struct {
	TimeWindow  *domain.TimeWindow  `json:"timeWindow,omitempty"`
	RateLimit   *domain.RateLimit   `json:"rateLimit,omitempty"`
	Quota       domain.Quota        `json:"quota"`
	TokenBudget domain.TokenBudget  `json:"tokenBudget"`
	Constraints domain.Constraints  `json:"constraints"`
}

func marshalPolicy(p *domain.ResourcePermission) ([]byte, error) {
	return json.Marshal(permissionPolicy{
		TimeWindow:  p.TimeWindow,
		RateLimit:   p.RateLimit,
		Quota:       p.Quota,
		TokenBudget: p.TokenBudget,
		Constraints: p.Constraints,
	})
}

func unmarshalPolicy(raw []byte, p *domain.ResourcePermission) error {
	var pol permissionPolicy
	if err := json.Unmarshal(raw, &pol); err != nil {
		return fmt.Errorf("unmarshaling permission policy: %w", err)
	}
	p.TimeWindow = pol.TimeWindow
	p.RateLimit = pol.RateLimit
	p.Quota = pol.Quota
	p.TokenBudget = pol.TokenBudget
	p.Constraints = pol.Constraints
	return nil
}

func (s *PermissionStore) Create(ctx context.Context, p *domain.ResourcePermission) error {
	policy, err := marshalPolicy(p)
	if err != nil {
		return err
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO resource_permissions (app_id, resource_id, action, valid_from, expires_at, policy, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		p.AppID, p.ResourceID, p.Action, p.ValidFrom, p.ExpiresAt, policy, p.Status,
	)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("inserting resource permission: %w", err)
	}
	return nil
}

func (s *PermissionStore) scanOne(row rowScanner) (*domain.ResourcePermission, error) {
	var p domain.ResourcePermission
	var policy []byte
	err := row.Scan(&p.ID, &p.AppID, &p.ResourceID, &p.Action, &p.ValidFrom, &p.ExpiresAt,
		&policy, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning resource permission: %w", err)
	}
	if err := unmarshalPolicy(policy, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

const selectPermissionCols = `id, app_id, resource_id, action, valid_from, expires_at, policy, status, created_at, updated_at`

func (s *PermissionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ResourcePermission, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectPermissionCols+` FROM resource_permissions WHERE id = $1`, id)
	return s.scanOne(row)
}

func (s *PermissionStore) GetActiveByAppAndResource(ctx context.Context, appID uuid.UUID, resourceID, action string) (*domain.ResourcePermission, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+selectPermissionCols+`
		 FROM resource_permissions
		 WHERE app_id = $1 AND resource_id = $2 AND action = $3 AND status = $4`,
		appID, resourceID, action, domain.PermissionActive,
	)
	return s.scanOne(row)
}

func (s *PermissionStore) ListByApp(ctx context.Context, appID uuid.UUID) ([]domain.ResourcePermission, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+selectPermissionCols+` FROM resource_permissions WHERE app_id = $1 ORDER BY created_at DESC`,
		appID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing resource permissions: %w", err)
	}
	defer rows.Close()

	var perms []domain.ResourcePermission
	for rows.Next() {
		p, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

func (s *PermissionStore) Revoke(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`UPDATE resource_permissions SET status = $1, updated_at = now() WHERE id = $2`,
		domain.PermissionRevoked, id,
	)
	if err != nil {
		return fmt.Errorf("revoking resource permission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("resource permission not found")
	}
	return nil
}

// ExpireOne flips a single permission to EXPIRED, for the policy engine's
// self-heal path when it notices a permission past its expiresAt during a
// Check (spec.md §4.4 step 2 / §7 scenario 5: this is an expiry, not a
// revocation).
func (s *PermissionStore) ExpireOne(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`UPDATE resource_permissions SET status = $1, updated_at = now() WHERE id = $2`,
		domain.PermissionExpired, id,
	)
	if err != nil {
		return fmt.Errorf("expiring resource permission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("resource permission not found")
	}
	return nil
}

// ExpireDue flips every ACTIVE permission whose expires_at has passed to
// EXPIRED, returning the number of rows changed.
func (s *PermissionStore) ExpireDue(ctx context.Context, at time.Time) (int64, error) {
	result, err := s.db.Exec(ctx,
		`UPDATE resource_permissions
		 SET status = $1, updated_at = now()
		 WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= $3`,
		domain.PermissionExpired, domain.PermissionActive, at,
	)
	if err != nil {
		return 0, fmt.Errorf("expiring resource permissions: %w", err)
	}
	return result.RowsAffected(), nil
}

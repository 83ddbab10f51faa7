// Package repo defines the persistence interfaces the gateway's domain
// services depend on. Concrete implementations live in internal/repo/postgres,
// built on hand-written pgx SQL in the style of pkg/pat/store.go: a thin
// struct wrapping a DBTX, QueryRow/Query/Exec calls, and explicit Scan.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

// AppRepo persists App entities.
type AppRepo interface {
	Create(ctx context.Context, app *domain.App) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.App, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AppStatus) error
	List(ctx context.Context) ([]domain.App, error)
}

// CredentialRepo persists AppCredential entities.
type CredentialRepo interface {
	Create(ctx context.Context, cred *domain.AppCredential) error
	GetActiveByAppID(ctx context.Context, appID uuid.UUID) ([]domain.AppCredential, error)
	GetByPublicKey(ctx context.Context, publicKey [32]byte) (*domain.AppCredential, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

// PermissionRepo persists ResourcePermission entities.
type PermissionRepo interface {
	Create(ctx context.Context, perm *domain.ResourcePermission) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ResourcePermission, error)
	GetActiveByAppAndResource(ctx context.Context, appID uuid.UUID, resourceID, action string) (*domain.ResourcePermission, error)
	ListByApp(ctx context.Context, appID uuid.UUID) ([]domain.ResourcePermission, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	ExpireOne(ctx context.Context, id uuid.UUID) error
	ExpireDue(ctx context.Context, at time.Time) (int64, error)
}

// UsageRepo persists PermissionUsage counters.
type UsageRepo interface {
	// IncrementAndGet atomically upserts the counter row for (permissionID,
	// periodType, periodStart) and returns the post-increment totals.
	IncrementAndGet(ctx context.Context, permissionID uuid.UUID, periodType domain.PeriodType, periodStart time.Time, requestDelta int64, tokenDelta int64) (*domain.PermissionUsage, error)
	Get(ctx context.Context, permissionID uuid.UUID, periodType domain.PeriodType, periodStart time.Time) (*domain.PermissionUsage, error)
}

// SecretRepo persists ResourceSecret entities.
type SecretRepo interface {
	Create(ctx context.Context, secret *domain.ResourceSecret) error
	GetByResourceID(ctx context.Context, resourceID string) (*domain.ResourceSecret, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SecretStatus) error
	List(ctx context.Context) ([]domain.ResourceSecret, error)
}

// ConnectCodeRepo persists ConnectCode pairing tokens.
type ConnectCodeRepo interface {
	Create(ctx context.Context, cc *domain.ConnectCode) error
	GetByHash(ctx context.Context, codeHash string) (*domain.ConnectCode, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// InstallSessionRepo persists InstallSession pairing records.
type InstallSessionRepo interface {
	Create(ctx context.Context, s *domain.InstallSession) error
	GetByToken(ctx context.Context, token string) (*domain.InstallSession, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InstallSessionStatus, completedAt *time.Time) error
	// ExpireStale flips every still-PENDING session whose expiresAt has
	// passed to EXPIRED, returning the AppIDs of the now-orphaned PENDING
	// apps so the caller can disable them.
	ExpireStale(ctx context.Context, before time.Time) ([]uuid.UUID, error)
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

// InstallSessionStore implements repo.InstallSessionRepo. RequestedPermissions
// is stored as a JSONB array since it is an opaque, app-declared wishlist
// rather than independently queried rows.
type InstallSessionStore struct {
	db DBTX
}

func NewInstallSessionStore(db DBTX) *InstallSessionStore {
	return &InstallSessionStore{db: db}
}

func (s *InstallSessionStore) Create(ctx context.Context, is *domain.InstallSession) error {
	requested, err := json.Marshal(is.RequestedPermissions)
	if err != nil {
		return fmt.Errorf("marshaling requested permissions: %w", err)
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO install_sessions (app_id, session_token, requested_permissions, redirect_uri, expires_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		is.AppID, is.SessionToken, requested, is.RedirectURI, is.ExpiresAt, is.Status,
	)
	if err := row.Scan(&is.ID, &is.CreatedAt, &is.UpdatedAt); err != nil {
		return fmt.Errorf("inserting install session: %w", err)
	}
	return nil
}

func scanInstallSession(row rowScanner) (domain.InstallSession, error) {
	var is domain.InstallSession
	var requested []byte
	err := row.Scan(&is.ID, &is.AppID, &is.SessionToken, &requested, &is.RedirectURI,
		&is.ExpiresAt, &is.Status, &is.CompletedAt, &is.CreatedAt, &is.UpdatedAt)
	if err != nil {
		return domain.InstallSession{}, fmt.Errorf("scanning install session: %w", err)
	}
	if len(requested) > 0 {
		if err := json.Unmarshal(requested, &is.RequestedPermissions); err != nil {
			return domain.InstallSession{}, fmt.Errorf("unmarshaling requested permissions: %w", err)
		}
	}
	return is, nil
}

const selectInstallSessionCols = `id, app_id, session_token, requested_permissions, redirect_uri, expires_at, status, completed_at, created_at, updated_at`

func (s *InstallSessionStore) GetByToken(ctx context.Context, token string) (*domain.InstallSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectInstallSessionCols+` FROM install_sessions WHERE session_token = $1`, token)
	is, err := scanInstallSession(row)
	if err != nil {
		return nil, err
	}
	return &is, nil
}

func (s *InstallSessionStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InstallSessionStatus, completedAt *time.Time) error {
	result, err := s.db.Exec(ctx,
		`UPDATE install_sessions SET status = $1, completed_at = $2, updated_at = now() WHERE id = $3`,
		status, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("updating install session status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("install session not found")
	}
	return nil
}

// ExpireStale flips still-PENDING sessions past their expiry to EXPIRED and
// returns the AppIDs of the PENDING apps left behind, so the caller can
// disable them.
func (s *InstallSessionStore) ExpireStale(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE install_sessions
		 SET status = $1, updated_at = now()
		 WHERE expires_at < $2 AND status = $3
		 RETURNING app_id`,
		domain.InstallExpired, before, domain.InstallPending,
	)
	if err != nil {
		return nil, fmt.Errorf("expiring stale install sessions: %w", err)
	}
	defer rows.Close()

	var appIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired session app id: %w", err)
		}
		appIDs = append(appIDs, id)
	}
	return appIDs, rows.Err()
}

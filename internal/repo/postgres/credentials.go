package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

// CredentialStore implements repo.CredentialRepo.
type CredentialStore struct {
	db DBTX
}

func NewCredentialStore(db DBTX) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Create(ctx context.Context, cred *domain.AppCredential) error {
	row := s.db.QueryRow(ctx,
		`INSERT INTO app_credentials (app_id, public_key, label, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		cred.AppID, cred.PublicKey[:], cred.Label, cred.Status,
	)
	if err := row.Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return fmt.Errorf("inserting app credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) GetActiveByAppID(ctx context.Context, appID uuid.UUID) ([]domain.AppCredential, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, app_id, public_key, label, status, created_at, updated_at
		 FROM app_credentials WHERE app_id = $1 AND status = $2`,
		appID, domain.CredentialActive,
	)
	if err != nil {
		return nil, fmt.Errorf("listing app credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.AppCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (s *CredentialStore) GetByPublicKey(ctx context.Context, publicKey [32]byte) (*domain.AppCredential, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, app_id, public_key, label, status, created_at, updated_at
		 FROM app_credentials WHERE public_key = $1`,
		publicKey[:],
	)
	cred, err := scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("getting app credential by public key: %w", err)
	}
	return &cred, nil
}

func (s *CredentialStore) Revoke(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`UPDATE app_credentials SET status = $1, updated_at = now() WHERE id = $2`,
		domain.CredentialRevoked, id,
	)
	if err != nil {
		return fmt.Errorf("revoking app credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("app credential not found")
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows, letting scanCredential
// serve both a single-row QueryRow result and a Query row iteration.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (domain.AppCredential, error) {
	var cred domain.AppCredential
	var key []byte
	err := row.Scan(&cred.ID, &cred.AppID, &key, &cred.Label, &cred.Status, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return domain.AppCredential{}, fmt.Errorf("scanning app credential: %w", err)
	}
	if len(key) != 32 {
		return domain.AppCredential{}, fmt.Errorf("stored public key has length %d, want 32", len(key))
	}
	copy(cred.PublicKey[:], key)
	return cred, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

// SecretStore implements repo.SecretRepo. Config is stored as JSONB; the
// vault's encrypted key and IV are stored as raw bytea, never as text.
type SecretStore struct {
	db DBTX
}

func NewSecretStore(db DBTX) *SecretStore {
	return &SecretStore{db: db}
}

func (s *SecretStore) Create(ctx context.Context, secret *domain.ResourceSecret) error {
	config, err := json.Marshal(secret.Config)
	if err != nil {
		return fmt.Errorf("marshaling secret config: %w", err)
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO resource_secrets (resource_id, name, resource_type, encrypted_key, key_iv, config, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		secret.ResourceID, secret.Name, secret.ResourceType, secret.EncryptedKey, secret.KeyIV, config, secret.Status,
	)
	if err := row.Scan(&secret.ID, &secret.CreatedAt, &secret.UpdatedAt); err != nil {
		return fmt.Errorf("inserting resource secret: %w", err)
	}
	return nil
}

const selectSecretCols = `id, resource_id, name, resource_type, encrypted_key, key_iv, config, status, created_at, updated_at`

func scanSecret(row rowScanner) (domain.ResourceSecret, error) {
	var sec domain.ResourceSecret
	var config []byte
	err := row.Scan(&sec.ID, &sec.ResourceID, &sec.Name, &sec.ResourceType, &sec.EncryptedKey, &sec.KeyIV, &config, &sec.Status, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return domain.ResourceSecret{}, fmt.Errorf("scanning resource secret: %w", err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &sec.Config); err != nil {
			return domain.ResourceSecret{}, fmt.Errorf("unmarshaling secret config: %w", err)
		}
	}
	return sec, nil
}

func (s *SecretStore) GetByResourceID(ctx context.Context, resourceID string) (*domain.ResourceSecret, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectSecretCols+` FROM resource_secrets WHERE resource_id = $1`, resourceID)
	sec, err := scanSecret(row)
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

func (s *SecretStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SecretStatus) error {
	result, err := s.db.Exec(ctx,
		`UPDATE resource_secrets SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("updating resource secret status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("resource secret not found")
	}
	return nil
}

func (s *SecretStore) List(ctx context.Context) ([]domain.ResourceSecret, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectSecretCols+` FROM resource_secrets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing resource secrets: %w", err)
	}
	defer rows.Close()

	var secrets []domain.ResourceSecret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, sec)
	}
	return secrets, rows.Err()
}

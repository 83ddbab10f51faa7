package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

// ConnectCodeStore implements repo.ConnectCodeRepo.
type ConnectCodeStore struct {
	db DBTX
}

func NewConnectCodeStore(db DBTX) *ConnectCodeStore {
	return &ConnectCodeStore{db: db}
}

func (s *ConnectCodeStore) Create(ctx context.Context, cc *domain.ConnectCode) error {
	row := s.db.QueryRow(ctx,
		`INSERT INTO connect_codes (code_hash, expires_at)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		cc.CodeHash, cc.ExpiresAt,
	)
	if err := row.Scan(&cc.ID, &cc.CreatedAt); err != nil {
		return fmt.Errorf("inserting connect code: %w", err)
	}
	return nil
}

func (s *ConnectCodeStore) GetByHash(ctx context.Context, codeHash string) (*domain.ConnectCode, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, code_hash, expires_at, used_at, created_at
		 FROM connect_codes WHERE code_hash = $1`,
		codeHash,
	)
	var cc domain.ConnectCode
	err := row.Scan(&cc.ID, &cc.CodeHash, &cc.ExpiresAt, &cc.UsedAt, &cc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting connect code: %w", err)
	}
	return &cc, nil
}

func (s *ConnectCodeStore) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.Exec(ctx,
		`UPDATE connect_codes SET used_at = $1 WHERE id = $2 AND used_at IS NULL`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("marking connect code used: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("connect code not found or already used")
	}
	return nil
}

// DeleteExpired removes connect codes that expired before the cutoff,
// regardless of whether they were used — called from the pairing cleanup
// loop.
func (s *ConnectCodeStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM connect_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("deleting expired connect codes: %w", err)
	}
	return result.RowsAffected(), nil
}

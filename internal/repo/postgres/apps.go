package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nightgate/resourcegate/internal/domain"
)

// AppStore implements repo.AppRepo.
type AppStore struct {
	db DBTX
}

func NewAppStore(db DBTX) *AppStore {
	return &AppStore{db: db}
}

func (s *AppStore) Create(ctx context.Context, app *domain.App) error {
	row := s.db.QueryRow(ctx,
		`INSERT INTO apps (name, description, homepage, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		app.Name, app.Description, app.Homepage, app.Status,
	)
	if err := row.Scan(&app.ID, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return fmt.Errorf("inserting app: %w", err)
	}
	return nil
}

func (s *AppStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.App, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, name, description, homepage, status, created_at, updated_at
		 FROM apps WHERE id = $1`,
		id,
	)
	var a domain.App
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Homepage, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting app: %w", err)
	}
	return &a, nil
}

func (s *AppStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AppStatus) error {
	result, err := s.db.Exec(ctx,
		`UPDATE apps SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("updating app status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("app not found")
	}
	return nil
}

func (s *AppStore) List(ctx context.Context) ([]domain.App, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, description, homepage, status, created_at, updated_at
		 FROM apps ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing apps: %w", err)
	}
	defer rows.Close()

	var apps []domain.App
	for rows.Next() {
		var a domain.App
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Homepage, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning app: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

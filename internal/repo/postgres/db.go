// Package postgres implements internal/repo's interfaces with hand-written
// pgx SQL, in the shape of pkg/pat/store.go: a thin struct wrapping a DBTX,
// explicit QueryRow/Query/Exec calls, and explicit Scan — no code generation,
// since the toolchain that would run sqlc is unavailable here.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting every store
// run either against the pool directly or inside a caller-managed
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the parameterized-query execution interface the engine consumes.
// *pgxpool.Pool satisfies it; tests substitute mocks. The engine owns the
// backups and restore_operations tables and issues read-only SELECTs against
// externally-owned tables for the user-data variant.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

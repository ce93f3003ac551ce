package codes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresAllocator keeps one counter row per (tenant, prefix). Increments are
// single-row upserts, so concurrent callers serialize on the row lock.
type PostgresAllocator struct {
	db   DB
	seed Seeder
}

// NewPostgresAllocator creates an allocator backed by the code_counters table.
func NewPostgresAllocator(db DB, seed Seeder) *PostgresAllocator {
	if db == nil {
		panic("codes: db required")
	}
	return &PostgresAllocator{db: db, seed: seed}
}

// Next increments the tenant/prefix counter and returns the formatted code.
func (a *PostgresAllocator) Next(ctx context.Context, tenantID, prefix string) (string, error) {
	if err := validate(tenantID, prefix); err != nil {
		return "", err
	}
	prefix = normalizePrefix(prefix)

	var value int64
	err := a.db.QueryRow(ctx, `
		UPDATE code_counters SET value = value + 1, updated_at = now()
		WHERE tenant_id = $1 AND prefix = $2
		RETURNING value`, tenantID, prefix).Scan(&value)
	if err == nil {
		return FormatCode(prefix, value), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("codes: increment counter: %w", err)
	}

	// First allocation for this scope: seed from existing data. Two callers may
	// race here; the upsert makes the loser increment the winner's row.
	var start int64
	if a.seed != nil {
		start, err = a.seed(ctx, tenantID, prefix)
		if err != nil {
			return "", fmt.Errorf("codes: seed counter: %w", err)
		}
	}
	err = a.db.QueryRow(ctx, `
		INSERT INTO code_counters (tenant_id, prefix, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id, prefix) DO UPDATE SET value = code_counters.value + 1, updated_at = now()
		RETURNING value`, tenantID, prefix, start+1).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("codes: create counter: %w", err)
	}
	return FormatCode(prefix, value), nil
}

var _ Allocator = (*PostgresAllocator)(nil)

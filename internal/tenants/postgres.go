package tenants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const subscriptionColumns = `id, name, plan, subscription_status, expires_at, last_warned_threshold, last_warned_at, created_at, updated_at`

// PostgresStore keeps subscription state on the tenants table.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("tenants: db required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*Subscription, error) {
	list, err := s.list(ctx, "get", `SELECT `+subscriptionColumns+` FROM tenants WHERE id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrTenantNotFound
	}
	return &list[0], nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]Subscription, error) {
	return s.list(ctx, "list active", `SELECT `+subscriptionColumns+`
		FROM tenants WHERE subscription_status = 'active' ORDER BY id`)
}

func (s *PostgresStore) ListTrialsExpiringBetween(ctx context.Context, from, to time.Time) ([]Subscription, error) {
	return s.list(ctx, "list expiring trials", `SELECT `+subscriptionColumns+`
		FROM tenants
		WHERE plan = 'trial' AND subscription_status = 'active'
		  AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at`, from, to)
}

func (s *PostgresStore) ListTrialsExpiredBy(ctx context.Context, at time.Time) ([]Subscription, error) {
	return s.list(ctx, "list expired trials", `SELECT `+subscriptionColumns+`
		FROM tenants
		WHERE plan = 'trial' AND subscription_status = 'active' AND expires_at <= $1
		ORDER BY expires_at`, at)
}

func (s *PostgresStore) MarkExpired(ctx context.Context, tenantID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE tenants SET subscription_status = 'expired', updated_at = $2
		WHERE id = $1 AND plan = 'trial' AND subscription_status = 'active' AND expires_at <= $2`,
		tenantID, at)
	if err != nil {
		return false, fmt.Errorf("tenants: mark expired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordWarning(ctx context.Context, tenantID string, threshold int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE tenants SET last_warned_threshold = $2, last_warned_at = $3, updated_at = $3
		WHERE id = $1 AND (last_warned_threshold IS NULL OR last_warned_threshold > $2)`,
		tenantID, threshold, at)
	if err != nil {
		return false, fmt.Errorf("tenants: record warning: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StartTrial creates the tenant on a fresh trial. Existing tenants are left
// untouched and reported as ErrTenantExists.
func (s *PostgresStore) StartTrial(ctx context.Context, tenantID, name string, length time.Duration, now time.Time) (*Subscription, error) {
	sub := Subscription{
		TenantID:   tenantID,
		TenantName: name,
		Plan:       PlanTrial,
		Status:     StatusActive,
		ExpiresAt:  now.Add(length),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO tenants (id, name, plan, subscription_status, expires_at, created_at, updated_at)
		VALUES ($1, $2, 'trial', 'active', $3, $4, $4)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`, tenantID, name, sub.ExpiresAt, now).Scan(&sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantExists
	}
	if err != nil {
		return nil, fmt.Errorf("tenants: start trial: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) list(ctx context.Context, op, sql string, args ...any) ([]Subscription, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("tenants: %s: %w", op, err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		var plan, status string
		if err := rows.Scan(&sub.TenantID, &sub.TenantName, &plan, &status, &sub.ExpiresAt,
			&sub.LastWarnedThreshold, &sub.LastWarnedAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("tenants: scan: %w", err)
		}
		sub.Plan = Plan(plan)
		sub.Status = Status(status)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenants: %s: %w", op, err)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)

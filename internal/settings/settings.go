// Package settings exposes per-tenant clinic settings and the automation
// feature flags every engine operation checks before acting.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// Automation holds the per-tenant feature flags.
type Automation struct {
	AutoWelcomeMessages       bool `json:"auto_welcome_messages"`
	AutoRecurringAppointments bool `json:"auto_recurring_appointments"`
	AutoWaitlistManagement    bool `json:"auto_waitlist_management"`
	AutoPeriodicReports       bool `json:"auto_periodic_reports"`
	AutoTrialNotifications    bool `json:"auto_trial_notifications"`
}

// Settings is the slice of clinic configuration the engine reads.
type Settings struct {
	TenantID   string     `json:"tenant_id"`
	ClinicName string     `json:"clinic_name"`
	Timezone   string     `json:"timezone"`
	Automation Automation `json:"automation"`
}

// Location resolves Timezone, falling back to UTC.
func (s *Settings) Location() *time.Location {
	if s == nil || s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rejects settings that cannot be stored.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return errors.New("settings: tenant_id is required")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("settings: unknown timezone %q", s.Timezone)
		}
	}
	return nil
}

// Default returns the settings used when a tenant has none stored.
func Default(tenantID string) *Settings {
	return &Settings{
		TenantID:   tenantID,
		ClinicName: "Your Clinic",
		Timezone:   "UTC",
		Automation: Automation{
			AutoRecurringAppointments: true,
			AutoWaitlistManagement:    true,
			AutoPeriodicReports:       true,
			AutoTrialNotifications:    true,
		},
	}
}

// Provider returns settings for a tenant.
type Provider interface {
	Get(ctx context.Context, tenantID string) (*Settings, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const defaultCacheTTL = 5 * time.Minute

// Store reads clinic_settings from Postgres through a Redis read-through cache.
// A nil Redis client disables caching.
type Store struct {
	db     DB
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewStore creates a settings store.
func NewStore(db DB, redisClient *redis.Client, logger *logging.Logger) *Store {
	if db == nil {
		panic("settings: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, redis: redisClient, ttl: defaultCacheTTL, logger: logger}
}

// WithCacheTTL overrides the cache lifetime.
func (s *Store) WithCacheTTL(ttl time.Duration) *Store {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func cacheKey(tenantID string) string {
	return fmt.Sprintf("clinic:settings:%s", tenantID)
}

// Get returns the tenant's settings, or Default when no row exists.
func (s *Store) Get(ctx context.Context, tenantID string) (*Settings, error) {
	if cached := s.fromCache(ctx, tenantID); cached != nil {
		return cached, nil
	}

	cfg := Settings{TenantID: tenantID}
	var automation []byte
	err := s.db.QueryRow(ctx, `
		SELECT clinic_name, timezone, automation
		FROM clinic_settings WHERE tenant_id = $1`, tenantID).
		Scan(&cfg.ClinicName, &cfg.Timezone, &automation)
	if errors.Is(err, pgx.ErrNoRows) {
		return Default(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get: %w", err)
	}
	cfg.Automation = Default(tenantID).Automation
	if len(automation) > 0 {
		if err := json.Unmarshal(automation, &cfg.Automation); err != nil {
			return nil, fmt.Errorf("settings: decode automation: %w", err)
		}
	}

	s.toCache(ctx, &cfg)
	return &cfg, nil
}

// Save upserts the tenant's settings and drops the cached copy.
func (s *Store) Save(ctx context.Context, cfg *Settings) error {
	automation, err := json.Marshal(cfg.Automation)
	if err != nil {
		return fmt.Errorf("settings: encode automation: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO clinic_settings (tenant_id, clinic_name, timezone, automation, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET clinic_name = EXCLUDED.clinic_name, timezone = EXCLUDED.timezone,
		    automation = EXCLUDED.automation, updated_at = now()`,
		cfg.TenantID, cfg.ClinicName, cfg.Timezone, automation)
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Del(ctx, cacheKey(cfg.TenantID)).Err(); err != nil {
			s.logger.Warn("settings: cache invalidation failed", "tenant_id", cfg.TenantID, "error", err)
		}
	}
	return nil
}

func (s *Store) fromCache(ctx context.Context, tenantID string) *Settings {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, cacheKey(tenantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("settings: cache read failed", "tenant_id", tenantID, "error", err)
		}
		return nil
	}
	var cfg Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	return &cfg
}

func (s *Store) toCache(ctx context.Context, cfg *Settings) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKey(cfg.TenantID), data, s.ttl).Err(); err != nil {
		s.logger.Warn("settings: cache write failed", "tenant_id", cfg.TenantID, "error", err)
	}
}

// Static serves fixed settings. Tenants without an entry get Default.
type Static map[string]*Settings

// Get implements Provider.
func (s Static) Get(_ context.Context, tenantID string) (*Settings, error) {
	if cfg, ok := s[tenantID]; ok {
		return cfg, nil
	}
	return Default(tenantID), nil
}

var (
	_ Provider = (*Store)(nil)
	_ Provider = Static(nil)
)

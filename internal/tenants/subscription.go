// Package tenants stores each tenant's subscription state.
package tenants

import (
	"errors"
	"math"
	"time"
)

// ErrTenantNotFound is returned when no tenant row exists.
var ErrTenantNotFound = errors.New("tenants: tenant not found")

// ErrTenantExists is returned when a trial is requested for a tenant that is
// already on record. Plan changes after that belong to billing.
var ErrTenantExists = errors.New("tenants: tenant already exists")

// Plan is the subscription plan. Anything other than PlanTrial is paid.
type Plan string

const PlanTrial Plan = "trial"

// Status is the subscription status.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Subscription is a tenant's plan and expiry.
type Subscription struct {
	TenantID            string     `json:"tenant_id"`
	TenantName          string     `json:"tenant_name"`
	Plan                Plan       `json:"plan"`
	Status              Status     `json:"status"`
	ExpiresAt           time.Time  `json:"expires_at"`
	LastWarnedThreshold *int       `json:"last_warned_threshold,omitempty"`
	LastWarnedAt        *time.Time `json:"last_warned_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// InTrial reports whether the tenant is on the trial plan.
func (s *Subscription) InTrial() bool {
	return s.Plan == PlanTrial
}

// IsExpired reports whether the subscription is expired at now, either by
// status or by an elapsed trial.
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.Status == StatusExpired || (s.InTrial() && s.ExpiresAt.Before(now))
}

// DaysRemaining is the whole number of days until expiry, rounded up. Zero
// once expired.
func (s *Subscription) DaysRemaining(now time.Time) int {
	left := s.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// ShouldWarn reports whether a warning at daysRemaining crosses a threshold
// not yet warned for.
func (s *Subscription) ShouldWarn(daysRemaining int) bool {
	return s.LastWarnedThreshold == nil || daysRemaining < *s.LastWarnedThreshold
}

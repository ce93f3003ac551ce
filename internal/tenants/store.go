package tenants

import (
	"context"
	"time"
)

// Store persists subscription state.
type Store interface {
	Get(ctx context.Context, tenantID string) (*Subscription, error)
	ListActive(ctx context.Context) ([]Subscription, error)
	ListTrialsExpiringBetween(ctx context.Context, from, to time.Time) ([]Subscription, error)
	ListTrialsExpiredBy(ctx context.Context, at time.Time) ([]Subscription, error)
	// MarkExpired moves an active, elapsed trial to expired. It reports false
	// when another run already did.
	MarkExpired(ctx context.Context, tenantID string, at time.Time) (bool, error)
	// RecordWarning stores the warned threshold unless an equal or lower one
	// is already recorded.
	RecordWarning(ctx context.Context, tenantID string, threshold int, at time.Time) (bool, error)
	StartTrial(ctx context.Context, tenantID, name string, length time.Duration, now time.Time) (*Subscription, error)
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// Real-time event types.
const (
	EventRecurringCreated = "appointment.recurring_created"
	EventWaitlistFilled   = "appointment.waitlist_filled"
	EventTrialExpired     = "tenant.trial_expired"
)

// Event is a state change broadcast to connected clients.
type Event struct {
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	EntityID   string         `json:"entity_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher pushes real-time events. Implementations must not block callers
// on subscriber behaviour; failures are logged, never returned.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// ChannelFor is the pub/sub channel for a tenant.
func ChannelFor(tenantID string) string {
	return fmt.Sprintf("clinic:%s:events", tenantID)
}

// RedisPublisher publishes on per-tenant Redis channels.
type RedisPublisher struct {
	client *redis.Client
	logger *logging.Logger
}

func NewRedisPublisher(client *redis.Client, logger *logging.Logger) *RedisPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) {
	if p == nil || p.client == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("realtime event encode failed", "type", evt.Type, "error", err)
		return
	}
	if err := p.client.Publish(ctx, ChannelFor(evt.TenantID), data).Err(); err != nil {
		p.logger.Warn("realtime publish failed", "type", evt.Type, "tenant_id", evt.TenantID, "error", err)
	}
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = NopPublisher{}
)

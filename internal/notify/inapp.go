package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Priority of an in-app notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// InAppNotification is a record shown in a user's notification feed.
type InAppNotification struct {
	ID        uuid.UUID
	TenantID  string
	UserID    string
	Type      string
	Priority  Priority
	Title     string
	Message   string
	ActionURL string
	CreatedAt time.Time
}

// InAppStore persists in-app notifications.
type InAppStore interface {
	Create(ctx context.Context, n *InAppNotification) error
}

type inAppDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresInAppStore writes to the notifications table.
type PostgresInAppStore struct {
	db inAppDB
}

func NewPostgresInAppStore(db inAppDB) *PostgresInAppStore {
	return &PostgresInAppStore{db: db}
}

func (s *PostgresInAppStore) Create(ctx context.Context, n *InAppNotification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, tenant_id, user_id, type, priority, title, message, action_url, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`,
		n.ID, n.TenantID, n.UserID, n.Type, string(n.Priority), n.Title, n.Message, n.ActionURL, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("notify: create in-app notification: %w", err)
	}
	return nil
}

var _ InAppStore = (*PostgresInAppStore)(nil)

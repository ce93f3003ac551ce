// Package events carries automation work between the request path and the
// workers that run it, and publishes real-time notices of what changed.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task types.
const (
	TaskAppointmentCompleted = "appointment.completed.v1"
	TaskAppointmentCancelled = "appointment.cancelled.v1"
)

// Task is a unit of durable automation work.
type Task struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppointmentStatusChangedV1 is the payload of the appointment task types.
type AppointmentStatusChangedV1 struct {
	TenantID      string    `json:"tenant_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Queue accepts tasks for durable execution.
type Queue interface {
	Enqueue(ctx context.Context, tenantID, taskType string, payload any) (uuid.UUID, error)
}

// Handler executes a task. A returned error schedules a retry.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) Handle(ctx context.Context, task Task) error { return f(ctx, task) }

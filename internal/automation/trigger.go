package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/events"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// TriggerResult says how a status change was handed off.
type TriggerResult struct {
	Queued   bool      `json:"queued"`
	TaskID   uuid.UUID `json:"task_id,omitempty"`
	Fallback bool      `json:"fallback,omitempty"`
	Ignored  bool      `json:"ignored,omitempty"`
}

// Trigger hands appointment status changes to the automation workers
// without making the caller wait for the automation itself.
type Trigger struct {
	queue          events.Queue
	handler        events.Handler
	logger         *logging.Logger
	enqueueTimeout time.Duration
	runTimeout     time.Duration
	inflight       sync.WaitGroup
	now            func() time.Time
	marshal        func(any) ([]byte, error)
}

// NewTrigger enqueues to queue. When the enqueue fails the task runs on
// handler in a detached goroutine instead.
func NewTrigger(queue events.Queue, handler events.Handler, logger *logging.Logger) *Trigger {
	if logger == nil {
		logger = logging.Default()
	}
	return &Trigger{
		queue:          queue,
		handler:        handler,
		logger:         logger,
		enqueueTimeout: 2 * time.Second,
		runTimeout:     30 * time.Second,
		now:            time.Now,
		marshal:        json.Marshal,
	}
}

func (t *Trigger) WithTimeouts(enqueue, run time.Duration) *Trigger {
	if enqueue > 0 {
		t.enqueueTimeout = enqueue
	}
	if run > 0 {
		t.runTimeout = run
	}
	return t
}

func taskTypeFor(status appointments.Status) string {
	switch status {
	case appointments.StatusCompleted:
		return events.TaskAppointmentCompleted
	case appointments.StatusCancelled:
		return events.TaskAppointmentCancelled
	default:
		return ""
	}
}

// AppointmentStatusChanged records that an appointment moved to status.
// Only completed and cancelled appointments start automation.
func (t *Trigger) AppointmentStatusChanged(ctx context.Context, tenantID string, appointmentID uuid.UUID, status appointments.Status) TriggerResult {
	taskType := taskTypeFor(status)
	if taskType == "" {
		return TriggerResult{Ignored: true}
	}
	payload := events.AppointmentStatusChangedV1{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		Status:        string(status),
		OccurredAt:    t.now().UTC(),
	}
	logger := t.logger.WithTenant(tenantID).With("appointment_id", appointmentID, "type", taskType)

	if t.queue != nil {
		enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.enqueueTimeout)
		id, err := t.queue.Enqueue(enqueueCtx, tenantID, taskType, payload)
		cancel()
		if err == nil {
			return TriggerResult{Queued: true, TaskID: id}
		}
		logger.Error("automation: enqueue failed; running task detached", "error", err)
	}

	if t.handler == nil {
		logger.Error("automation: no handler for detached task; dropping")
		return TriggerResult{}
	}
	body, err := t.marshal(payload)
	if err != nil {
		logger.Error("automation: marshal detached task; dropping", "error", fmt.Errorf("automation: marshal payload: %w", err))
		return TriggerResult{}
	}
	task := events.Task{ID: uuid.New(), TenantID: tenantID, Type: taskType, Payload: body, CreatedAt: payload.OccurredAt}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("automation: detached task panicked", "panic", p)
			}
		}()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.runTimeout)
		defer cancel()
		if err := t.handler.Handle(runCtx, task); err != nil {
			logger.Error("automation: detached task failed", "error", err)
		}
	}()
	return TriggerResult{Fallback: true, TaskID: task.ID}
}

// Wait blocks until detached tasks finish. Used on shutdown.
func (t *Trigger) Wait() {
	t.inflight.Wait()
}

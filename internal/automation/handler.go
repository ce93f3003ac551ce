package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/events"
	"github.com/wolfman30/clinicops/internal/reallocation"
	"github.com/wolfman30/clinicops/internal/recurring"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// TaskHandler runs queued appointment tasks against the engine. A returned
// error makes the queue retry the task.
type TaskHandler struct {
	engine *Engine
	logger *logging.Logger
}

func NewTaskHandler(engine *Engine, logger *logging.Logger) *TaskHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TaskHandler{engine: engine, logger: logger}
}

var _ events.Handler = (*TaskHandler)(nil)

func (h *TaskHandler) Handle(ctx context.Context, task events.Task) error {
	var evt events.AppointmentStatusChangedV1
	if err := json.Unmarshal(task.Payload, &evt); err != nil {
		return fmt.Errorf("automation: decode %s: %w", task.Type, err)
	}
	if evt.TenantID == "" {
		evt.TenantID = task.TenantID
	}
	logger := h.logger.WithTenant(evt.TenantID).With("task_id", task.ID, "appointment_id", evt.AppointmentID)

	switch task.Type {
	case events.TaskAppointmentCompleted:
		appt, err := h.engine.appointments.Get(ctx, evt.TenantID, evt.AppointmentID)
		if errors.Is(err, appointments.ErrNotFound) {
			// Retrying cannot make the appointment appear.
			logger.Warn("automation: completed appointment not found; dropping task")
			return nil
		}
		if err != nil {
			return fmt.Errorf("automation: load appointment: %w", err)
		}
		res := h.engine.CreateNextRecurringAppointment(ctx, appt, recurring.Config{})
		if !res.Success {
			return fmt.Errorf("automation: create next appointment: %s", res.Error)
		}
		logger.Info("automation: recurring task handled", "created", res.Created, "reason", res.Reason)
		return nil

	case events.TaskAppointmentCancelled:
		res := h.engine.FillCancelledSlot(ctx, evt.AppointmentID, evt.TenantID)
		if !res.Success {
			if res.Error == reallocation.ErrAppointmentNotFound.Error() {
				logger.Warn("automation: cancelled appointment not found; dropping task")
				return nil
			}
			return fmt.Errorf("automation: fill cancelled slot: %s", res.Error)
		}
		logger.Info("automation: reallocation task handled", "filled", res.Filled, "reason", res.Reason)
		return nil

	default:
		return fmt.Errorf("automation: unhandled task type %s", task.Type)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/automation"
	"github.com/wolfman30/clinicops/internal/tenancy"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type statusTrigger interface {
	AppointmentStatusChanged(ctx context.Context, tenantID string, appointmentID uuid.UUID, status appointments.Status) automation.TriggerResult
}

type sweepRunner interface {
	RunSweep(ctx context.Context, name, tenantID string) (any, bool, error)
}

// AutomationHandler receives appointment status hooks from the host
// application and lets operators run sweeps on demand.
type AutomationHandler struct {
	trigger statusTrigger
	sweeps  sweepRunner
	logger  *logging.Logger
}

func NewAutomationHandler(trigger statusTrigger, sweeps sweepRunner, logger *logging.Logger) *AutomationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AutomationHandler{trigger: trigger, sweeps: sweeps, logger: logger}
}

type statusHookRequest struct {
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
}

// StatusHook handles POST /hooks/appointments/{appointmentID}/status. It
// only hands the change off and answers 202 even when automation is
// unavailable, so the caller's status update never fails because of it.
func (h *AutomationHandler) StatusHook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	var req statusHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	tenantID := tenancy.Resolve(r.Context(), strings.TrimSpace(req.TenantID))
	if tenantID == "" {
		http.Error(w, "tenant_id required", http.StatusBadRequest)
		return
	}
	if scoped, ok := tenancy.TenantIDFromContext(r.Context()); ok && scoped != tenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	status := appointments.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		http.Error(w, "status required", http.StatusBadRequest)
		return
	}

	res := h.trigger.AppointmentStatusChanged(r.Context(), tenantID, id, status)
	writeJSON(w, http.StatusAccepted, res)
}

// RunSweep handles POST /admin/sweeps/{name}?tenant_id=.
func (h *AutomationHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tenantID := tenancy.Resolve(r.Context(), strings.TrimSpace(r.URL.Query().Get("tenant_id")))
	if scoped, ok := tenancy.TenantIDFromContext(r.Context()); ok && scoped != tenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	out, ok, err := h.sweeps.RunSweep(r.Context(), name, tenantID)
	if errors.Is(err, automation.ErrUnknownSweep) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "sweeps": automation.SweepNames()})
		return
	}
	if err != nil {
		h.logger.Error("sweep request failed", "sweep", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{"sweep": name, "ok": ok, "result": out})
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

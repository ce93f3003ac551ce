package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/tenants"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type settingsStore interface {
	Get(ctx context.Context, tenantID string) (*settings.Settings, error)
	Save(ctx context.Context, cfg *settings.Settings) error
}

type trialStarter interface {
	StartTrial(ctx context.Context, tenantID, name string) (*tenants.Subscription, error)
}

type subscriptionReader interface {
	Get(ctx context.Context, tenantID string) (*tenants.Subscription, error)
}

// TenantHandler manages per-tenant automation settings and subscriptions.
type TenantHandler struct {
	settings      settingsStore
	trials        trialStarter
	subscriptions subscriptionReader
	logger        *logging.Logger
}

func NewTenantHandler(st settingsStore, trials trialStarter, subs subscriptionReader, logger *logging.Logger) *TenantHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TenantHandler{settings: st, trials: trials, subscriptions: subs, logger: logger}
}

// RegisterRoutes mounts under /admin/tenants/{tenantID}.
func (h *TenantHandler) RegisterRoutes(r chi.Router) {
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)
	r.Get("/subscription", h.getSubscription)
	r.Post("/trial", h.startTrial)
}

func (h *TenantHandler) getSettings(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	st, err := h.settings.Get(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("tenant handler: get settings", "tenant_id", tenantID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *TenantHandler) putSettings(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var st settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	st.TenantID = tenantID
	if err := st.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.settings.Save(r.Context(), &st); err != nil {
		h.logger.Error("tenant handler: save settings", "tenant_id", tenantID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, &st)
}

func (h *TenantHandler) getSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	sub, err := h.subscriptions.Get(r.Context(), tenantID)
	if errors.Is(err, tenants.ErrTenantNotFound) {
		http.Error(w, "tenant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("tenant handler: get subscription", "tenant_id", tenantID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *TenantHandler) startTrial(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	sub, err := h.trials.StartTrial(r.Context(), tenantID, strings.TrimSpace(req.Name))
	if errors.Is(err, tenants.ErrTenantExists) {
		http.Error(w, "tenant already exists", http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error("tenant handler: start trial", "tenant_id", tenantID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

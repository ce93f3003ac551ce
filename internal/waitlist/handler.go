package waitlist

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// Handler exposes waitlist management endpoints.
type Handler struct {
	store  Store
	logger *logging.Logger
}

func NewHandler(store Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts endpoints under a router scoped to
// /admin/tenants/{tenantID}/waitlist.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.add)
	r.Delete("/{patientID}", h.remove)
}

type addRequest struct {
	PatientID     string `json:"patient_id"`
	PreferredDate string `json:"preferred_date,omitempty"` // 2006-01-02
	PreferredTime string `json:"preferred_time,omitempty"`
	DoctorID      string `json:"doctor_id,omitempty"`
	Priority      int    `json:"priority"`
	Notes         string `json:"notes,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	entries, err := h.store.List(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("waitlist handler: list", "tenant_id", tenantID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	entry := Entry{
		TenantID:      tenantID,
		PatientID:     req.PatientID,
		PreferredTime: req.PreferredTime,
		DoctorID:      req.DoctorID,
		Priority:      req.Priority,
		Notes:         req.Notes,
	}
	if req.PreferredDate != "" {
		d, err := time.Parse("2006-01-02", req.PreferredDate)
		if err != nil {
			http.Error(w, "preferred_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		entry.PreferredDate = &d
	}

	if err := h.store.Add(r.Context(), entry); err != nil {
		if errors.Is(err, ErrInvalidEntry) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("waitlist handler: add", "tenant_id", tenantID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "queued", "patient_id": entry.PatientID})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	patientID := chi.URLParam(r, "patientID")
	if err := h.store.Remove(r.Context(), tenantID, patientID); err != nil {
		h.logger.Error("waitlist handler: remove", "tenant_id", tenantID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

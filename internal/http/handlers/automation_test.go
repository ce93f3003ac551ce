package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/automation"
	"github.com/wolfman30/clinicops/internal/tenancy"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type stubTrigger struct {
	tenantID string
	id       uuid.UUID
	status   appointments.Status
}

func (s *stubTrigger) AppointmentStatusChanged(_ context.Context, tenantID string, id uuid.UUID, status appointments.Status) automation.TriggerResult {
	s.tenantID, s.id, s.status = tenantID, id, status
	return automation.TriggerResult{Queued: true, TaskID: uuid.New()}
}

type stubSweeps struct {
	ok bool
}

func (s stubSweeps) RunSweep(_ context.Context, name, tenantID string) (any, bool, error) {
	if name == "nope" {
		return nil, false, automation.ErrUnknownSweep
	}
	return map[string]string{"tenant": tenantID}, s.ok, nil
}

func newRouter(h *AutomationHandler) chi.Router {
	r := chi.NewRouter()
	r.Post("/hooks/appointments/{appointmentID}/status", h.StatusHook)
	r.Post("/admin/sweeps/{name}", h.RunSweep)
	return r
}

func TestStatusHookTriggers(t *testing.T) {
	trig := &stubTrigger{}
	r := newRouter(NewAutomationHandler(trig, stubSweeps{}, logging.Discard()))
	id := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/hooks/appointments/"+id.String()+"/status", strings.NewReader(`{"tenant_id":"t1","status":"Completed"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "t1", trig.tenantID)
	assert.Equal(t, id, trig.id)
	assert.Equal(t, appointments.StatusCompleted, trig.status)
}

func TestStatusHookValidation(t *testing.T) {
	r := newRouter(NewAutomationHandler(&stubTrigger{}, stubSweeps{}, logging.Discard()))
	cases := map[string]struct {
		path, body string
		ctxTenant  string
		want       int
	}{
		"bad id":         {"/hooks/appointments/abc/status", `{"tenant_id":"t1","status":"cancelled"}`, "", http.StatusBadRequest},
		"no tenant":      {"/hooks/appointments/" + uuid.NewString() + "/status", `{"status":"cancelled"}`, "", http.StatusBadRequest},
		"no status":      {"/hooks/appointments/" + uuid.NewString() + "/status", `{"tenant_id":"t1"}`, "", http.StatusBadRequest},
		"other tenant":   {"/hooks/appointments/" + uuid.NewString() + "/status", `{"tenant_id":"t2","status":"cancelled"}`, "t1", http.StatusForbidden},
		"context tenant": {"/hooks/appointments/" + uuid.NewString() + "/status", `{"status":"cancelled"}`, "t1", http.StatusAccepted},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			if tc.ctxTenant != "" {
				req = req.WithContext(tenancy.WithTenantID(req.Context(), tc.ctxTenant))
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRunSweep(t *testing.T) {
	r := newRouter(NewAutomationHandler(&stubTrigger{}, stubSweeps{ok: true}, logging.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/sweeps/recurring?tenant_id=t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "recurring", body["sweep"])
	assert.Equal(t, map[string]any{"tenant": "t1"}, body["result"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/sweeps/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSweepPartialFailure(t *testing.T) {
	r := newRouter(NewAutomationHandler(&stubTrigger{}, stubSweeps{ok: false}, logging.Discard()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/sweeps/weekly_reports", nil))
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
}

func TestRunSweepScopedTokenStaysInTenant(t *testing.T) {
	r := newRouter(NewAutomationHandler(&stubTrigger{}, stubSweeps{ok: true}, logging.Discard()))
	run := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req = req.WithContext(tenancy.WithTenantID(req.Context(), "t1"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, run("/admin/sweeps/recurring?tenant_id=t2").Code)

	rec := run("/admin/sweeps/recurring")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tenant":"t1"`)
}

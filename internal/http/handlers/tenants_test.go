package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/tenants"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type memSettings struct {
	saved map[string]*settings.Settings
}

func (m *memSettings) Get(_ context.Context, tenantID string) (*settings.Settings, error) {
	if st, ok := m.saved[tenantID]; ok {
		return st, nil
	}
	return settings.Default(tenantID), nil
}

func (m *memSettings) Save(_ context.Context, cfg *settings.Settings) error {
	m.saved[cfg.TenantID] = cfg
	return nil
}

type memTrials struct {
	store *tenants.MemoryStore
}

func (m memTrials) StartTrial(ctx context.Context, tenantID, name string) (*tenants.Subscription, error) {
	return m.store.StartTrial(ctx, tenantID, name, 14*24*time.Hour, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
}

func newTenantRouter(h *TenantHandler) chi.Router {
	r := chi.NewRouter()
	r.Route("/admin/tenants/{tenantID}", h.RegisterRoutes)
	return r
}

func TestTenantSettingsRoundTrip(t *testing.T) {
	st := &memSettings{saved: map[string]*settings.Settings{}}
	subs := tenants.NewMemoryStore()
	r := newTenantRouter(NewTenantHandler(st, memTrials{subs}, subs, logging.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/t1/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got settings.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Automation.AutoWaitlistManagement)

	body := `{"tenant_id":"other","clinic_name":"Lakeside","timezone":"America/Chicago","automation":{"auto_periodic_reports":true}}`
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/tenants/t1/settings", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	saved := st.saved["t1"]
	require.NotNil(t, saved, "the path tenant wins over the body")
	assert.Equal(t, "Lakeside", saved.ClinicName)
	assert.False(t, saved.Automation.AutoWaitlistManagement)
	assert.Nil(t, st.saved["other"])
}

func TestTenantSettingsRejectsBadTimezone(t *testing.T) {
	st := &memSettings{saved: map[string]*settings.Settings{}}
	subs := tenants.NewMemoryStore()
	r := newTenantRouter(NewTenantHandler(st, memTrials{subs}, subs, logging.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/tenants/t1/settings", strings.NewReader(`{"timezone":"Nowhere/Else"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, st.saved)
}

func TestTenantTrialAndSubscription(t *testing.T) {
	st := &memSettings{saved: map[string]*settings.Settings{}}
	subs := tenants.NewMemoryStore()
	r := newTenantRouter(NewTenantHandler(st, memTrials{subs}, subs, logging.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/t1/subscription", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tenants/t1/trial", strings.NewReader(`{"name":" Lakeside "}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/t1/subscription", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sub tenants.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "Lakeside", sub.TenantName)
	assert.True(t, sub.InTrial())
}

func TestTenantTrialConflictsForExistingTenant(t *testing.T) {
	st := &memSettings{saved: map[string]*settings.Settings{}}
	subs := tenants.NewMemoryStore()
	subs.Put(tenants.Subscription{TenantID: "t1", Plan: tenants.PlanTrial, Status: tenants.StatusExpired, ExpiresAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)})
	subs.Put(tenants.Subscription{TenantID: "t2", Plan: "pro", Status: tenants.StatusActive, ExpiresAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)})
	r := newTenantRouter(NewTenantHandler(st, memTrials{subs}, subs, logging.Discard()))

	for _, id := range []string{"t1", "t2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tenants/"+id+"/trial", strings.NewReader(`{"name":"Again"}`)))
		assert.Equal(t, http.StatusConflict, rec.Code, id)
	}

	expired, err := subs.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusExpired, expired.Status)
	paid, err := subs.Get(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, tenants.Plan("pro"), paid.Plan)
}

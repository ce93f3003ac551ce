package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinicops/internal/appointments"
	"github.com/wolfman30/clinicops/internal/automation"
	"github.com/wolfman30/clinicops/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinicops/internal/http/middleware"
	"github.com/wolfman30/clinicops/internal/settings"
	"github.com/wolfman30/clinicops/internal/tenants"
	"github.com/wolfman30/clinicops/internal/waitlist"
	"github.com/wolfman30/clinicops/pkg/logging"
)

const secret = "router-secret"

type countingTrigger struct {
	calls int
}

func (c *countingTrigger) AppointmentStatusChanged(context.Context, string, uuid.UUID, appointments.Status) automation.TriggerResult {
	c.calls++
	return automation.TriggerResult{Queued: true}
}

type okSweeps struct{}

func (okSweeps) RunSweep(_ context.Context, name, tenantID string) (any, bool, error) {
	return map[string]string{"sweep": name, "tenant": tenantID}, true, nil
}

type staticSettings struct{}

func (staticSettings) Get(_ context.Context, tenantID string) (*settings.Settings, error) {
	return settings.Default(tenantID), nil
}

func (staticSettings) Save(context.Context, *settings.Settings) error { return nil }

type noTrials struct{}

func (noTrials) StartTrial(context.Context, string, string) (*tenants.Subscription, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, trig *countingTrigger) http.Handler {
	t.Helper()
	logger := logging.Discard()
	subs := tenants.NewMemoryStore()
	return New(&Config{
		Logger:            logger,
		AdminAuthSecret:   secret,
		MetricsHandler:    http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
		Automation:        handlers.NewAutomationHandler(trig, okSweeps{}, logger),
		Tenants:           handlers.NewTenantHandler(staticSettings{}, noTrials{}, subs, logger),
		Waitlist:          waitlist.NewHandler(waitlist.NewMemoryStore(), logger),
		HookRatePerSecond: 1,
		HookBurst:         2,
	})
}

func token(t *testing.T, tenantID string) string {
	t.Helper()
	claims := httpmiddleware.AdminClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func do(h http.Handler, method, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthEndpoint(t *testing.T) {
	r := newTestRouter(t, &countingTrigger{})

	rec := do(r, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, "metrics", do(r, http.MethodGet, "/metrics", "", "").Body.String())
}

func TestRouterRequiresToken(t *testing.T) {
	r := newTestRouter(t, &countingTrigger{})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/admin/sweeps/recurring", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/admin/tenants/t1/settings", "", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/admin/sweeps/recurring", token(t, ""), "").Code)
}

func TestRouterTenantScoping(t *testing.T) {
	r := newTestRouter(t, &countingTrigger{})
	scoped := token(t, "t1")

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/admin/tenants/t1/settings", scoped, "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/admin/tenants/t1/waitlist", scoped, "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin/tenants/t2/settings", scoped, "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin/tenants/t2/waitlist", scoped, "").Code)
}

func TestRouterHookRateLimit(t *testing.T) {
	trig := &countingTrigger{}
	r := newTestRouter(t, trig)
	scoped := token(t, "t1")
	path := "/hooks/appointments/" + uuid.NewString() + "/status"

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(r, http.MethodPost, path, scoped, `{"status":"cancelled"}`).Code)
	}

	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, trig.calls)
}

func TestRouterWithoutSecretServesOnlyPublicRoutes(t *testing.T) {
	r := New(&Config{Automation: handlers.NewAutomationHandler(&countingTrigger{}, okSweeps{}, nil)})

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/admin/sweeps/recurring", "", "").Code)
}

package waitlist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/clinicops/pkg/logging"
)

func newTestRouter(store Store) http.Handler {
	r := chi.NewRouter()
	r.Route("/tenants/{tenantID}/waitlist", NewHandler(store, logging.Discard()).RegisterRoutes)
	return r
}

func TestHandlerAddListRemove(t *testing.T) {
	store := NewMemoryStore()
	router := newTestRouter(store)

	body := `{"patient_id":"p1","preferred_date":"2024-03-12","doctor_id":"d1","priority":5}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tenants/t1/waitlist/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tenants/t1/waitlist/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "d1", resp.Entries[0].DoctorID)
	require.NotNil(t, resp.Entries[0].PreferredDate)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/tenants/t1/waitlist/p1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	entries, _ := store.List(context.Background(), "t1")
	assert.Empty(t, entries)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	router := newTestRouter(NewMemoryStore())

	for _, body := range []string{`{`, `{"patient_id":"p1","preferred_date":"12/03/2024"}`, `{"priority":1}`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tenants/t1/waitlist/", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/dlq"
	"github.com/numberoneson/nos-analytics/analytics/internal/handlers"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/rollup"
	"github.com/numberoneson/nos-analytics/analytics/internal/service"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/analytics/pkg/session"
)

type stubServices struct{}

func (stubServices) Collect(context.Context, io.Reader, service.RequestMeta) (classifier.Destination, error) {
	return classifier.Standard, nil
}

func (stubServices) Site(_ context.Context, site string, _ int) (*rollup.MultiDayResult, error) {
	return rollup.MergeDays(site, nil, 0, models.Funnel{}), nil
}

func (stubServices) All(context.Context, int) (*rollup.Overview, error) {
	return rollup.NewOverview(30, nil), nil
}

func (stubServices) RecentErrors(context.Context, string, int) ([]models.ErrorRecord, error) {
	return nil, nil
}

func (stubServices) RecentAudit(context.Context, int) ([]models.AuditEntry, error) {
	return nil, nil
}

func (stubServices) DefaultDays() int { return 30 }

func (stubServices) Cleanup(context.Context) (storage.CleanupResult, error) {
	return storage.CleanupResult{}, nil
}

func (stubServices) Ping(context.Context) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return newTestRouterWithDLQ(t, nil)
}

func newTestRouterWithDLQ(t *testing.T, store dlq.Store) http.Handler {
	t.Helper()
	signer, err := session.NewSigner("router-secret", time.Hour)
	require.NoError(t, err)
	passwords, err := session.NewPasswordChecker("hunter2", "", bcrypt.MinCost)
	require.NoError(t, err)

	s := stubServices{}
	h := handlers.New(handlers.Deps{
		Collector:   s,
		Queries:     s,
		Maintenance: s,
		Health:      s,
		DLQ:         store,
		Auth: handlers.Auth{
			Signer:    signer,
			Passwords: passwords,
			Chain:     session.NewChain(signer, passwords, false, time.Time{}),
		},
	})
	return NewRouter(h, []string{"https://numberoneson.us", "*.vercel.app"}, nil)
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodPost, "/api/collect", http.StatusOK},
		{http.MethodGet, "/api/collect", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/dashboard", http.StatusUnauthorized},
		{http.MethodGet, "/api/dashboard/portfolio", http.StatusUnauthorized},
		{http.MethodGet, "/api/errors/portfolio", http.StatusUnauthorized},
		{http.MethodGet, "/api/audit", http.StatusUnauthorized},
		{http.MethodGet, "/api/dlq", http.StatusUnauthorized},
		{http.MethodDelete, "/api/dlq/failed_1_0", http.StatusUnauthorized},
		{http.MethodPost, "/api/dlq/purge", http.StatusUnauthorized},
		{http.MethodGet, "/api/dlq/purge", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/auth", http.StatusUnauthorized},
		{http.MethodPost, "/api/logout", http.StatusOK},
		{http.MethodGet, "/api/cron/cleanup", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_CollectPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/collect", nil)
	req.Header.Set("Origin", "https://preview-123.vercel.app")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://preview-123.vercel.app", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRouter_CollectDisallowedOrigin(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/collect", strings.NewReader(`{}`))
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func login(t *testing.T, router http.Handler) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(`{"password":"hunter2"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestRouter_DashboardWithToken(t *testing.T) {
	router := newTestRouter(t)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/portfolio?days=7", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"site":"portfolio"`)
}

func TestRouter_DLQDisabled(t *testing.T) {
	router := newTestRouter(t)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/dlq", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "dlq not enabled")
}

func TestRouter_DLQInspectDeletePurge(t *testing.T) {
	store, err := dlq.NewQueue(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e := &models.Event{Site: "portfolio", Type: models.TypePageview, Path: "/"}
		require.NoError(t, store.Write(ctx, e, errors.New("connection refused"), dlq.ReasonStorage))
	}

	router := newTestRouterWithDLQ(t, store)
	cookie := login(t, router)
	serve := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.AddCookie(cookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := serve(http.MethodGet, "/api/dlq?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	var listed struct {
		Stats   dlq.Stats         `json:"stats"`
		Entries []dlq.FailedEvent `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	assert.Len(t, listed.Entries, 2)
	assert.Equal(t, 3, listed.Stats.Pending)
	assert.Equal(t, "connection refused", listed.Entries[0].Error)

	rr = serve(http.MethodDelete, "/api/dlq/"+listed.Entries[0].ID)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = serve(http.MethodDelete, "/api/dlq/"+listed.Entries[0].ID)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(http.MethodPost, "/api/dlq/purge")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"deleted":2`)
	assert.Equal(t, 0, store.Stats(ctx).Pending)
}

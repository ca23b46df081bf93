package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/fieldsync/internal/api"
	v1 "github.com/stacklok/fieldsync/internal/api/v1"
	"github.com/stacklok/fieldsync/internal/auditlog"
	"github.com/stacklok/fieldsync/internal/config"
	"github.com/stacklok/fieldsync/internal/kvstore"
	"github.com/stacklok/fieldsync/internal/session"
	"github.com/stacklok/fieldsync/internal/sync/mocks"
	"github.com/stacklok/fieldsync/internal/sync/scheduler"
)

func newTestServer(t *testing.T, opts ...api.ServerOption) http.Handler {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	kv := kvstore.NewMemoryStore()
	manager := mocks.NewMockManager(ctrl)
	audit := auditlog.New(kv)
	sessions := session.NewStaticProvider(&config.SessionConfig{PrincipalID: "teacher-1", Role: "teacher"})

	sched := scheduler.New(manager, kv, audit, sessions)
	return api.NewServer(v1.Dependencies{
		Syncer:        sched,
		AuditLog:      audit,
		AutoSync:      sched,
		Sessions:      sessions,
		EligibleRoles: []string{"teacher"},
	}, opts...)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)

	req, err := http.NewRequest("GET", "/health", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)

	req, err := http.NewRequest("GET", "/version", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	for _, key := range []string{"version", "commit", "build_date", "go_version", "platform"} {
		assert.Contains(t, response, key)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("not_configured", func(t *testing.T) {
		t.Parallel()
		rr := httptest.NewRecorder()
		newTestServer(t).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("configured", func(t *testing.T) {
		t.Parallel()
		metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("fieldsync_sync_duration_seconds_count 0\n"))
		})
		rr := httptest.NewRecorder()
		newTestServer(t, api.WithMetricsHandler(metrics)).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "fieldsync_sync_duration_seconds_count")
	})
}

func TestV1RoutesMounted(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, api.WithMiddlewares(api.LoggingMiddleware))

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/sync/log", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"entries":[],"count":0}`, rr.Body.String())
}

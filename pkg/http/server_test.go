package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postureguard-server/pkg/analysis"
	"postureguard-server/pkg/metrics"
	"postureguard-server/pkg/pose"
	"postureguard-server/pkg/session"
	"postureguard-server/pkg/version"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestServer builds a server with a live session manager and a mock pose
// provider, the minimum for a healthy readiness state.
func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	logger := testLogger()

	sessions := session.NewManager(logger, nil)
	t.Cleanup(sessions.Shutdown)

	providers := pose.NewProviderManager(logger, "mock")
	require.NoError(t, providers.RegisterProvider(pose.NewMockProvider(logger)))

	cfg := NewDefaultConfig()
	cfg.EnableMetrics = false

	server := NewServer(logger, cfg, sessions)
	server.SetPoseProviders(providers)

	return server, sessions
}

func doRequest(t *testing.T, server *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server, sessions := newTestServer(t)

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))

	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, version.Version, health.Version)
	assert.Equal(t, 0, health.ActiveSessions)
	assert.Equal(t, "healthy", health.Checks["sessions"].Status)
	assert.Equal(t, "healthy", health.Checks["pose"].Status)
	assert.Contains(t, health.Checks["pose"].Message, "mock")
	assert.Equal(t, "degraded", health.Checks["websocket"].Status)
	assert.NotContains(t, health.Checks, "amqp")
	assert.Greater(t, health.System.GoRoutines, 0)

	sessions.Start("health-check-session", analysis.ActivitySquat)

	w = doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, 1, health.ActiveSessions)
}

func TestHealthUnhealthyWithoutPoseProvider(t *testing.T) {
	logger := testLogger()
	sessions := session.NewManager(logger, nil)
	t.Cleanup(sessions.Shutdown)

	cfg := NewDefaultConfig()
	cfg.EnableMetrics = false
	server := NewServer(logger, cfg, sessions)

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy", health.Checks["pose"].Status)
}

func TestHealthReportsAMQPState(t *testing.T) {
	server, _ := newTestServer(t)
	server.SetAMQPClient(stubConnectionChecker(false))

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Checks["amqp"].Status)

	server.SetAMQPClient(stubConnectionChecker(true))
	w = doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Checks["amqp"].Status)
}

type stubConnectionChecker bool

func (s stubConnectionChecker) IsConnected() bool { return bool(s) }

func TestLivenessProbe(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestReadinessProbe(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestReadinessProbeNotReadyWithoutProviders(t *testing.T) {
	logger := testLogger()
	sessions := session.NewManager(logger, nil)
	t.Cleanup(sessions.Shutdown)

	cfg := NewDefaultConfig()
	cfg.EnableMetrics = false
	server := NewServer(logger, cfg, sessions)

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", w.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	server, sessions := newTestServer(t)
	sessions.Start("status-session", analysis.ActivityDeskSitting)

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, version.Version, status["version"])
	assert.Equal(t, float64(1), status["active_sessions"])
	assert.NotEmpty(t, status["uptime"])
}

func TestServerHeaderApplied(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, version.ServerHeader(), w.Header().Get("Server"))
}

func TestCORSWildcard(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := doRequest(t, server, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze-frame", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := doRequest(t, server, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORSConfiguredOrigins(t *testing.T) {
	logger := testLogger()
	sessions := session.NewManager(logger, nil)
	t.Cleanup(sessions.Shutdown)

	cfg := NewDefaultConfig()
	cfg.EnableMetrics = false
	cfg.CORSOrigins = []string{"https://app.example.com"}
	server := NewServer(logger, cfg, sessions)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := doRequest(t, server, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = doRequest(t, server, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterHandlerServesCustomPath(t *testing.T) {
	server, _ := newTestServer(t)

	server.RegisterHandler("/custom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("custom ok"))
	})

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/custom", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "custom ok", w.Body.String())
}

func TestMetricsEndpointServesExposition(t *testing.T) {
	logger := testLogger()
	metrics.StartMetrics(logger, true)
	metrics.SetSessionsActive(0)

	sessions := session.NewManager(logger, nil)
	t.Cleanup(sessions.Shutdown)

	cfg := NewDefaultConfig()
	server := NewServer(logger, cfg, sessions)

	w := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "postureguard_sessions_active"))
}

package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postureguard-server/pkg/analysis"
	"postureguard-server/pkg/pose"
	"postureguard-server/pkg/session"
)

type wsTestEnv struct {
	ts       *httptest.Server
	hub      *PostureHub
	sessions *session.Manager
	mock     *pose.MockProvider
}

func newWSEnv(t *testing.T) *wsTestEnv {
	t.Helper()

	mock := pose.NewMockProvider(testLogger())
	env := newWSEnvWithProvider(t, mock)
	env.mock = mock
	return env
}

// newWSEnvWithProvider builds the environment around a caller-supplied
// estimation provider; it must answer to the name "mock".
func newWSEnvWithProvider(t *testing.T, provider pose.Provider) *wsTestEnv {
	t.Helper()
	logger := testLogger()

	providers := pose.NewProviderManager(logger, "mock")
	require.NoError(t, providers.RegisterProvider(provider))

	analyzer := analysis.NewAnalyzer(logger, analysis.DefaultThresholds())

	sessions := session.NewManager(logger, nil)
	t.Cleanup(sessions.Shutdown)

	hub := NewPostureHub(logger, sessions, providers, analyzer, analysis.NewResultService(logger))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	cfg := NewDefaultConfig()
	cfg.EnableMetrics = false
	server := NewServer(logger, cfg, sessions)
	server.SetWebSocketHub(hub)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &wsTestEnv{ts: ts, hub: hub, sessions: sessions}
}

// dial opens a client connection; query must be empty or start with "?".
func (env *wsTestEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, map[string]interface{}) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg.Event, msg.Data
}

func sendEventMessage(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func TestWebSocketConnectEmitsWelcome(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")

	event, data := readEvent(t, conn)
	assert.Equal(t, "connected", event)
	assert.Equal(t, "Connected to PostureGuard AI", data["status"])
}

func TestWebSocketSessionLifecycle(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")

	event, _ := readEvent(t, conn)
	require.Equal(t, "connected", event)

	sendEventMessage(t, conn, "start_session", map[string]string{"activity": "desk_sitting"})

	event, data := readEvent(t, conn)
	require.Equal(t, "session_started", event)
	sessionID, _ := data["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "desk_sitting", data["activity"])
	assert.Equal(t, "Started monitoring desk_sitting posture", data["message"])

	sendEventMessage(t, conn, "frame_data", map[string]string{"image": frameImage()})

	event, data = readEvent(t, conn)
	require.Equal(t, "posture_result", event)
	assert.Equal(t, sessionID, data["session_id"])

	result, ok := data["result"].(map[string]interface{})
	require.True(t, ok, "posture_result carries the result object")
	assert.NotEmpty(t, result["status"])
	assert.Contains(t, result, "confidence")
	assert.Contains(t, result, "keypoints")

	sendEventMessage(t, conn, "stop_session", map[string]string{})

	event, data = readEvent(t, conn)
	require.Equal(t, "session_stopped", event)
	assert.Equal(t, sessionID, data["session_id"])

	stats, ok := data["statistics"].(map[string]interface{})
	require.True(t, ok, "session_stopped carries statistics")
	assert.Equal(t, float64(1), stats["total_frames"])
	assert.Equal(t, float64(1), stats["frames_analyzed"])
	assert.Equal(t, "desk_sitting", stats["activity"])
}

func TestWebSocketFrameWithoutImage(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")
	readEvent(t, conn)

	sendEventMessage(t, conn, "frame_data", map[string]string{})

	event, data := readEvent(t, conn)
	assert.Equal(t, "error", event)
	assert.Equal(t, "No image data received", data["message"])
}

func TestWebSocketFrameMalformedBase64(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")
	readEvent(t, conn)

	sendEventMessage(t, conn, "frame_data", map[string]string{"image": "%%% not base64 %%%"})

	event, data := readEvent(t, conn)
	assert.Equal(t, "error", event)
	assert.Equal(t, "Invalid image data", data["message"])
}

func TestWebSocketFrameWithoutSessionStillAnalyzes(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")
	readEvent(t, conn)

	// No start_session: the frame is analyzed with the default activity and
	// nothing is ingested anywhere.
	sendEventMessage(t, conn, "frame_data", map[string]string{"image": frameImage()})

	event, data := readEvent(t, conn)
	require.Equal(t, "posture_result", event)
	assert.Equal(t, "", data["session_id"])
	result, ok := data["result"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, result["status"])
	assert.Equal(t, 0, env.sessions.ActiveCount())
}

func TestWebSocketUnknownEvent(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")
	readEvent(t, conn)

	sendEventMessage(t, conn, "dance", map[string]string{})

	event, data := readEvent(t, conn)
	assert.Equal(t, "error", event)
	assert.Equal(t, "Unknown event: dance", data["message"])
}

func TestWebSocketInvalidEnvelope(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("definitely not json")))

	event, data := readEvent(t, conn)
	assert.Equal(t, "error", event)
	assert.Equal(t, "Invalid message format", data["message"])
}

func TestWebSocketStopUnknownSessionAnswers(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")
	readEvent(t, conn)

	sendEventMessage(t, conn, "stop_session", map[string]string{"session_id": "ghost"})

	event, data := readEvent(t, conn)
	require.Equal(t, "session_stopped", event)
	assert.Equal(t, "ghost", data["session_id"])

	stats, ok := data["statistics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), stats["total_frames"])
}

func TestWebSocketMonitorReceivesBroadcast(t *testing.T) {
	env := newWSEnv(t)

	producer := env.dial(t, "")
	event, _ := readEvent(t, producer)
	require.Equal(t, "connected", event)

	sendEventMessage(t, producer, "start_session", map[string]string{"session_id": "shared-watch"})
	event, _ = readEvent(t, producer)
	require.Equal(t, "session_started", event)

	// The query parameter subscribes the monitor during registration, so it
	// observes every frame that follows.
	monitor := env.dial(t, "?session_id=shared-watch")
	event, _ = readEvent(t, monitor)
	require.Equal(t, "connected", event)

	sendEventMessage(t, producer, "frame_data", map[string]string{"image": frameImage()})

	event, data := readEvent(t, producer)
	require.Equal(t, "posture_result", event)
	require.Equal(t, "shared-watch", data["session_id"])

	event, data = readEvent(t, monitor)
	require.Equal(t, "posture_result", event)
	assert.Equal(t, "shared-watch", data["session_id"])
	_, ok := data["result"].(map[string]interface{})
	assert.True(t, ok)
}

func TestWebSocketSubscribeAndUnsubscribe(t *testing.T) {
	env := newWSEnv(t)

	monitor := env.dial(t, "")
	event, _ := readEvent(t, monitor)
	require.Equal(t, "connected", event)

	sendEventMessage(t, monitor, "subscribe", map[string]string{"session_id": "sub-target"})
	require.Eventually(t, func() bool {
		return subscriberCount(env.hub, "sub-target") == 1
	}, 2*time.Second, 10*time.Millisecond, "subscription should register")

	producer := env.dial(t, "")
	readEvent(t, producer)
	sendEventMessage(t, producer, "start_session", map[string]string{"session_id": "sub-target"})
	readEvent(t, producer)

	sendEventMessage(t, producer, "frame_data", map[string]string{"image": frameImage()})
	readEvent(t, producer)

	event, data := readEvent(t, monitor)
	require.Equal(t, "posture_result", event)
	assert.Equal(t, "sub-target", data["session_id"])

	sendEventMessage(t, monitor, "unsubscribe", map[string]string{"session_id": "sub-target"})
	require.Eventually(t, func() bool {
		return subscriberCount(env.hub, "sub-target") == 0
	}, 2*time.Second, 10*time.Millisecond, "unsubscribe should deregister")

	sendEventMessage(t, producer, "frame_data", map[string]string{"image": frameImage()})
	readEvent(t, producer)

	// The monitor must stay silent now
	require.NoError(t, monitor.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := monitor.ReadMessage()
	assert.Error(t, err, "unsubscribed monitor should receive nothing")
}

func TestWebSocketSubscribeRequiresSessionID(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "")
	readEvent(t, conn)

	sendEventMessage(t, conn, "subscribe", map[string]string{})

	event, data := readEvent(t, conn)
	assert.Equal(t, "error", event)
	assert.Equal(t, "session_id required", data["message"])
}

func TestWebSocketHubClientTracking(t *testing.T) {
	env := newWSEnv(t)
	require.True(t, env.hub.IsRunning())

	conn := env.dial(t, "")
	readEvent(t, conn)

	require.Eventually(t, func() bool {
		return env.hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return env.hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketSlowMonitorDroppedFromAllSessions(t *testing.T) {
	env := newWSEnv(t)

	// A monitor that never drains its send queue, watching two sessions.
	slow := &Client{hub: env.hub, send: make(chan []byte, 1), logger: testLogger()}
	env.hub.mutex.Lock()
	env.hub.clients[slow] = true
	env.hub.subscribeLocked(slow, "drill-a")
	env.hub.subscribeLocked(slow, "drill-b")
	env.hub.mutex.Unlock()

	payload := map[string]string{"session_id": "drill-a"}

	// The first result fills the queue; the second overflows it and the
	// hub drops the monitor.
	env.hub.BroadcastResult("drill-a", payload, nil)
	env.hub.BroadcastResult("drill-a", payload, nil)

	require.Eventually(t, func() bool {
		return env.hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "slow monitor should be dropped")

	// The drop must clear every session the monitor watched, not just the
	// one whose broadcast overflowed.
	assert.Equal(t, 0, subscriberCount(env.hub, "drill-a"))
	assert.Equal(t, 0, subscriberCount(env.hub, "drill-b"))

	// A result for the other session must not reach the dropped monitor's
	// closed channel.
	env.hub.BroadcastResult("drill-b", payload, nil)

	// The hub is still serving after the fan-out.
	conn := env.dial(t, "")
	event, _ := readEvent(t, conn)
	assert.Equal(t, "connected", event)
}

// ctxRecordingProvider captures the context each detection runs under.
type ctxRecordingProvider struct {
	*pose.MockProvider
	detectCtx chan context.Context
}

func (p *ctxRecordingProvider) DetectPose(ctx context.Context, image []byte) ([]pose.RawLandmark, error) {
	p.detectCtx <- ctx
	return p.MockProvider.DetectPose(ctx, image)
}

func TestWebSocketFrameDetectBoundToConnection(t *testing.T) {
	provider := &ctxRecordingProvider{
		MockProvider: pose.NewMockProvider(testLogger()),
		detectCtx:    make(chan context.Context, 4),
	}
	env := newWSEnvWithProvider(t, provider)

	conn := env.dial(t, "")
	readEvent(t, conn)

	sendEventMessage(t, conn, "frame_data", map[string]string{"image": frameImage()})
	event, _ := readEvent(t, conn)
	require.Equal(t, "posture_result", event)

	var frameCtx context.Context
	select {
	case frameCtx = <-provider.detectCtx:
	case <-time.After(2 * time.Second):
		t.Fatal("detection context was not captured")
	}

	// The connection is open, so the detection context is live.
	require.NoError(t, frameCtx.Err())

	// Closing the connection ends it.
	conn.Close()
	require.Eventually(t, func() bool {
		return frameCtx.Err() != nil
	}, 2*time.Second, 10*time.Millisecond, "detection context should end with its connection")
}

// subscriberCount reads the monitor set size for a session.
func subscriberCount(h *PostureHub, sessionID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessionSubscribers[sessionID])
}

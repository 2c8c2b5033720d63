package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/analysis"
	"postureguard-server/pkg/metrics"
	"postureguard-server/pkg/pose"
	"postureguard-server/pkg/session"
)

const (
	// wsWriteWait bounds a single write to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long the connection may stay silent before the
	// read side gives up. Pings go out at wsPingPeriod to keep it alive.
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsMaxMessageSize allows base64-encoded camera frames, which run to
	// a few megabytes at typical webcam resolutions.
	wsMaxMessageSize = 10 << 20

	// wsSendBuffer is the per-client outbound queue. Clients that fall
	// this far behind are dropped.
	wsSendBuffer = 256
)

// WSMessage is the envelope every WebSocket message travels in, both
// directions: an event name plus an event-specific payload.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type startSessionRequest struct {
	SessionID string `json:"session_id"`
	Activity  string `json:"activity"`
}

type frameDataRequest struct {
	SessionID string `json:"session_id"`
	Image     string `json:"image"`
	Activity  string `json:"activity"`
}

type stopSessionRequest struct {
	SessionID string `json:"session_id"`
}

type subscribeRequest struct {
	SessionID string `json:"session_id"`
}

// Client represents a connected WebSocket client
type Client struct {
	hub    *PostureHub
	conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Logger

	// ctx lives as long as the connection; either pump cancels it on the
	// way out so an in-flight estimator call cannot outlive its client.
	ctx    context.Context
	cancel context.CancelFunc

	// sessionID is the client's current session, set by start_session or
	// the session_id query parameter. frame_data and stop_session fall
	// back to it when their payload omits an id.
	sessionID string
}

// resultBroadcast carries one pre-marshaled posture_result envelope to the
// monitors of a session.
type resultBroadcast struct {
	sessionID string
	payload   []byte
	exclude   *Client
}

// PostureHub manages WebSocket clients: live analysis sessions and
// read-only monitors subscribed to other sessions' results.
type PostureHub struct {
	logger             *logrus.Logger
	sessions           *session.Manager
	providers          *pose.ProviderManager
	analyzer           *analysis.Analyzer
	results            *analysis.ResultService
	clients            map[*Client]bool
	sessionSubscribers map[string]map[*Client]bool
	broadcast          chan *resultBroadcast
	register           chan *Client
	unregister         chan *Client
	done               chan struct{}
	running            bool
	mutex              sync.RWMutex
}

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all connections
		return true
	},
}

// NewPostureHub creates a new posture session hub
func NewPostureHub(logger *logrus.Logger, sessions *session.Manager, providers *pose.ProviderManager, analyzer *analysis.Analyzer, results *analysis.ResultService) *PostureHub {
	return &PostureHub{
		logger:             logger,
		sessions:           sessions,
		providers:          providers,
		analyzer:           analyzer,
		results:            results,
		clients:            make(map[*Client]bool),
		sessionSubscribers: make(map[string]map[*Client]bool),
		broadcast:          make(chan *resultBroadcast),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		done:               make(chan struct{}),
	}
}

// Run starts the posture hub
func (h *PostureHub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket posture hub")

	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	defer func() {
		h.mutex.Lock()
		h.running = false
		h.mutex.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket posture hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true

			// A session_id query parameter doubles as a monitor
			// subscription to that session.
			if client.sessionID != "" {
				h.subscribeLocked(client, client.sessionID)
				h.logger.WithField("session_id", client.sessionID).Info("Client subscribed to session")
			}

			h.mutex.Unlock()

			metrics.WSClientConnected()
			h.logger.Info("Client connected to WebSocket")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				close(client.send)
				h.dropClientLocked(client)

				metrics.WSClientDisconnected()
				h.logger.Info("Client disconnected from WebSocket")
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			subscribers := h.sessionSubscribers[message.sessionID]
			for client := range subscribers {
				if client == message.exclude {
					continue
				}
				select {
				case client.send <- message.payload:
					metrics.RecordWSEvent("posture_result", "outbound")
				default:
					// Slow client, drop it from every session it
					// monitors; a send channel closed here must never
					// be reachable from another session's set.
					close(client.send)
					h.dropClientLocked(client)
					metrics.WSClientDisconnected()
				}
			}
			if len(subscribers) == 0 {
				delete(h.sessionSubscribers, message.sessionID)
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastResult fans a posture result out to the monitors of a session.
// The producing client is excluded; it already received a direct reply.
func (h *PostureHub) BroadcastResult(sessionID string, payload interface{}, exclude *Client) {
	if sessionID == "" {
		return
	}

	data, err := json.Marshal(wsEnvelope{Event: "posture_result", Data: payload})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal posture result broadcast")
		return
	}

	select {
	case h.broadcast <- &resultBroadcast{sessionID: sessionID, payload: data, exclude: exclude}:
	case <-h.done:
	}
}

// Subscribe adds a client to a session's monitor set
func (h *PostureHub) Subscribe(client *Client, sessionID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.subscribeLocked(client, sessionID)
}

// Unsubscribe removes a client from a session's monitor set
func (h *PostureHub) Unsubscribe(client *Client, sessionID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if subscribers, exists := h.sessionSubscribers[sessionID]; exists {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.sessionSubscribers, sessionID)
		}
	}
}

func (h *PostureHub) subscribeLocked(client *Client, sessionID string) {
	if _, exists := h.sessionSubscribers[sessionID]; !exists {
		h.sessionSubscribers[sessionID] = make(map[*Client]bool)
	}
	h.sessionSubscribers[sessionID][client] = true
}

// dropClientLocked removes a client from the client map and from every
// session it monitors, pruning emptied monitor sets. The caller holds
// h.mutex and owns closing the client's send channel.
func (h *PostureHub) dropClientLocked(client *Client) {
	delete(h.clients, client)
	for sid, subscribers := range h.sessionSubscribers {
		if _, subscribed := subscribers[client]; subscribed {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.sessionSubscribers, sid)
			}
		}
	}
}

// IsRunning returns true if the hub is running
func (h *PostureHub) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// ClientCount returns the number of connected clients
func (h *PostureHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS handles WebSocket requests from clients
func (h *PostureHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		logger: h.logger,
		ctx:    ctx,
		cancel: cancel,

		// Optional: attach to an existing session as a monitor
		sessionID: r.URL.Query().Get("session_id"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	client.sendEvent("connected", map[string]string{
		"status": "Connected to PostureGuard AI",
	})
}

// readPump reads client events from the WebSocket connection and dispatches
// them. One goroutine per connection.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}

		c.handleMessage(c.ctx, data)
	}
}

// handleMessage dispatches one inbound envelope
func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		c.sendError("Invalid message format")
		return
	}

	metrics.RecordWSEvent(msg.Event, "inbound")

	switch msg.Event {
	case "start_session":
		c.handleStartSession(msg.Data)
	case "frame_data":
		c.handleFrameData(ctx, msg.Data)
	case "stop_session":
		c.handleStopSession(msg.Data)
	case "subscribe":
		c.handleSubscribe(msg.Data)
	case "unsubscribe":
		c.handleUnsubscribe(msg.Data)
	default:
		c.sendError(fmt.Sprintf("Unknown event: %s", msg.Event))
	}
}

func (c *Client) handleStartSession(data json.RawMessage) {
	var req startSessionRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("Invalid message format")
			return
		}
	}

	activity, err := analysis.ParseActivity(req.Activity)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	sess := c.hub.sessions.Start(req.SessionID, activity)
	c.sessionID = sess.ID

	c.sendEvent("session_started", map[string]interface{}{
		"session_id": sess.ID,
		"activity":   activity.String(),
		"message":    fmt.Sprintf("Started monitoring %s posture", activity.String()),
	})
}

func (c *Client) handleFrameData(ctx context.Context, data json.RawMessage) {
	var req frameDataRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Image == "" {
		c.sendError("No image data received")
		return
	}

	image, err := decodeImagePayload(req.Image)
	if err != nil {
		c.sendError("Invalid image data")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.sessionID
	}
	sess, exists := c.hub.sessions.Get(sessionID)

	// Per-frame activity wins, then the session's, then the default
	var activity analysis.Activity
	if req.Activity != "" {
		activity, err = analysis.ParseActivity(req.Activity)
		if err != nil {
			c.sendError(err.Error())
			return
		}
	} else if exists {
		activity = sess.Activity
	} else {
		activity = analysis.ActivitySquat
	}

	landmarks, err := c.hub.providers.Detect(ctx, "", image)
	if err != nil {
		c.logger.WithError(err).WithField("session_id", sessionID).Error("Pose estimation failed for frame data")
		c.sendError("Failed to process frame")
		return
	}

	result := c.hub.analyzer.Analyze(landmarks, activity)

	if exists {
		c.hub.sessions.Ingest(sessionID, result)
		if c.hub.results != nil {
			c.hub.results.Publish(sessionID, activity, result)
		}
	}

	payload := map[string]interface{}{
		"session_id": sessionID,
		"result":     result,
	}
	c.sendEvent("posture_result", payload)
	c.hub.BroadcastResult(sessionID, payload, c)
}

func (c *Client) handleStopSession(data json.RawMessage) {
	var req stopSessionRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("Invalid message format")
			return
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.sessionID
	}

	// Unknown ids still answer, with zeroed statistics
	summary := c.hub.sessions.Stop(sessionID)

	c.sendEvent("session_stopped", map[string]interface{}{
		"session_id": sessionID,
		"statistics": summary,
	})
}

func (c *Client) handleSubscribe(data json.RawMessage) {
	var req subscribeRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		c.sendError("session_id required")
		return
	}

	c.hub.Subscribe(c, req.SessionID)
	c.logger.WithField("session_id", req.SessionID).Debug("Client subscribed to session results")
}

func (c *Client) handleUnsubscribe(data json.RawMessage) {
	var req subscribeRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		c.sendError("session_id required")
		return
	}

	c.hub.Unsubscribe(c, req.SessionID)
	c.logger.WithField("session_id", req.SessionID).Debug("Client unsubscribed from session results")
}

// sendEvent queues one outbound envelope for the client
func (c *Client) sendEvent(event string, data interface{}) {
	payload, err := json.Marshal(wsEnvelope{Event: event, Data: data})
	if err != nil {
		c.logger.WithError(err).WithField("event", event).Error("Failed to marshal WebSocket event")
		return
	}

	metrics.RecordWSEvent(event, "outbound")

	select {
	case c.send <- payload:
	default:
		// Slow client, let the hub drop it
		c.logger.Warn("WebSocket send buffer full, dropping client")
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}
}

func (c *Client) sendError(message string) {
	c.sendEvent("error", map[string]string{"message": message})
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		c.cancel()
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One envelope per WebSocket message so clients can decode
			// each frame independently
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

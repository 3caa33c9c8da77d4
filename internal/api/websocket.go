package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetgate/fleetgate-core/internal/auth"
	"github.com/fleetgate/fleetgate-core/internal/fleet"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/config"
	"github.com/fleetgate/fleetgate-core/internal/infrastructure/logging"
)

// WebSocket close codes handed to clients during connect. Clients use
// them to pick a recovery path: re-supply a token vs refresh and
// reconnect.
const (
	// WSCloseNoToken means no access token was presented.
	WSCloseNoToken = 4001

	// WSCloseBadToken means the presented token failed verification.
	WSCloseBadToken = 4002
)

// WebSocket message types.
const (
	WSTypeSubscribe    = "subscribe"
	WSTypeUnsubscribe  = "unsubscribe"
	WSTypePing         = "ping"
	WSTypeConnected    = "connected"
	WSTypeSubscribed   = "subscribed"
	WSTypeUnsubscribed = "unsubscribed"
	WSTypePong         = "pong"
	WSTypeError        = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// scopeLookupTimeout bounds the inventory lookup behind a device
// subscription.
const scopeLookupTimeout = 5 * time.Second

// WSMessage is the wire envelope for every hub message in either
// direction.
type WSMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WSChannelPayload is the payload for subscribe/unsubscribe messages.
// The channel key is "fleet:<id>" or "device:<id>".
type WSChannelPayload struct {
	Channel string `json:"channel"`
}

// RegulatorScopes resolves a regulator's fleet and owner for
// subscription authorisation. Satisfied by fleet.Repository.
type RegulatorScopes interface {
	GetRegulatorScope(ctx context.Context, id string) (*fleet.Scope, error)
}

// Hub manages realtime connections and their channel subscriptions, and
// fans domain events out to subscribers. It implements
// fleet.EventPublisher.
//
// All state lives behind one mutex: channel key to subscriber set, and
// connection id to client handle. The hub is an injectable component so
// each test run constructs its own.
type Hub struct {
	cfg    config.WebSocketConfig
	scopes RegulatorScopes
	logger *logging.Logger

	mu       sync.Mutex
	channels map[string]map[string]*wsClient
	clients  map[string]*wsClient
}

// wsClient is one realtime connection.
type wsClient struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	claims *auth.AccessClaims

	// alive is cleared by the hub's probe loop and set again by any
	// client activity. Guarded by hub.mu.
	alive bool

	// subscriptions mirrors the hub's channel maps for fast unwinding.
	// Guarded by hub.mu.
	subscriptions map[string]struct{}
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a realtime hub.
func NewHub(cfg config.WebSocketConfig, scopes RegulatorScopes, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		scopes:   scopes,
		logger:   logger.With("component", "hub"),
		channels: make(map[string]map[string]*wsClient),
		clients:  make(map[string]*wsClient),
	}
}

// Run drives the liveness probe loop until the context is cancelled,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	interval := time.Duration(h.cfg.ProbeInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.probe()
		}
	}
}

// probe force-closes connections that have been silent for a full probe
// interval and arms the next round. Clients prove liveness with a pong,
// a ping message, or any other traffic.
func (h *Hub) probe() {
	h.mu.Lock()
	var dead []*wsClient
	for _, client := range h.clients {
		if !client.alive {
			dead = append(dead, client)
			continue
		}
		client.alive = false
	}
	h.mu.Unlock()

	for _, client := range dead {
		h.logger.Info("closing silent connection", "connection_id", client.id)
		h.Unregister(client)
		client.conn.Close()
	}
}

// Register adds a client and auto-subscribes fleet-tier roles to their
// fleet channel. It returns the channels the client was subscribed to.
func (h *Hub) Register(client *wsClient) []string {
	var autoChannels []string
	if auth.TierOf(client.claims.Role) == auth.TierFleet && client.claims.FleetID != nil {
		autoChannels = append(autoChannels, fleet.FleetChannel(*client.claims.FleetID))
	}

	h.mu.Lock()
	h.clients[client.id] = client
	client.alive = true
	for _, ch := range autoChannels {
		h.addSubscription(client, ch)
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("realtime client connected",
		"connection_id", client.id, "user_id", client.claims.UserID, "clients", total)
	return autoChannels
}

// Unregister removes a client and unwinds every subscription, leaving no
// residue in any channel's subscriber set. Only the goroutine that
// removes the client from the map closes the send channel, preventing
// double-close panics during shutdown.
func (h *Hub) Unregister(client *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[client.id]
	delete(h.clients, client.id)
	for ch := range client.subscriptions {
		h.dropSubscription(client, ch)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("realtime client disconnected", "connection_id", client.id, "clients", total)
}

// addSubscription records a subscription. Caller holds h.mu.
func (h *Hub) addSubscription(client *wsClient, channel string) {
	subscribers, ok := h.channels[channel]
	if !ok {
		subscribers = make(map[string]*wsClient)
		h.channels[channel] = subscribers
	}
	subscribers[client.id] = client
	client.subscriptions[channel] = struct{}{}
}

// dropSubscription removes a subscription. Caller holds h.mu.
func (h *Hub) dropSubscription(client *wsClient, channel string) {
	delete(client.subscriptions, channel)
	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, client.id)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Subscribe authorises and records a channel subscription for a client.
// It returns an error message for the client on denial; the connection
// stays open either way.
func (h *Hub) Subscribe(client *wsClient, channel string) (errMessage string) {
	kind, id, found := strings.Cut(channel, ":")
	if !found || id == "" {
		return "malformed channel key"
	}

	switch kind {
	case "fleet":
		if !auth.CanAccessFleet(client.claims, id) {
			return "not authorised for this fleet channel"
		}
	case "device":
		if !h.canAccessDevice(client.claims, id) {
			return "not authorised for this device channel"
		}
	default:
		return "unknown channel kind: " + kind
	}

	h.mu.Lock()
	h.addSubscription(client, channel)
	h.mu.Unlock()

	h.logger.Debug("subscribed", "connection_id", client.id, "channel", channel)
	return ""
}

// canAccessDevice gates a device channel: ownership claims first (no
// lookup needed), then the regulator's current fleet and owner.
func (h *Hub) canAccessDevice(claims *auth.AccessClaims, regulatorID string) bool {
	if auth.OwnsRegulator(claims, regulatorID) {
		return true
	}
	if h.scopes == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), scopeLookupTimeout)
	defer cancel()

	scope, err := h.scopes.GetRegulatorScope(ctx, regulatorID)
	if err != nil {
		return false
	}
	return auth.CanAccessRegulator(claims, scope.FleetID, scope.OwnerUserID)
}

// Unsubscribe removes a channel subscription.
func (h *Hub) Unsubscribe(client *wsClient, channel string) {
	h.mu.Lock()
	h.dropSubscription(client, channel)
	h.mu.Unlock()
}

// Broadcast fans an event out to every connection subscribed to any of
// the channels. Delivery is best-effort with no backlog: a slow or gone
// subscriber misses the event.
func (h *Hub) Broadcast(eventType string, payload any, channels ...string) {
	data, err := json.Marshal(WSMessage{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("marshalling broadcast failed", "event", eventType, "error", err)
		return
	}

	// Snapshot recipients under the lock, deduplicated across channels,
	// then send outside it.
	h.mu.Lock()
	recipients := make(map[string]*wsClient)
	for _, ch := range channels {
		for id, client := range h.channels[ch] {
			recipients[id] = client
		}
	}
	h.mu.Unlock()

	for _, client := range recipients {
		client.trySend(data)
	}
	if len(recipients) > 0 {
		h.logger.Debug("broadcast sent", "event", eventType, "recipients", len(recipients))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// markAlive records client activity for the probe loop.
func (h *Hub) markAlive(client *wsClient) {
	h.mu.Lock()
	client.alive = true
	h.mu.Unlock()
}

// closeAll disconnects every client and empties the subscription maps.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.Unregister(client)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the connection and authenticates it with the
// access token from the `token` query parameter. The upgrade happens
// first so the close code can tell the client why it was rejected:
// 4001 for a missing token, 4002 for one that fails verification.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		closeWithCode(conn, WSCloseNoToken, "access token required")
		return
	}

	claims, err := s.auth.ValidateAccessToken(token)
	if err != nil {
		s.logger.Debug("websocket token rejected", "reason", err)
		closeWithCode(conn, WSCloseBadToken, "invalid or expired token")
		return
	}

	client := &wsClient{
		id:            uuid.NewString(),
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		claims:        claims,
		subscriptions: make(map[string]struct{}),
	}

	autoChannels := s.hub.Register(client)
	client.sendEvent(WSTypeConnected, map[string]any{
		"connection_id": client.id,
		"channels":      autoChannels,
	})

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// closeWithCode sends a close frame with the given code and closes the
// connection.
func closeWithCode(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	//nolint:errcheck // Best-effort close message
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// readPump reads messages from the connection until it drops.
func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	c.conn.SetPongHandler(func(string) error {
		c.hub.markAlive(c)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "connection_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "connection_id", c.id, "error", err)
			}
			return
		}
		c.hub.markAlive(c)
		c.handleMessage(message)
	}
}

// writePump writes outbound messages and protocol pings.
func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	probeInterval := time.Duration(cfg.ProbeInterval) * time.Second
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	writeTimeout := time.Duration(cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	ticker := time.NewTicker(probeInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one inbound client message.
func (c *wsClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		channel, ok := c.channelFrom(msg)
		if !ok {
			return
		}
		if errMessage := c.hub.Subscribe(c, channel); errMessage != "" {
			c.sendError(errMessage)
			return
		}
		c.sendEvent(WSTypeSubscribed, WSChannelPayload{Channel: channel})
	case WSTypeUnsubscribe:
		channel, ok := c.channelFrom(msg)
		if !ok {
			return
		}
		c.hub.Unsubscribe(c, channel)
		c.sendEvent(WSTypeUnsubscribed, WSChannelPayload{Channel: channel})
	case WSTypePing:
		c.sendEvent(WSTypePong, nil)
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// channelFrom extracts the channel key from a subscribe/unsubscribe
// payload, reporting malformed payloads to the client.
func (c *wsClient) channelFrom(msg WSMessage) (string, bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError("invalid payload")
		return "", false
	}

	var payload WSChannelPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Channel == "" {
		c.sendError("payload must carry a channel key")
		return "", false
	}
	return payload.Channel, true
}

// trySend attempts to queue data for the client. It silently handles
// closed channels (client disconnected during broadcast) and full
// buffers (slow client).
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// sendEvent queues a hub event for the client.
func (c *wsClient) sendEvent(eventType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError queues an error event for the client.
func (c *wsClient) sendError(message string) {
	c.sendEvent(WSTypeError, map[string]string{"message": message})
}

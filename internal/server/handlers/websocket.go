// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tides/internal/domain/docstore"
	"tides/internal/domain/geo"
	"tides/internal/domain/identity"
	"tides/internal/service/feed"
	geoservice "tides/internal/service/geo"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 64 * 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the gateway in front of the service
		return true
	},
}

// FeedHubConfig contains configuration for per-connection feeds
type FeedHubConfig struct {
	Feed      feed.Config
	Tracker   geoservice.TrackerConfig
	WebSocket WebSocketConfig
}

// FeedHub streams moderated feeds over WebSocket connections. Each
// connection owns one feed manager and one location tracker.
type FeedHub struct {
	store  docstore.Store
	users  identity.Service
	config FeedHubConfig
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]map[*feedClient]struct{}
}

// NewFeedHub creates a new feed hub
func NewFeedHub(store docstore.Store, users identity.Service, config FeedHubConfig, logger zerolog.Logger) *FeedHub {
	if config.WebSocket == (WebSocketConfig{}) {
		config.WebSocket = DefaultWebSocketConfig()
	}
	return &FeedHub{
		store:   store,
		users:   users,
		config:  config,
		logger:  logger.With().Str("component", "feed_hub").Logger(),
		clients: make(map[string]map[*feedClient]struct{}),
	}
}

// feedClient represents a connected WebSocket client
type feedClient struct {
	id      string
	hub     *FeedHub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	session *identity.Session
	feeds   *feed.Manager
	tracker *geoservice.Tracker
	logger  zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// inbound is a client request
type inbound struct {
	Type      string  `json:"type"`
	Feed      string  `json:"feed,omitempty"`
	ID        string  `json:"id,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// outbound is a server push
type outbound struct {
	Type     string           `json:"type"`
	Feed     string           `json:"feed,omitempty"`
	Items    interface{}      `json:"items,omitempty"`
	Dropped  int              `json:"dropped,omitempty"`
	Error    string           `json:"error,omitempty"`
	Box      *geo.BoundingBox `json:"box,omitempty"`
	ClientID string           `json:"clientId,omitempty"`
	Time     time.Time        `json:"time"`
}

// ServeHTTP upgrades the connection and starts streaming. The session must
// already be in the request context.
func (h *FeedHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Missing session", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade to WebSocket")
		return
	}

	// The connection outlives the request, so its context is independent of r
	ctx, cancel := context.WithCancel(context.Background())
	client := &feedClient{
		id:      uuid.NewString(),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
		session: session,
		ctx:     ctx,
		cancel:  cancel,
	}
	client.logger = h.logger.With().Str("client_id", client.id).Str("user_id", session.UserID).Logger()
	client.feeds = feed.NewManager(h.store, session, h.config.Feed, h.logger)
	client.tracker = geoservice.NewTracker(client.feeds, h.config.Tracker, h.logger)

	h.register(client)

	go client.writePump()
	go client.readPump()
	go client.tracker.Run(ctx)

	client.push(outbound{Type: "welcome", ClientID: client.id, Time: time.Now()})
	client.logger.Info().Msg("feed connection opened")
}

// BlocksChanged reloads the block sets of every connection of userID and
// re-issues their live feeds
func (h *FeedHub) BlocksChanged(ctx context.Context, userID string) {
	h.mu.Lock()
	clients := make([]*feedClient, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.refresh(ctx)
	}
}

// Connections returns the number of open connections of userID
func (h *FeedHub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients[userID])
}

func (h *FeedHub) register(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.session.UserID] == nil {
		h.clients[c.session.UserID] = make(map[*feedClient]struct{})
	}
	h.clients[c.session.UserID][c] = struct{}{}
}

func (h *FeedHub) unregister(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients[c.session.UserID], c)
	if len(h.clients[c.session.UserID]) == 0 {
		delete(h.clients, c.session.UserID)
	}
}

// readPump reads client requests until the connection fails
func (c *feedClient) readPump() {
	config := c.hub.config.WebSocket

	defer c.close()

	c.conn.SetReadLimit(config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		c.processIncomingMessage(message)
	}
}

// writePump pumps queued pushes to the WebSocket connection
func (c *feedClient) writePump() {
	config := c.hub.config.WebSocket
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues msg, blocking while the peer is slow and giving up once the
// connection is closed
func (c *feedClient) push(msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to encode push")
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *feedClient) pushError(err error) {
	c.push(outbound{Type: "error", Error: err.Error(), Time: time.Now()})
}

// sink converts feed events into pushes
func (c *feedClient) sink(e feed.Event) {
	msg := outbound{
		Type:    string(e.Status),
		Feed:    string(e.Kind),
		Dropped: e.Dropped,
		Time:    time.Now(),
	}

	switch {
	case e.Status == feed.StatusFailed:
		if e.Err != nil {
			msg.Error = e.Err.Error()
		}
	case e.Tides != nil:
		msg.Items = e.Tides
	case e.Messages != nil:
		msg.Items = e.Messages
	}

	c.push(msg)
}

// processIncomingMessage dispatches one client request
func (c *feedClient) processIncomingMessage(message []byte) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse websocket message")
		c.push(outbound{Type: "error", Error: "invalid message", Time: time.Now()})
		return
	}

	switch msg.Type {
	case "location":
		c.handleLocation(msg)
	case "attach":
		c.handleAttach(msg)
	case "detach":
		c.handleDetach(msg)
	case "refresh":
		c.refresh(c.ctx)
	default:
		c.push(outbound{Type: "error", Error: "unknown message type " + msg.Type, Time: time.Now()})
	}
}

func (c *feedClient) handleLocation(msg inbound) {
	location := geo.Coordinate{Latitude: msg.Latitude, Longitude: msg.Longitude}
	if err := c.tracker.Update(c.ctx, location); err != nil {
		c.pushError(err)
		return
	}

	box, err := c.tracker.Box()
	if err != nil {
		c.pushError(err)
		return
	}
	c.push(outbound{Type: "location", Box: &box, Time: time.Now()})
}

func (c *feedClient) handleAttach(msg inbound) {
	kind := feed.Kind(msg.Feed)

	var err error
	switch kind {
	case feed.NearbyTides, feed.GeoChat:
		err = c.tracker.Follow(c.ctx, kind, c.sink)
	default:
		_, err = c.feeds.Attach(c.ctx, kind, feed.Params{TideID: msg.ID}, c.sink)
	}
	if err != nil {
		c.pushError(err)
	}
}

func (c *feedClient) handleDetach(msg inbound) {
	kind := feed.Kind(msg.Feed)
	c.tracker.Unfollow(kind)
	c.feeds.DetachKind(kind)
}

func (c *feedClient) refresh(ctx context.Context) {
	if err := c.hub.users.Refresh(ctx, c.session); err != nil {
		c.logger.Warn().Err(err).Msg("failed to refresh block lists")
		c.pushError(err)
		return
	}
	if err := c.feeds.Reattach(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to re-issue feeds")
	}
}

// close tears down the feeds and the connection exactly once
func (c *feedClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.feeds.Close()
		c.hub.unregister(c)
		c.conn.Close()
		c.logger.Info().Msg("feed connection closed")
	})
}

package handlers

import (
	"net/http"
	"time"

	"docstore-cache/internal/middleware"
	"docstore-cache/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsClient implements realtime.Client by wrapping a websocket connection.
type wsClient struct {
	conn *websocket.Conn
}

func (c *wsClient) Send(message []byte) bool {
	if c == nil || c.conn == nil {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return false
	}
	return true
}

func (c *wsClient) Close() {
	if c != nil && c.conn != nil {
		_ = c.conn.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is already handled at Gin level; allow upgrade from any origin here
		return true
	},
}

// EventsHandler streams cache mutation events over websocket.
type EventsHandler struct {
	hub *realtime.Hub
	log *zap.Logger
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(hub *realtime.Hub, log *zap.Logger) *EventsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventsHandler{hub: hub, log: log.Named("events")}
}

// Subscribe upgrades the connection and registers the client to the cache topic.
// It requires JWT middleware to have set "client_id" in context.
// GET /api/events
func (h *EventsHandler) Subscribe(c *gin.Context) {
	clientID := c.GetString(middleware.ClientIDKey)
	if clientID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Client not authorized"})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("client_id", clientID), zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	h.hub.Register(realtime.TopicCache, client)
	h.log.Debug("subscribed", zap.String("client_id", clientID))

	// Heartbeat: send periodic pings; close on error
	pingTicker := time.NewTicker(30 * time.Second)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
					// ping failed; reader loop will exit on next error
					return
				}
			}
		}
	}()
	defer func() {
		close(done)
		pingTicker.Stop()
		h.hub.Unregister(realtime.TopicCache, client)
		client.Close()
		h.log.Debug("unsubscribed", zap.String("client_id", clientID))
	}()

	// Reader loop: drain messages and keep connection alive via pong handler
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			// Normal close or error; exit loop
			return
		}
	}
}

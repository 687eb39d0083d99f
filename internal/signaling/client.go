package signaling

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mirrorbooth/backend/internal/session"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	readLimit    = 65536
	sendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Booth devices connect from kiosk origins; CORS policy is enforced
		// on the HTTP API, the socket accepts any origin.
		return true
	},
}

// Client is a single WebSocket connection. Its role, if any, lives in the
// session registry keyed by ID.
type Client struct {
	ID     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// ServeWs upgrades the request and runs the client loop until disconnect.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:     uuid.New().String(),
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, sendBuffer),
			logger: logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// parseRole accepts both {"role":"recorder"} and a bare "recorder" string,
// which is what the first kiosk firmware sends.
func parseRole(data json.RawMessage) session.Role {
	var obj struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Role != "" {
		return session.Role(obj.Role)
	}
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		return session.Role(plain)
	}
	return ""
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Event {
		case EventRegister:
			c.hub.HandleRegister(c, parseRole(msg.Data))
		case EventModeratorStart:
			c.hub.HandleModeratorStart(c, msg.Data)
		case EventUploadDone:
			var payload struct {
				Key string `json:"key"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.logger.Warn("malformed upload-done payload", zap.String("conn_id", c.ID))
				continue
			}
			c.hub.HandleUploadDone(c, payload.Key)
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

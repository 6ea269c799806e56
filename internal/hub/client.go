package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	pkglog "github.com/MrChampion2020/etokserver/pkg/log"
)

// DisconnectHandler is called after a client has left the registry.
type DisconnectHandler func(*Client)

// Client is one live WebSocket connection bound to a user.
type Client struct {
	ID          string
	UserID      string
	Hub         *Hub
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	mu                sync.Mutex
	closed            bool
	disconnectHandler DisconnectHandler
}

// NewClient creates a client for userID on conn. It is not registered yet.
func NewClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	size := h.config.SendBuffer
	if size <= 0 {
		size = 256
	}
	return &Client{
		ID:          uuid.New().String(),
		UserID:      userID,
		Hub:         h,
		Conn:        conn,
		Send:        make(chan []byte, size),
		ConnectedAt: time.Now().UTC(),
	}
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// enqueue queues data without blocking. It returns false when the buffer
// is full or the client is already closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// SendMessage queues a message for this connection only.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldConnID, c.ID).Str(pkglog.FieldUserID, c.UserID).Msg("direct reply dropped")
	}
	return nil
}

// ReadPump pumps inbound frames to handler until the connection fails.
// The client leaves the registry before the disconnect handler runs.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Conn.Close()
	}()

	cfg := c.Hub.config
	if cfg.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(cfg.MaxMessageSize)
	}
	c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := pkglog.L()
				l.Error().Err(err).Str(pkglog.FieldConnID, c.ID).Msg("websocket error")
			}
			break
		}
		handler(c, message)
	}
}

// WritePump drains Send to the socket and keeps the peer alive with pings.
func (c *Client) WritePump() {
	cfg := c.Hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

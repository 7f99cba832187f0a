package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send small control frames
	maxMessageSize = 4096

	sendBufferSize = 256
)

// Client is one websocket subscriber.
type Client struct {
	ID      string
	renders map[int]bool
	hub     *Hub
	conn    *websocket.Conn
	send    chan *Message
	logger  *zap.Logger
}

// NewClient creates a subscriber following renders, or every render when
// none are given.
func NewClient(hub *Hub, conn *websocket.Conn, log *zap.Logger, renders ...int) *Client {
	c := &Client{
		ID:      uuid.New().String(),
		renders: make(map[int]bool, len(renders)),
		hub:     hub,
		conn:    conn,
		send:    make(chan *Message, sendBufferSize),
		logger:  log,
	}
	for _, id := range renders {
		c.renders[id] = true
	}
	return c
}

// ReadPump handles control frames from the subscriber until the
// connection ends.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
			}
			return
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			c.hub.reply(c, newControlMessage(MessageTypeError, map[string]string{"error": "invalid message"}))
			continue
		}
		c.handleMessage(&message)
	}
}

// WritePump writes queued messages until the hub closes the queue.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Warn("Failed to write message",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message *Message) {
	switch message.Type {
	case MessageTypePing:
		c.hub.reply(c, newControlMessage(MessageTypePong, nil))

	case MessageTypeSubscribe:
		if message.RenderID <= 0 {
			c.hub.reply(c, newControlMessage(MessageTypeError, map[string]string{"error": "renderID required"}))
			return
		}
		c.hub.Subscribe(c, message.RenderID)

	case MessageTypeUnsubscribe:
		c.hub.Unsubscribe(c, message.RenderID)

	default:
		c.logger.Debug("Unknown message type",
			zap.String("client_id", c.ID),
			zap.String("type", string(message.Type)),
		)
	}
}

// trySend queues message without blocking. Callers hold the hub lock.
func (c *Client) trySend(message *Message) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/pkg/logger"
)

const (
	// DefaultURL is the o!rdr push origin.
	DefaultURL = "https://ordr-ws.issou.best"

	// Time allowed to write a frame to the server
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the server
	maxMessageSize = 1 << 20

	// Outgoing frame buffer
	sendBufferSize = 16

	// Used until the server announces its own ping settings
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

var ErrClosed = errors.New("socketio: connection closed")

// Config holds push connection configuration
type Config struct {
	URL              string        `mapstructure:"url"`
	Namespace        string        `mapstructure:"namespace"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	EventBuffer      int           `mapstructure:"event_buffer"`
	Header           http.Header   `mapstructure:"-"`
}

// DefaultConfig returns default push connection configuration
func DefaultConfig() *Config {
	return &Config{
		URL:              DefaultURL,
		Namespace:        "/",
		HandshakeTimeout: 10 * time.Second,
		EventBuffer:      64,
	}
}

// Event is a named event received from the server. Payload is the first
// event argument, or nil when the event had none.
type Event struct {
	Name       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// EventHandler consumes events. All calls happen on one goroutine, in the
// order events arrived.
type EventHandler func(ctx context.Context, ev Event)

// Client is a Socket.IO connection to one namespace.
type Client struct {
	ID        string
	config    *Config
	conn      *websocket.Conn
	handshake *Handshake
	handler   EventHandler
	logger    *zap.Logger

	send       chan []byte
	events     chan Event
	closing    chan struct{}
	writerDone chan struct{}
	readerDone chan struct{}
	done       chan struct{}
	cancel     context.CancelFunc

	closeOnce sync.Once
	connOnce  sync.Once
	errMutex  sync.Mutex
	err       error
}

// EndpointURL converts an http(s) origin into the Engine.IO WebSocket URL.
func EndpointURL(origin string) (string, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid push URL: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Path == "" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens the WebSocket, completes the Engine.IO handshake and joins the
// configured namespace. Events are delivered to handler until Close.
func Dial(ctx context.Context, config *Config, handler EventHandler, log *zap.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if handler == nil {
		return nil, errors.New("socketio: handler is required")
	}

	endpoint, err := EndpointURL(config.URL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, config.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	bufferSize := config.EventBuffer
	if bufferSize <= 0 {
		bufferSize = DefaultConfig().EventBuffer
	}

	c := &Client{
		ID:         uuid.NewString(),
		config:     config,
		conn:       conn,
		handler:    handler,
		logger:     logger.OrNop(log),
		send:       make(chan []byte, sendBufferSize),
		events:     make(chan Event, bufferSize),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := c.handshakeWith(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	dispatchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	go c.readPump()
	go c.writePump()
	go c.dispatchLoop(dispatchCtx)

	c.logger.Debug("push channel connected",
		zap.String("client_id", c.ID),
		zap.String("sid", c.handshake.SID),
		zap.String("namespace", c.namespace()),
	)
	return c, nil
}

func (c *Client) namespace() string {
	if c.config.Namespace == "" {
		return "/"
	}
	return c.config.Namespace
}

// handshakeWith reads the open packet, sends CONNECT for the namespace and
// waits for the server's answer. It runs before the pumps start, so it
// reads and writes the connection directly.
func (c *Client) handshakeWith(ctx context.Context) error {
	var deadline time.Time
	if c.config.HandshakeTimeout > 0 {
		deadline = time.Now().Add(c.config.HandshakeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	frame, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("failed to read open packet: %w", err)
	}
	t, payload, err := SplitFrame(frame)
	if err != nil {
		return err
	}
	if t != EngineOpen {
		return fmt.Errorf("%w: expected open packet, got %q", ErrInvalidPacket, byte(t))
	}
	if c.handshake, err = ParseHandshake(payload); err != nil {
		return err
	}

	connect := &Packet{Type: PacketConnect, Namespace: c.namespace(), ID: -1}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, connect.Encode()); err != nil {
		return fmt.Errorf("failed to send connect packet: %w", err)
	}

	for {
		frame, err := c.readFrame()
		if err != nil {
			return fmt.Errorf("failed to read connect answer: %w", err)
		}
		t, payload, err := SplitFrame(frame)
		if err != nil {
			return err
		}

		switch t {
		case EnginePing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte{byte(EnginePong)}); err != nil {
				return fmt.Errorf("failed to answer ping: %w", err)
			}
			continue
		case EngineMessage:
		default:
			continue
		}

		p, err := ParsePacket(payload)
		if err != nil {
			return err
		}
		if p.Namespace != c.namespace() {
			continue
		}
		switch p.Type {
		case PacketConnect:
			return nil
		case PacketConnectError:
			return fmt.Errorf("socketio: namespace %s refused: %s", p.Namespace, p.ConnectError())
		}
	}
}

func (c *Client) readFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *Client) pingWindow() time.Duration {
	interval := defaultPingInterval
	timeout := defaultPingTimeout
	if c.handshake != nil {
		if c.handshake.PingInterval > 0 {
			interval = time.Duration(c.handshake.PingInterval) * time.Millisecond
		}
		if c.handshake.PingTimeout > 0 {
			timeout = time.Duration(c.handshake.PingTimeout) * time.Millisecond
		}
	}
	return interval + timeout
}

// readPump reads frames until the connection fails or Close is called.
// Events are queued for dispatchLoop; a full queue blocks reading.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.closeConn()
		close(c.events)
		close(c.readerDone)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	window := c.pingWindow()
	_ = c.conn.SetReadDeadline(time.Now().Add(window))

	for {
		frame, err := c.readFrame()
		if err != nil {
			c.fail(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(window))

		t, payload, err := SplitFrame(frame)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.String("client_id", c.ID), zap.Error(err))
			continue
		}

		switch t {
		case EnginePing:
			c.write([]byte{byte(EnginePong)})
		case EngineClose:
			c.fail(ErrClosed)
			return
		case EngineMessage:
			if !c.handlePacket(payload) {
				return
			}
		}
	}
}

// handlePacket reports false when reading should stop.
func (c *Client) handlePacket(payload []byte) bool {
	p, err := ParsePacket(payload)
	if err != nil {
		c.logger.Warn("dropping malformed packet", zap.String("client_id", c.ID), zap.Error(err))
		return true
	}
	if p.Namespace != c.namespace() {
		return true
	}

	switch p.Type {
	case PacketDisconnect:
		c.fail(fmt.Errorf("%w: server disconnected namespace %s", ErrClosed, p.Namespace))
		return false
	case PacketEvent, PacketBinaryEvent:
		name, args, err := p.Event()
		if err != nil {
			c.logger.Warn("dropping malformed event", zap.String("client_id", c.ID), zap.Error(err))
			return true
		}
		ev := Event{Name: name, ReceivedAt: time.Now()}
		if len(args) > 0 {
			ev.Payload = args[0]
		}
		select {
		case c.events <- ev:
		case <-c.closing:
			return false
		}
	default:
		c.logger.Debug("ignoring packet",
			zap.String("client_id", c.ID),
			zap.String("type", p.Type.String()),
		)
	}
	return true
}

// writePump serialises writes; gorilla connections allow one writer.
func (c *Client) writePump() {
	defer close(c.writerDone)

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.fail(err)
				return
			}
		case <-c.closing:
			disconnect := &Packet{Type: PacketDisconnect, Namespace: c.namespace(), ID: -1}
			deadline := time.Now().Add(writeWait)
			_ = c.conn.SetWriteDeadline(deadline)
			_ = c.conn.WriteMessage(websocket.TextMessage, disconnect.Encode())
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (c *Client) write(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.closing:
	}
}

// dispatchLoop hands queued events to the handler one at a time. Events
// still queued when the client closes are not delivered.
func (c *Client) dispatchLoop(ctx context.Context) {
	defer close(c.done)

	for ev := range c.events {
		select {
		case <-c.closing:
			return
		default:
		}
		c.handler(ctx, ev)
	}
}

// fail records a terminal error unless the client is already closing.
func (c *Client) fail(err error) {
	select {
	case <-c.closing:
		return
	default:
	}

	c.errMutex.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMutex.Unlock()

	c.logger.Warn("push channel lost", zap.String("client_id", c.ID), zap.Error(err))
	c.shutdown()
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closing)
		if c.cancel != nil {
			c.cancel()
		}
	})
}

func (c *Client) closeConn() (err error) {
	c.connOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// SessionID returns the Engine.IO session id.
func (c *Client) SessionID() string {
	return c.handshake.SID
}

// Done is closed once no more events will be delivered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, or nil while connected
// and after a clean Close.
func (c *Client) Err() error {
	c.errMutex.Lock()
	defer c.errMutex.Unlock()
	return c.err
}

// Close leaves the namespace and closes the connection. It does not wait
// for a handler that is currently running, so handlers may call it.
func (c *Client) Close() error {
	c.shutdown()

	select {
	case <-c.writerDone:
	case <-time.After(writeWait):
	}
	err := c.closeConn()
	<-c.readerDone
	return err
}

package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// PushServer is an in-process Socket.IO endpoint speaking the Engine.IO v4
// WebSocket transport. Tests drive it through the PushConn of each client.
type PushServer struct {
	*httptest.Server

	// RejectConnect makes the server answer CONNECT with CONNECT_ERROR.
	RejectConnect atomic.Bool

	upgrader    websocket.Upgrader
	conns       chan *PushConn
	connections atomic.Int32
	sessions    atomic.Int32
}

// PushConn is the server side of one client connection.
type PushConn struct {
	SID    string
	Query  string
	conn   *websocket.Conn
	frames chan string
	mutex  sync.Mutex
}

// NewPushServer starts a push server closed at test cleanup.
func NewPushServer(t *testing.T) *PushServer {
	t.Helper()

	s := &PushServer{
		conns: make(chan *PushConn, 8),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Connections returns the number of clients that completed the handshake.
func (s *PushServer) Connections() int {
	return int(s.connections.Load())
}

// Accept returns the next connected client.
func (s *PushServer) Accept(t *testing.T, timeout time.Duration) *PushConn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(timeout):
		t.Fatalf("no push client connected within %v", timeout)
		return nil
	}
}

func (s *PushServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	sid := fmt.Sprintf("sid-%d", s.sessions.Add(1))
	open := fmt.Sprintf(`0{"sid":%q,"upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`, sid)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(open)); err != nil {
		return
	}

	_, msg, err := ws.ReadMessage()
	if err != nil || !strings.HasPrefix(string(msg), "40") {
		return
	}

	if s.RejectConnect.Load() {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`44{"message":"not authorized"}`))
		return
	}
	s.connections.Add(1)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`40{"sid":"%s-ns"}`, sid))); err != nil {
		return
	}

	pc := &PushConn{
		SID:    sid,
		Query:  r.URL.RawQuery,
		conn:   ws,
		frames: make(chan string, 64),
	}
	s.conns <- pc

	defer close(pc.frames)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case pc.frames <- string(data):
		default:
		}
	}
}

func (c *PushConn) write(frame string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Emit sends a named event with one argument.
func (c *PushConn) Emit(event string, payload any) error {
	body, err := json.Marshal([]any{event, payload})
	if err != nil {
		return err
	}
	return c.write("42" + string(body))
}

// EmitRaw sends an event whose single argument is raw JSON.
func (c *PushConn) EmitRaw(event string, raw string) error {
	name, _ := json.Marshal(event)
	return c.write(fmt.Sprintf("42[%s,%s]", name, raw))
}

// Ping sends an Engine.IO ping.
func (c *PushConn) Ping() error {
	return c.write("2")
}

// Disconnect sends a Socket.IO DISCONNECT for the default namespace.
func (c *PushConn) Disconnect() error {
	return c.write("41")
}

// Next returns the next frame the client sent, or "" on timeout or close.
func (c *PushConn) Next(timeout time.Duration) string {
	select {
	case f := <-c.frames:
		return f
	case <-time.After(timeout):
		return ""
	}
}

// Drop closes the underlying connection without a close handshake.
func (c *PushConn) Drop() {
	c.conn.UnderlyingConn().Close()
}

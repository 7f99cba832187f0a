package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/ordr-go/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRelayServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := runHub(t)
	handler := NewHandler(DefaultConfig(), hub, zaptest.NewLogger(t))

	router := gin.New()
	handler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialRelay(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub, srv := newRelayServer(t)
	conn := dialRelay(t, srv, "")

	welcome := readMessage(t, conn)
	assert.Equal(t, MessageTypeAck, welcome.Type)
	assert.Contains(t, string(welcome.Data), `"action":"connected"`)

	hub.Publish("render_added_json", json.RawMessage(`{"renderID":11}`))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, "render_added_json", msg.Event)
	assert.Equal(t, 11, msg.RenderID)
}

func TestHandler_RenderQuery(t *testing.T) {
	hub, srv := newRelayServer(t)
	conn := dialRelay(t, srv, "?render=4&render=5")
	readMessage(t, conn)

	hub.Publish("render_progress_json", json.RawMessage(`{"renderID":3}`))
	hub.Publish("render_progress_json", json.RawMessage(`{"renderID":5}`))

	assert.Equal(t, 5, readMessage(t, conn).RenderID)
	assert.Equal(t, 1, hub.RenderSubscriberCount(4))
}

func TestHandler_InvalidRenderQuery(t *testing.T) {
	_, srv := newRelayServer(t)

	resp, err := http.Get(srv.URL + "/events/stream?render=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ControlMessages(t *testing.T) {
	hub, srv := newRelayServer(t)
	conn := dialRelay(t, srv, "")
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, RenderID: 77}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeAck, ack.Type)
	assert.Equal(t, 1, hub.RenderSubscriberCount(77))
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	hub, srv := newRelayServer(t)
	conn := dialRelay(t, srv, "")
	readMessage(t, conn)
	require.Equal(t, 1, hub.ClientCount())

	conn.Close()
	testutil.WaitForCondition(t, 2*time.Second, func() bool { return hub.ClientCount() == 0 },
		"subscriber not unregistered")
}

func TestHandler_Status(t *testing.T) {
	hub, srv := newRelayServer(t)
	hub.Publish("render_added_json", json.RawMessage(`{}`))

	resp, err := http.Get(srv.URL + "/events/stream/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["enabled"])
	assert.Contains(t, body, "totalEvents")
}

func TestHandler_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "https://example.com", true},
		{"no origin", []string{"https://allowed.com"}, "", true},
		{"listed", []string{"https://allowed.com", "https://other.com"}, "https://other.com", true},
		{"denied", []string{"https://allowed.com"}, "https://evil.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{config: &Config{AllowedOrigins: tt.allowed}}
			req := httptest.NewRequest(http.MethodGet, "/events/stream", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.checkOrigin(req))
		})
	}
}

func TestHandler_StartHeartbeat(t *testing.T) {
	hub, srv := newRelayServer(t)
	conn := dialRelay(t, srv, "")
	readMessage(t, conn)

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	handler := NewHandler(cfg, hub, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler.StartHeartbeat(ctx)

	assert.Equal(t, MessageTypePing, readMessage(t, conn).Type)
	assert.Same(t, hub, handler.Hub())
}

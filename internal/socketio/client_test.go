package socketio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrjohn/ordr-go/internal/testutil"
)

const testTimeout = 2 * time.Second

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		want    string
		wantErr bool
	}{
		{"https origin", "https://ordr-ws.issou.best", "wss://ordr-ws.issou.best/socket.io/?EIO=4&transport=websocket", false},
		{"http origin with slash", "http://127.0.0.1:8080/", "ws://127.0.0.1:8080/socket.io/?EIO=4&transport=websocket", false},
		{"custom path kept", "wss://example.com/push/", "wss://example.com/push?EIO=4&transport=websocket", false},
		{"unsupported scheme", "ftp://example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EndpointURL(tt.origin)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EndpointURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("EndpointURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

type recorder struct {
	mutex  sync.Mutex
	events []Event
	seen   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 64)}
}

func (r *recorder) handle(_ context.Context, ev Event) {
	r.mutex.Lock()
	r.events = append(r.events, ev)
	r.mutex.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(testTimeout):
			t.Fatalf("received %d of %d events", i, n)
		}
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Event(nil), r.events...)
}

func dial(t *testing.T, server *testutil.PushServer, handler EventHandler) *Client {
	t.Helper()
	config := DefaultConfig()
	config.URL = server.URL
	client, err := Dial(context.Background(), config, handler, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDial_Handshake(t *testing.T) {
	server := testutil.NewPushServer(t)
	client := dial(t, server, newRecorder().handle)
	conn := server.Accept(t, testTimeout)

	assert.Equal(t, conn.SID, client.SessionID())
	assert.Contains(t, conn.Query, "EIO=4")
	assert.Contains(t, conn.Query, "transport=websocket")
	assert.Equal(t, 1, server.Connections())
	assert.NoError(t, client.Err())
}

func TestDial_RequiresHandler(t *testing.T) {
	_, err := Dial(context.Background(), DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestDial_ConnectRefused(t *testing.T) {
	server := testutil.NewPushServer(t)
	server.RejectConnect.Store(true)

	config := DefaultConfig()
	config.URL = server.URL
	_, err := Dial(context.Background(), config, newRecorder().handle, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
	assert.Equal(t, 0, server.Connections())
}

func TestDial_Unreachable(t *testing.T) {
	server := testutil.NewPushServer(t)
	url := server.URL
	server.Close()

	config := DefaultConfig()
	config.URL = url
	config.HandshakeTimeout = time.Second
	_, err := Dial(context.Background(), config, newRecorder().handle, nil)
	assert.Error(t, err)
}

func TestClient_EventsInOrder(t *testing.T) {
	server := testutil.NewPushServer(t)
	rec := newRecorder()
	dial(t, server, rec.handle)
	conn := server.Accept(t, testTimeout)

	for i := 1; i <= 5; i++ {
		require.NoError(t, conn.Emit("render_added_json", map[string]int{"renderID": i}))
	}
	require.NoError(t, conn.EmitRaw("render_finish_json", `{"renderID":5,"videoUrl":"https://link.issou.best/x"}`))

	events := rec.wait(t, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "render_added_json", events[i].Name)
		assert.JSONEq(t, fmt.Sprintf(`{"renderID":%d}`, i+1), string(events[i].Payload))
		assert.False(t, events[i].ReceivedAt.IsZero())
	}
	assert.Equal(t, "render_finish_json", events[5].Name)
}

func TestClient_MalformedPacketsSkipped(t *testing.T) {
	server := testutil.NewPushServer(t)
	rec := newRecorder()
	client := dial(t, server, rec.handle)
	conn := server.Accept(t, testTimeout)

	require.NoError(t, conn.EmitRaw("render_added_json", `{broken`))
	require.NoError(t, conn.Emit("render_added_json", map[string]int{"renderID": 9}))

	events := rec.wait(t, 1)
	assert.JSONEq(t, `{"renderID":9}`, string(events[0].Payload))
	assert.NoError(t, client.Err())
}

func TestClient_AnswersPing(t *testing.T) {
	server := testutil.NewPushServer(t)
	dial(t, server, newRecorder().handle)
	conn := server.Accept(t, testTimeout)

	require.NoError(t, conn.Ping())
	assert.Equal(t, "3", conn.Next(testTimeout))
}

func TestClient_Close(t *testing.T) {
	server := testutil.NewPushServer(t)
	client := dial(t, server, newRecorder().handle)
	conn := server.Accept(t, testTimeout)

	require.NoError(t, client.Close())
	assert.Equal(t, "41", conn.Next(testTimeout))

	select {
	case <-client.Done():
	case <-time.After(testTimeout):
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, client.Err())

	// second close is harmless
	client.Close()
}

func TestClient_CloseFromHandler(t *testing.T) {
	server := testutil.NewPushServer(t)

	var client *Client
	ready := make(chan struct{})
	closed := make(chan error, 1)
	handler := func(_ context.Context, ev Event) {
		<-ready
		closed <- client.Close()
	}
	client = dial(t, server, handler)
	close(ready)
	conn := server.Accept(t, testTimeout)

	require.NoError(t, conn.Emit("render_added_json", map[string]int{"renderID": 1}))
	select {
	case <-closed:
	case <-time.After(testTimeout):
		t.Fatal("Close from handler did not return")
	}
}

func TestClient_ServerDisconnect(t *testing.T) {
	server := testutil.NewPushServer(t)
	client := dial(t, server, newRecorder().handle)
	conn := server.Accept(t, testTimeout)

	require.NoError(t, conn.Disconnect())

	select {
	case <-client.Done():
	case <-time.After(testTimeout):
		t.Fatal("Done not closed after server disconnect")
	}
	require.Error(t, client.Err())
	assert.True(t, errors.Is(client.Err(), ErrClosed))
}

func TestClient_ConnectionDropped(t *testing.T) {
	server := testutil.NewPushServer(t)
	client := dial(t, server, newRecorder().handle)
	conn := server.Accept(t, testTimeout)

	conn.Drop()

	select {
	case <-client.Done():
	case <-time.After(testTimeout):
		t.Fatal("Done not closed after connection drop")
	}
	assert.Error(t, client.Err())
	assert.False(t, strings.Contains(client.Err().Error(), "namespace"))
}

package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func receive(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func register(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	require.True(t, h.Register(c))
	welcome := receive(t, c)
	require.Equal(t, MessageTypeAck, welcome.Type)
	require.Contains(t, string(welcome.Data), `"action":"connected"`)
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewEventMessage(t *testing.T) {
	msg := NewEventMessage("render_progress_json", json.RawMessage(`{"renderID":42,"progress":"Rendering: 10%"}`))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, "render_progress_json", msg.Event)
	assert.Equal(t, 42, msg.RenderID)
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Second)

	noID := NewEventMessage("render_added_json", json.RawMessage(`[]`))
	assert.Zero(t, noID.RenderID)
}

func TestHub_BroadcastToAll(t *testing.T) {
	h := runHub(t)
	a := NewClient(h, nil, zap.NewNop())
	b := NewClient(h, nil, zap.NewNop())
	register(t, h, a)
	register(t, h, b)

	assert.True(t, h.Publish("render_added_json", json.RawMessage(`{"renderID":1}`)))

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		assert.Equal(t, "render_added_json", msg.Event)
		assert.Equal(t, 1, msg.RenderID)
	}
	assert.Equal(t, 2, h.ClientCount())
}

func TestHub_RenderFilter(t *testing.T) {
	h := runHub(t)
	follower := NewClient(h, nil, zap.NewNop(), 5)
	register(t, h, follower)
	assert.Equal(t, 1, h.RenderSubscriberCount(5))

	h.Publish("render_progress_json", json.RawMessage(`{"renderID":6}`))
	h.Publish("render_progress_json", json.RawMessage(`{"renderID":5}`))

	msg := receive(t, follower)
	assert.Equal(t, 5, msg.RenderID)
	assertNothing(t, follower)
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	h := runHub(t)
	c := NewClient(h, nil, zap.NewNop())
	register(t, h, c)

	h.Subscribe(c, 9)
	ack := receive(t, c)
	assert.Equal(t, MessageTypeAck, ack.Type)
	assert.JSONEq(t, `{"action":"subscribed","renderID":9}`, string(ack.Data))

	h.Publish("render_finish_json", json.RawMessage(`{"renderID":8}`))
	h.Publish("render_finish_json", json.RawMessage(`{"renderID":9}`))
	assert.Equal(t, 9, receive(t, c).RenderID)
	assertNothing(t, c)

	h.Unsubscribe(c, 9)
	ack = receive(t, c)
	assert.JSONEq(t, `{"action":"unsubscribed","renderID":9}`, string(ack.Data))
	assert.Zero(t, h.RenderSubscriberCount(9))

	h.Publish("render_finish_json", json.RawMessage(`{"renderID":8}`))
	assert.Equal(t, 8, receive(t, c).RenderID)
}

func TestHub_Unregister(t *testing.T) {
	h := runHub(t)
	c := NewClient(h, nil, zap.NewNop(), 3)
	register(t, h, c)

	h.Unregister(c)
	_, ok := <-c.send
	assert.False(t, ok)
	assert.Zero(t, h.ClientCount())
	assert.Zero(t, h.RenderSubscriberCount(3))

	m := h.GetMetrics()
	assert.Equal(t, int64(1), m.TotalConnections)
	assert.Equal(t, int64(0), m.ActiveConnections)
}

func TestHub_Stop(t *testing.T) {
	h := runHub(t)
	c := NewClient(h, nil, zap.NewNop())
	register(t, h, c)

	h.Stop()
	_, ok := <-c.send
	assert.False(t, ok)

	assert.False(t, h.Publish("render_added_json", json.RawMessage(`{}`)))
	assert.False(t, h.Register(NewClient(h, nil, zap.NewNop())))
	assert.NotPanics(t, h.Stop)
	assert.NotPanics(t, func() { h.Unregister(c) })
}

func TestHub_PublishQueueFull(t *testing.T) {
	h := NewHub(zap.NewNop())
	for i := 0; i < broadcastBufferSize; i++ {
		require.True(t, h.Publish("render_added_json", json.RawMessage(`{}`)))
	}
	assert.False(t, h.Publish("render_added_json", json.RawMessage(`{}`)))
	assert.Equal(t, int64(1), h.GetMetrics().TotalDropped)
}

func TestHub_Tap(t *testing.T) {
	h := runHub(t)
	c := NewClient(h, nil, zap.NewNop())
	register(t, h, c)

	h.Tap()(context.Background(), "render_fail_json", json.RawMessage(`{"renderID":2,"errorCode":23}`))

	msg := receive(t, c)
	assert.Equal(t, "render_fail_json", msg.Event)
	assert.JSONEq(t, `{"renderID":2,"errorCode":23}`, string(msg.Data))
}

func TestHub_Heartbeat(t *testing.T) {
	h := runHub(t)
	c := NewClient(h, nil, zap.NewNop())
	register(t, h, c)

	h.Heartbeat()
	assert.Equal(t, MessageTypePing, receive(t, c).Type)
}

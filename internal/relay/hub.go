// Package relay fans received render events out to websocket subscribers.
package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/pkg/logger"
)

const broadcastBufferSize = 256

// Hub tracks subscribers and delivers events to them. A subscriber with no
// render subscriptions receives every event.
type Hub struct {
	clients       map[*Client]bool
	renderClients map[int]map[*Client]bool

	broadcast   chan *Message
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	done        chan struct{}
	stopOnce    sync.Once

	mutex   sync.RWMutex
	logger  *zap.Logger
	metrics *HubMetrics
}

// HubMetrics holds hub counters
type HubMetrics struct {
	TotalConnections  int64
	ActiveConnections int64
	TotalEvents       int64
	TotalDelivered    int64
	TotalDropped      int64
	mutex             sync.RWMutex
}

type subscription struct {
	client   *Client
	renderID int
}

// NewHub creates a stopped hub; call Run to start delivering.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		renderClients: make(map[int]map[*Client]bool),
		broadcast:     make(chan *Message, broadcastBufferSize),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan subscription),
		unsubscribe:   make(chan subscription),
		done:          make(chan struct{}),
		logger:        logger.OrNop(log),
		metrics:       &HubMetrics{},
	}
}

// Run serves hub operations until ctx is cancelled or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	defer h.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case sub := <-h.subscribe:
			h.handleSubscribe(sub)

		case sub := <-h.unsubscribe:
			h.handleUnsubscribe(sub)

		case message := <-h.broadcast:
			h.handleBroadcast(message)
		}
	}
}

// Stop ends Run and disconnects every subscriber.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mutex.Lock()
		defer h.mutex.Unlock()
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.renderClients = make(map[int]map[*Client]bool)

		h.metrics.mutex.Lock()
		h.metrics.ActiveConnections = 0
		h.metrics.mutex.Unlock()
	})
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	renders := make([]int, 0, len(client.renders))
	for renderID := range client.renders {
		h.addRenderClient(renderID, client)
		renders = append(renders, renderID)
	}
	sort.Ints(renders)
	client.trySend(newControlMessage(MessageTypeAck, map[string]any{
		"action":   "connected",
		"clientId": client.ID,
		"renders":  renders,
	}))

	h.metrics.mutex.Lock()
	h.metrics.TotalConnections++
	h.metrics.ActiveConnections++
	h.metrics.mutex.Unlock()

	h.logger.Debug("Subscriber registered", zap.String("client_id", client.ID))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for renderID := range client.renders {
		h.removeRenderClient(renderID, client)
	}

	h.metrics.mutex.Lock()
	h.metrics.ActiveConnections--
	h.metrics.mutex.Unlock()

	h.logger.Debug("Subscriber unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) handleSubscribe(sub subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[sub.client]; !ok {
		return
	}
	sub.client.renders[sub.renderID] = true
	h.addRenderClient(sub.renderID, sub.client)
	sub.client.trySend(newControlMessage(MessageTypeAck, map[string]any{"action": "subscribed", "renderID": sub.renderID}))
}

func (h *Hub) handleUnsubscribe(sub subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[sub.client]; !ok {
		return
	}
	delete(sub.client.renders, sub.renderID)
	h.removeRenderClient(sub.renderID, sub.client)
	sub.client.trySend(newControlMessage(MessageTypeAck, map[string]any{"action": "unsubscribed", "renderID": sub.renderID}))
}

func (h *Hub) addRenderClient(renderID int, client *Client) {
	if _, ok := h.renderClients[renderID]; !ok {
		h.renderClients[renderID] = make(map[*Client]bool)
	}
	h.renderClients[renderID][client] = true
}

func (h *Hub) removeRenderClient(renderID int, client *Client) {
	if clients, ok := h.renderClients[renderID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.renderClients, renderID)
		}
	}
}

func (h *Hub) handleBroadcast(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	h.metrics.mutex.Lock()
	h.metrics.TotalEvents++
	h.metrics.mutex.Unlock()

	for client := range h.clients {
		if len(client.renders) > 0 && !h.renderClients[message.RenderID][client] {
			continue
		}
		if client.trySend(message) {
			h.metrics.mutex.Lock()
			h.metrics.TotalDelivered++
			h.metrics.mutex.Unlock()
		} else {
			h.metrics.mutex.Lock()
			h.metrics.TotalDropped++
			h.metrics.mutex.Unlock()
			h.logger.Warn("Subscriber send buffer full", zap.String("client_id", client.ID))
		}
	}
}

// Publish queues one render event. Events are dropped when the hub is
// stopped or its queue is full.
func (h *Hub) Publish(channel string, payload json.RawMessage) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.broadcast <- NewEventMessage(channel, payload):
		return true
	default:
		h.metrics.mutex.Lock()
		h.metrics.TotalDropped++
		h.metrics.mutex.Unlock()
		h.logger.Warn("Relay queue full, event dropped", logger.Channel(channel))
		return false
	}
}

// Tap adapts Publish to the client's raw event observer.
func (h *Hub) Tap() func(ctx context.Context, channel string, payload json.RawMessage) {
	return func(_ context.Context, channel string, payload json.RawMessage) {
		h.Publish(channel, payload)
	}
}

// Heartbeat pings every subscriber.
func (h *Hub) Heartbeat() {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		client.trySend(newControlMessage(MessageTypePing, nil))
	}
}

// Subscribe restricts client to the given render, in addition to any
// renders it already follows.
func (h *Hub) Subscribe(client *Client, renderID int) {
	select {
	case h.subscribe <- subscription{client: client, renderID: renderID}:
	case <-h.done:
	}
}

// Unsubscribe stops following a render.
func (h *Hub) Unsubscribe(client *Client, renderID int) {
	select {
	case h.unsubscribe <- subscription{client: client, renderID: renderID}:
	case <-h.done:
	}
}

// Register adds a subscriber and queues its welcome frame.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a subscriber and closes its send queue.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// reply queues a control frame for one registered subscriber.
func (h *Hub) reply(client *Client, message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.clients[client] {
		client.trySend(message)
	}
}

// ClientCount returns the number of active subscribers
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RenderSubscriberCount returns how many subscribers follow renderID
func (h *Hub) RenderSubscriberCount(renderID int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.renderClients[renderID])
}

// GetMetrics returns a copy of the hub counters
func (h *Hub) GetMetrics() HubMetrics {
	h.metrics.mutex.RLock()
	defer h.metrics.mutex.RUnlock()
	return HubMetrics{
		TotalConnections:  h.metrics.TotalConnections,
		ActiveConnections: h.metrics.ActiveConnections,
		TotalEvents:       h.metrics.TotalEvents,
		TotalDelivered:    h.metrics.TotalDelivered,
		TotalDropped:      h.metrics.TotalDropped,
	}
}

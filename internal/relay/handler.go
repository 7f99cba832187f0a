package relay

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/pkg/logger"
)

// Config holds relay configuration
type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	Path              string        `mapstructure:"path"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// DefaultConfig returns default relay configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:           true,
		Path:              "/events/stream",
		AllowedOrigins:    []string{"*"},
		ReadBufferSize:    1024,
		WriteBufferSize:   4096,
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Handler upgrades HTTP requests to relay subscriptions.
type Handler struct {
	config   *Config
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a relay handler serving hub.
func NewHandler(config *Config, hub *Hub, log *zap.Logger) *Handler {
	h := &Handler{
		config: config,
		hub:    hub,
		logger: logger.OrNop(log),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    config.ReadBufferSize,
		WriteBufferSize:   config.WriteBufferSize,
		HandshakeTimeout:  config.HandshakeTimeout,
		EnableCompression: config.EnableCompression,
		CheckOrigin:       h.checkOrigin,
	}

	return h
}

// RegisterRoutes registers the stream and its status endpoint
func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.GET(h.config.Path, h.handleWebSocket)
	router.GET(h.config.Path+"/status", h.handleStatus)
}

// handleWebSocket subscribes the caller. Repeated render query parameters
// restrict the stream to those renders.
func (h *Handler) handleWebSocket(c *gin.Context) {
	var renders []int
	for _, raw := range c.QueryArray("render") {
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid render id", "value": raw})
			return
		}
		renders = append(renders, id)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, h.logger, renders...)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay stopped"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// handleStatus returns hub counters
func (h *Handler) handleStatus(c *gin.Context) {
	metrics := h.hub.GetMetrics()

	c.JSON(http.StatusOK, gin.H{
		"enabled":           h.config.Enabled,
		"activeConnections": metrics.ActiveConnections,
		"totalConnections":  metrics.TotalConnections,
		"totalEvents":       metrics.TotalEvents,
		"totalDelivered":    metrics.TotalDelivered,
		"totalDropped":      metrics.TotalDropped,
	})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	return false
}

// StartHeartbeat pings subscribers until ctx ends.
func (h *Handler) StartHeartbeat(ctx context.Context) {
	if h.config.HeartbeatInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(h.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.hub.Heartbeat()
			}
		}
	}()
}

// Path returns the stream route.
func (h *Handler) Path() string {
	return h.config.Path
}

// Hub returns the hub
func (h *Handler) Hub() *Hub {
	return h.hub
}

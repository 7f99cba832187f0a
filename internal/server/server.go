// Package server exposes the status endpoints of a running ordr process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/journal"
	"github.com/jrjohn/ordr-go/internal/middleware"
	"github.com/jrjohn/ordr-go/internal/monitor"
	"github.com/jrjohn/ordr-go/internal/observability"
	"github.com/jrjohn/ordr-go/internal/relay"
	"github.com/jrjohn/ordr-go/pkg/logger"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

// Config holds status server configuration
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Debug        bool          `mapstructure:"debug"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	CORS middleware.CORSConfig `mapstructure:"cors"`
}

// DefaultConfig returns default status server configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		Host:         "127.0.0.1",
		Port:         9464,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		CORS:         middleware.DefaultCORSConfig(),
	}
}

// Addr returns host:port
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClientState reports the push connection state.
type ClientState interface {
	State() ordr.State
}

// EventStore lists journaled events.
type EventStore interface {
	Recent(ctx context.Context, limit int) ([]journal.EventRecord, error)
	ByRender(ctx context.Context, renderID int) ([]journal.EventRecord, error)
}

// OnlineStatus reports the latest online count poll.
type OnlineStatus interface {
	Last() monitor.Snapshot
}

// Deps are the sources the status routes read from. Nil fields disable
// the routes that need them.
type Deps struct {
	Client  ClientState
	Events  EventStore
	Online  OnlineStatus
	Metrics *observability.MetricsProvider
	Relay   *relay.Handler
	Service string
	Logger  *zap.Logger
}

// NewRouter builds the gin engine serving the status routes.
func NewRouter(cfg *Config, deps Deps) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	log := logger.OrNop(deps.Logger)

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID())
	quiet := []string{"/health", "/ready"}
	if deps.Metrics != nil {
		quiet = append(quiet, deps.Metrics.Path())
	}
	router.Use(middleware.Logger(log, quiet...))
	cors := cfg.CORS
	if len(cors.AllowOrigins) == 0 {
		cors = middleware.DefaultCORSConfig()
	}
	router.Use(middleware.CORS(cors))
	var streams []string
	if deps.Relay != nil {
		streams = append(streams, deps.Relay.Path())
	}
	if deps.Service != "" {
		router.Use(observability.TracingMiddleware(deps.Service, streams...))
	}
	if deps.Metrics != nil {
		router.Use(observability.MetricsMiddleware(deps.Metrics, streams...))
	}

	h := &handlers{deps: deps}
	router.GET("/health", h.health)
	router.GET("/ready", h.ready)
	if deps.Metrics != nil {
		router.GET(deps.Metrics.Path(), gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.Events != nil {
		router.GET("/events", h.recentEvents)
		router.GET("/events/renders/:id", h.renderEvents)
	}
	if deps.Relay != nil {
		deps.Relay.RegisterRoutes(router)
	}
	return router
}

// New wraps router in an http.Server listening on cfg.Addr().
func New(cfg *Config, router http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

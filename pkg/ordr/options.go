package ordr

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/socketio"
	"github.com/jrjohn/ordr-go/internal/transport"
)

const (
	// DefaultBaseURL is the o!rdr API origin.
	DefaultBaseURL = transport.DefaultBaseURL

	// DefaultWebsocketURL is the o!rdr push origin.
	DefaultWebsocketURL = socketio.DefaultURL
)

// DeveloperMode makes o!rdr simulate render requests instead of queueing
// them. The mode string is sent in place of the verification key.
type DeveloperMode string

const (
	DevModeOff     DeveloperMode = ""
	DevModeSuccess DeveloperMode = "devmode_success"
	DevModeFail    DeveloperMode = "devmode_fail"
	DevModeWSFail  DeveloperMode = "devmode_wsfail"
)

// Valid reports whether m is off or one of the known modes.
func (m DeveloperMode) Valid() bool {
	switch m {
	case DevModeOff, DevModeSuccess, DevModeFail, DevModeWSFail:
		return true
	}
	return false
}

// RateLimit allows Rate requests per Period. It only applies when the
// client has a verification key or runs in developer mode; otherwise the
// client is held to one request every five minutes.
type RateLimit struct {
	Rate   int
	Period time.Duration
}

// Cache stores successful GET responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Recorder receives request and event measurements.
type Recorder interface {
	transport.Recorder
	RecordPushEvent(ctx context.Context, channel string, err error)
	RecordPushConnection(ctx context.Context, connected bool)
}

// ErrorHandler receives errors that have no caller to return to, such as a
// push payload that fails validation.
type ErrorHandler func(ctx context.Context, err error)

// Options configures a Client. The zero value is usable: every field falls
// back to the o!rdr defaults.
type Options struct {
	BaseURL         string
	WebsocketURL    string
	VerificationKey string
	DeveloperMode   DeveloperMode
	RateLimit       RateLimit
	Timeout         time.Duration
	UserAgent       string

	// EventBuffer is the number of push events queued ahead of the
	// handlers before the socket reader blocks.
	EventBuffer int

	// DisablePush keeps requests from opening the push channel. Connect
	// still opens it explicitly.
	DisablePush bool

	Logger     *zap.Logger
	HTTPClient *http.Client
	Cache      Cache
	CacheTTL   time.Duration
	Recorder   Recorder
	Tracer     trace.Tracer
	OnError    ErrorHandler
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.WebsocketURL == "" {
		o.WebsocketURL = DefaultWebsocketURL
	}
	if o.Timeout <= 0 {
		o.Timeout = transport.DefaultConfig().Timeout
	}
	if o.UserAgent == "" {
		o.UserAgent = transport.DefaultConfig().UserAgent
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = socketio.DefaultConfig().EventBuffer
	}
	return o
}

// Package ordr is a client for the o!rdr replay rendering service.
//
// A Client issues rate-limited API calls and receives render lifecycle
// events over the o!rdr push channel:
//
//	client, err := ordr.New(ordr.Options{VerificationKey: key})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	client.OnRenderFinish(func(ctx context.Context, e models.RenderFinishEvent) error {
//		log.Println(e.RenderID, e.VideoURL)
//		return nil
//	})
//	resp, err := client.CreateRender(ctx, ordr.CreateRenderRequest{...})
package ordr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/events"
	"github.com/jrjohn/ordr-go/internal/resilience"
	"github.com/jrjohn/ordr-go/internal/socketio"
	"github.com/jrjohn/ordr-go/internal/transport"
	apperrors "github.com/jrjohn/ordr-go/pkg/errors"
	"github.com/jrjohn/ordr-go/pkg/logger"
)

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client talks to o!rdr. It is safe for concurrent use.
type Client struct {
	opts            Options
	logger          *zap.Logger
	verificationKey string
	limiter         *resilience.TokenBucketLimiter
	pipeline        *transport.Pipeline
	registry        *events.Registry

	// connectMutex serialises dials; mutex guards state and push.
	connectMutex sync.Mutex
	mutex        sync.Mutex
	state        State
	push         *socketio.Client
}

// New creates a disconnected client. The push channel is opened by Connect
// or by the first API call.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	log := logger.OrNop(opts.Logger)

	if !opts.DeveloperMode.Valid() {
		return nil, apperrors.NewUsage("developer mode", fmt.Sprintf("unknown mode %q", opts.DeveloperMode))
	}

	key := opts.VerificationKey
	if opts.DeveloperMode != DevModeOff {
		if key != "" {
			log.Warn("running in developer mode, requests are simulated and the verification key is not used",
				zap.String("mode", string(opts.DeveloperMode)),
			)
		}
		key = string(opts.DeveloperMode)
	}

	policy := resilience.ResolvePolicy(
		resilience.Policy{Rate: opts.RateLimit.Rate, Period: opts.RateLimit.Period},
		key != "",
		log,
	)
	limiter := resilience.NewTokenBucketLimiter(&resilience.RateLimiterConfig{
		Name:   "ordr",
		Policy: policy,
	})

	c := &Client{
		opts:            opts,
		logger:          log,
		verificationKey: key,
		limiter:         limiter,
		registry:        events.NewRegistry(log),
	}

	pipelineOpts := []transport.Option{
		transport.WithGate(gate{c}),
		transport.WithTracer(opts.Tracer),
	}
	if opts.HTTPClient != nil {
		pipelineOpts = append(pipelineOpts, transport.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Cache != nil {
		pipelineOpts = append(pipelineOpts, transport.WithCache(opts.Cache, opts.CacheTTL))
	}
	if opts.Recorder != nil {
		pipelineOpts = append(pipelineOpts, transport.WithRecorder(opts.Recorder))
	}

	pipeline, err := transport.NewPipeline(&transport.Config{
		BaseURL:   opts.BaseURL,
		Timeout:   opts.Timeout,
		UserAgent: opts.UserAgent,
	}, limiter, log, pipelineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create request pipeline: %w", err)
	}
	c.pipeline = pipeline

	log.Debug("ordr client created",
		zap.String("base_url", opts.BaseURL),
		zap.Bool("authenticated", key != ""),
		zap.Int("rate", policy.Rate),
		zap.Duration("period", policy.Period),
	)
	return c, nil
}

// With connects a client, runs fn and closes the client, whatever fn does.
func With(ctx context.Context, opts Options, fn func(c *Client) error) (err error) {
	c, err := New(opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	return fn(c)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Authenticated reports whether requests carry a verification key or a
// developer mode.
func (c *Client) Authenticated() bool {
	return c.verificationKey != ""
}

// RateLimit returns the limit in force, after the unauthenticated floor
// was applied.
func (c *Client) RateLimit() RateLimit {
	p := c.limiter.Policy()
	return RateLimit{Rate: p.Rate, Period: p.Period}
}

// Connect opens the push channel. It returns nil when already connected
// and ErrClientClosed after Close.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMutex.Lock()
	defer c.connectMutex.Unlock()

	c.mutex.Lock()
	switch c.state {
	case StateClosed:
		c.mutex.Unlock()
		return apperrors.ErrClientClosed
	case StateConnected:
		c.mutex.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mutex.Unlock()

	config := socketio.DefaultConfig()
	config.URL = c.opts.WebsocketURL
	config.EventBuffer = c.opts.EventBuffer
	push, err := socketio.Dial(ctx, config, c.handleEvent, c.logger)

	c.mutex.Lock()
	if c.state == StateClosed {
		c.mutex.Unlock()
		if push != nil {
			push.Close()
		}
		return apperrors.ErrClientClosed
	}
	if err != nil {
		c.state = StateDisconnected
		c.mutex.Unlock()
		return fmt.Errorf("failed to connect push channel: %w", err)
	}
	c.push = push
	c.state = StateConnected
	c.mutex.Unlock()

	c.recordConnection(ctx, true)
	go c.watch(push)
	return nil
}

// watch moves the client back to Disconnected when the push channel drops
// on its own. The next API call reconnects.
func (c *Client) watch(push *socketio.Client) {
	<-push.Done()

	c.mutex.Lock()
	lost := c.push == push && c.state == StateConnected
	if lost {
		c.push = nil
		c.state = StateDisconnected
	}
	c.mutex.Unlock()

	if lost {
		ctx := context.Background()
		c.recordConnection(ctx, false)
		if err := push.Err(); err != nil {
			c.reportError(ctx, fmt.Errorf("push channel lost: %w", err))
		}
	}
}

// Close releases the HTTP session and the push channel. Closing twice is
// a no-op.
func (c *Client) Close() error {
	c.mutex.Lock()
	if c.state == StateClosed {
		c.mutex.Unlock()
		return nil
	}
	wasConnected := c.state == StateConnected
	c.state = StateClosed
	push := c.push
	c.push = nil
	c.mutex.Unlock()

	c.pipeline.Close()

	var err error
	if push != nil {
		err = push.Close()
	}
	if wasConnected {
		c.recordConnection(context.Background(), false)
	}
	c.logger.Debug("ordr client closed")
	return err
}

// ensureConnected runs before every API call.
func (c *Client) ensureConnected(ctx context.Context) error {
	switch c.State() {
	case StateClosed:
		return apperrors.ErrClientClosed
	case StateConnected:
		return nil
	}
	if c.opts.DisablePush {
		return nil
	}
	return c.Connect(ctx)
}

type gate struct {
	c *Client
}

func (g gate) EnsureConnected(ctx context.Context) error {
	return g.c.ensureConnected(ctx)
}

func (c *Client) handleEvent(ctx context.Context, ev socketio.Event) {
	err := c.registry.Dispatch(ctx, ev.Name, ev.Payload)
	if _, known := events.KindForChannel(ev.Name); known && c.opts.Recorder != nil {
		c.opts.Recorder.RecordPushEvent(ctx, ev.Name, err)
	}
	if err != nil {
		c.reportError(ctx, fmt.Errorf("handling %s: %w", ev.Name, err))
	}
}

func (c *Client) reportError(ctx context.Context, err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(ctx, err)
		return
	}
	var apiErr *apperrors.APIError
	if errors.As(err, &apiErr) {
		c.logger.Error("ordr event error", zap.Int("status", apiErr.Status), zap.Error(err))
		return
	}
	c.logger.Error("ordr event error", zap.Error(err))
}

func (c *Client) recordConnection(ctx context.Context, connected bool) {
	if c.opts.Recorder != nil {
		c.opts.Recorder.RecordPushConnection(ctx, connected)
	}
}

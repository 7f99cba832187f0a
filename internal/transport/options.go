package transport

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Limiter gates every network call.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Gate is consulted before each request; the client facade uses it to
// refuse calls after Close and to lazily open the push channel.
type Gate interface {
	EnsureConnected(ctx context.Context) error
}

// Cache stores successful GET results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Recorder receives request measurements.
type Recorder interface {
	RecordAPIRequest(ctx context.Context, method, path string, status int, duration time.Duration)
	RecordLimiterWait(ctx context.Context, wait time.Duration)
	RecordCacheHit(ctx context.Context, cacheName string)
	RecordCacheMiss(ctx context.Context, cacheName string)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGate sets the lifecycle gate.
func WithGate(g Gate) Option {
	return func(p *Pipeline) {
		p.gate = g
	}
}

// WithCache enables response caching for GET requests. A non-positive ttl
// disables it. Hits skip the network but still wait on the limiter.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(p *Pipeline) {
		if ttl > 0 {
			p.cache = c
			p.cacheTTL = ttl
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithHTTPClient supplies the HTTP session instead of creating one lazily.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		p.httpClient = c
	}
}

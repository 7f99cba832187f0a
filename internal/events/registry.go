// Package events routes push channel payloads to typed render event handlers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/jrjohn/ordr-go/pkg/errors"
	"github.com/jrjohn/ordr-go/pkg/logger"
	"github.com/jrjohn/ordr-go/pkg/models"
)

// Kind identifies one of the render lifecycle events.
type Kind string

const (
	KindAdded    Kind = "added"
	KindProgress Kind = "progress"
	KindFail     Kind = "fail"
	KindFinish   Kind = "finish"
)

var channels = map[Kind]string{
	KindAdded:    "render_added_json",
	KindProgress: "render_progress_json",
	KindFail:     "render_fail_json",
	KindFinish:   "render_finish_json",
}

// Kinds returns every event kind in lifecycle order.
func Kinds() []Kind {
	return []Kind{KindAdded, KindProgress, KindFail, KindFinish}
}

// Channel returns the push channel name the kind is received on.
func (k Kind) Channel() string {
	return channels[k]
}

// KindForChannel maps a push channel name back to its kind.
func KindForChannel(channel string) (Kind, bool) {
	for k, ch := range channels {
		if ch == channel {
			return k, true
		}
	}
	return "", false
}

// HandlerFunc is a typed event handler
type HandlerFunc[T any] func(ctx context.Context, event T) error

// TapFunc observes every payload received on a known channel before it is
// decoded.
type TapFunc func(ctx context.Context, kind Kind, payload json.RawMessage)

type rawHandler func(ctx context.Context, payload []byte) error

// Registry holds at most one handler per event kind.
type Registry struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[Kind]rawHandler
	types    map[Kind]string
	taps     []TapFunc
}

// NewRegistry creates an empty registry
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		logger:   logger.OrNop(log),
		handlers: make(map[Kind]rawHandler),
		types:    make(map[Kind]string),
	}
}

// Register installs handler for kind. Registering again for the same kind
// replaces the previous handler.
func Register[T models.Validatable](r *Registry, kind Kind, handler HandlerFunc[T]) {
	channel := kind.Channel()

	wrapped := func(ctx context.Context, data []byte) error {
		var event T
		if err := json.Unmarshal(data, &event); err != nil {
			return apperrors.New(http.StatusUnprocessableEntity,
				fmt.Sprintf("invalid %s payload", channel), models.ErrorCodeUnknown).WithError(err)
		}
		if err := event.Validate(); err != nil {
			return apperrors.New(http.StatusUnprocessableEntity,
				fmt.Sprintf("invalid %s payload", channel), models.ErrorCodeUnknown).WithError(err)
		}
		return handler(ctx, event)
	}

	var zero T
	r.mu.Lock()
	_, replaced := r.handlers[kind]
	r.handlers[kind] = wrapped
	r.types[kind] = fmt.Sprintf("%T", zero)
	r.mu.Unlock()

	r.logger.Debug("registered event handler",
		zap.String("channel", channel),
		zap.String("payload_type", fmt.Sprintf("%T", zero)),
		zap.Bool("replaced", replaced),
	)
}

// Unregister removes the handler for kind.
func (r *Registry) Unregister(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
	delete(r.types, kind)
}

// Tap adds an observer called for every known event, handled or not.
func (r *Registry) Tap(fn TapFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taps = append(r.taps, fn)
}

// Has reports whether a handler is registered for kind.
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// ListHandlers returns the payload type registered per channel
func (r *Registry) ListHandlers() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(r.types))
	for k, v := range r.types {
		result[k.Channel()] = v
	}
	return result
}

// Dispatch decodes payload and calls the handler registered for channel.
// Unknown channels and kinds without a handler are ignored. A payload that
// does not decode or validate yields a 422 APIError naming the channel;
// handler errors are returned unchanged.
func (r *Registry) Dispatch(ctx context.Context, channel string, payload []byte) error {
	kind, ok := KindForChannel(channel)
	if !ok {
		r.logger.Debug("ignoring event on unknown channel", logger.Channel(channel))
		return nil
	}

	r.mu.RLock()
	handler := r.handlers[kind]
	taps := r.taps
	r.mu.RUnlock()

	for _, tap := range taps {
		tap(ctx, kind, payload)
	}

	if handler == nil {
		return nil
	}
	return handler(ctx, payload)
}

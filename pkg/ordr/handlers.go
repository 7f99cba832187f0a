package ordr

import (
	"context"
	"encoding/json"

	"github.com/jrjohn/ordr-go/internal/events"
	"github.com/jrjohn/ordr-go/pkg/models"
)

// Handler receives a decoded and validated push event. Handlers run one at
// a time, in the order events arrived. A returned error goes to
// Options.OnError.
type Handler[T any] func(ctx context.Context, event T) error

// OnRenderAdded sets the handler for render_added_json, replacing any
// previous one.
func (c *Client) OnRenderAdded(h Handler[models.RenderAddedEvent]) {
	events.Register(c.registry, events.KindAdded, events.HandlerFunc[models.RenderAddedEvent](h))
}

// OnRenderProgress sets the handler for render_progress_json, replacing any
// previous one.
func (c *Client) OnRenderProgress(h Handler[models.RenderProgressEvent]) {
	events.Register(c.registry, events.KindProgress, events.HandlerFunc[models.RenderProgressEvent](h))
}

// OnRenderFail sets the handler for render_fail_json, replacing any
// previous one.
func (c *Client) OnRenderFail(h Handler[models.RenderFailEvent]) {
	events.Register(c.registry, events.KindFail, events.HandlerFunc[models.RenderFailEvent](h))
}

// OnRenderFinish sets the handler for render_finish_json, replacing any
// previous one.
func (c *Client) OnRenderFinish(h Handler[models.RenderFinishEvent]) {
	events.Register(c.registry, events.KindFinish, events.HandlerFunc[models.RenderFinishEvent](h))
}

// Tap observes the raw payload of every render event before it is decoded,
// whether or not a handler is set.
func (c *Client) Tap(fn func(ctx context.Context, channel string, payload json.RawMessage)) {
	c.registry.Tap(func(ctx context.Context, kind events.Kind, payload json.RawMessage) {
		fn(ctx, kind.Channel(), payload)
	})
}

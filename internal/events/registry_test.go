package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	apperrors "github.com/jrjohn/ordr-go/pkg/errors"
	"github.com/jrjohn/ordr-go/pkg/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(zaptest.NewLogger(t))
}

func TestKindChannels(t *testing.T) {
	tests := []struct {
		kind    Kind
		channel string
	}{
		{KindAdded, "render_added_json"},
		{KindProgress, "render_progress_json"},
		{KindFail, "render_fail_json"},
		{KindFinish, "render_finish_json"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Channel(); got != tt.channel {
				t.Errorf("Channel() = %q, want %q", got, tt.channel)
			}
			kind, ok := KindForChannel(tt.channel)
			if !ok || kind != tt.kind {
				t.Errorf("KindForChannel(%q) = %q, %v", tt.channel, kind, ok)
			}
		})
	}

	if _, ok := KindForChannel("render_unknown_json"); ok {
		t.Error("KindForChannel() accepted an unknown channel")
	}
	if len(Kinds()) != 4 {
		t.Errorf("len(Kinds()) = %d, want 4", len(Kinds()))
	}
}

func TestDispatch_TypedHandler(t *testing.T) {
	r := newTestRegistry(t)

	var got models.RenderProgressEvent
	Register(r, KindProgress, func(ctx context.Context, e models.RenderProgressEvent) error {
		got = e
		return nil
	})

	payload := []byte(`{"renderID":42,"username":"peppy","progress":"Rendering: 12%","renderer":"r1","description":"d"}`)
	if err := r.Dispatch(context.Background(), "render_progress_json", payload); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got.RenderID != 42 || got.Progress != "Rendering: 12%" || got.Username != "peppy" {
		t.Errorf("handler got %+v", got)
	}
}

func TestDispatch_ReplacesHandler(t *testing.T) {
	r := newTestRegistry(t)

	var calls []string
	Register(r, KindAdded, func(ctx context.Context, e models.RenderAddedEvent) error {
		calls = append(calls, "first")
		return nil
	})
	Register(r, KindAdded, func(ctx context.Context, e models.RenderAddedEvent) error {
		calls = append(calls, "second")
		return nil
	})

	if err := r.Dispatch(context.Background(), "render_added_json", []byte(`{"renderID":1}`)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(calls) != 1 || calls[0] != "second" {
		t.Errorf("calls = %v, want [second]", calls)
	}
	if len(r.ListHandlers()) != 1 {
		t.Errorf("ListHandlers() = %v", r.ListHandlers())
	}
}

func TestDispatch_InvalidPayload(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		payload string
	}{
		{"not json", "render_finish_json", `{`},
		{"missing payload", "render_finish_json", ``},
		{"wrong type", "render_finish_json", `{"renderID":"x","videoUrl":"u"}`},
		{"missing video url", "render_finish_json", `{"renderID":3}`},
		{"null video url", "render_finish_json", `{"renderID":3,"videoUrl":null}`},
		{"missing render id", "render_fail_json", `{"errorCode":5,"errorMessage":"boom","removed":false}`},
		{"missing error code", "render_fail_json", `{"renderID":1,"errorMessage":"boom","removed":false}`},
		{"missing removed", "render_fail_json", `{"renderID":1,"errorCode":5,"errorMessage":"boom"}`},
		{"missing username", "render_progress_json", `{"renderID":1,"progress":"x","renderer":"r1","description":"d"}`},
		{"missing renderer", "render_progress_json", `{"renderID":1,"username":"u","progress":"x","description":"d"}`},
		{"missing description", "render_progress_json", `{"renderID":1,"username":"u","progress":"x","renderer":"r1"}`},
		{"progress array", "render_progress_json", `[]`},
	}

	r := newTestRegistry(t)
	called := false
	Register(r, KindFinish, func(ctx context.Context, e models.RenderFinishEvent) error {
		called = true
		return nil
	})
	Register(r, KindFail, func(ctx context.Context, e models.RenderFailEvent) error {
		called = true
		return nil
	})
	Register(r, KindProgress, func(ctx context.Context, e models.RenderProgressEvent) error {
		called = true
		return nil
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Dispatch(context.Background(), tt.channel, []byte(tt.payload))
			apiErr, ok := apperrors.AsAPIError(err)
			if !ok {
				t.Fatalf("Dispatch() error = %v, want APIError", err)
			}
			if apiErr.Status != http.StatusUnprocessableEntity {
				t.Errorf("Status = %d, want 422", apiErr.Status)
			}
			if !strings.Contains(apiErr.Error(), tt.channel) {
				t.Errorf("error %q does not name %s", apiErr.Error(), tt.channel)
			}
		})
	}
	if called {
		t.Error("handler called for an invalid payload")
	}
}

func TestDispatch_UnknownCodeStillDelivered(t *testing.T) {
	r := newTestRegistry(t)

	var got models.RenderFailEvent
	Register(r, KindFail, func(ctx context.Context, e models.RenderFailEvent) error {
		got = e
		return nil
	})

	err := r.Dispatch(context.Background(), "render_fail_json", []byte(`{"renderID":8,"errorCode":999,"errorMessage":"odd","removed":true}`))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got.ErrorCode != models.ErrorCodeUnknown {
		t.Errorf("ErrorCode = %v, want unknown", got.ErrorCode)
	}
	if !got.Removed {
		t.Error("Removed = false, want true")
	}
}

func TestDispatch_EmptyValuesAccepted(t *testing.T) {
	r := newTestRegistry(t)

	var got *models.RenderProgressEvent
	Register(r, KindProgress, func(ctx context.Context, e models.RenderProgressEvent) error {
		got = &e
		return nil
	})

	payload := []byte(`{"renderID":0,"username":"","progress":"","renderer":"","description":""}`)
	if err := r.Dispatch(context.Background(), "render_progress_json", payload); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got == nil || got.Progress != "" || got.RenderID != 0 {
		t.Errorf("handler got %+v", got)
	}
}

func TestDispatch_HandlerErrorReturned(t *testing.T) {
	r := newTestRegistry(t)
	boom := errors.New("boom")
	Register(r, KindAdded, func(ctx context.Context, e models.RenderAddedEvent) error {
		return boom
	})

	err := r.Dispatch(context.Background(), "render_added_json", []byte(`{"renderID":1}`))
	if !errors.Is(err, boom) {
		t.Errorf("Dispatch() error = %v, want boom", err)
	}
}

func TestDispatch_IgnoredChannels(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Dispatch(context.Background(), "chat_message", []byte(`{`)); err != nil {
		t.Errorf("unknown channel: error = %v", err)
	}
	if err := r.Dispatch(context.Background(), "render_added_json", []byte(`{"renderID":1}`)); err != nil {
		t.Errorf("no handler: error = %v", err)
	}
}

func TestRegistry_Tap(t *testing.T) {
	r := newTestRegistry(t)

	var seen []Kind
	var raw []json.RawMessage
	r.Tap(func(ctx context.Context, kind Kind, payload json.RawMessage) {
		seen = append(seen, kind)
		raw = append(raw, payload)
	})

	_ = r.Dispatch(context.Background(), "render_added_json", []byte(`{"renderID":1}`))
	_ = r.Dispatch(context.Background(), "something_else", []byte(`{}`))
	_ = r.Dispatch(context.Background(), "render_finish_json", []byte(`{"renderID":1,"videoUrl":"u"}`))

	if len(seen) != 2 || seen[0] != KindAdded || seen[1] != KindFinish {
		t.Errorf("tapped kinds = %v", seen)
	}
	if string(raw[0]) != `{"renderID":1}` {
		t.Errorf("tapped payload = %s", raw[0])
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := newTestRegistry(t)
	Register(r, KindFinish, func(ctx context.Context, e models.RenderFinishEvent) error {
		return errors.New("should not run")
	})
	if !r.Has(KindFinish) {
		t.Fatal("Has() = false after Register")
	}

	r.Unregister(KindFinish)
	if r.Has(KindFinish) {
		t.Error("Has() = true after Unregister")
	}
	if err := r.Dispatch(context.Background(), "render_finish_json", []byte(`{"renderID":1,"videoUrl":"u"}`)); err != nil {
		t.Errorf("Dispatch() error = %v", err)
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jrjohn/ordr-go/internal/config"
	"github.com/jrjohn/ordr-go/internal/testutil"
	"github.com/jrjohn/ordr-go/pkg/models"
)

// syncBuffer is a bytes.Buffer safe for a command writing while the test reads.
type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

type fakeAPI struct {
	*httptest.Server
	posted chan http.Header
	forms  chan map[string][]string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		posted: make(chan http.Header, 1),
		forms:  make(chan map[string][]string, 1),
	}

	writeJSON := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ordr/skins", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fmt.Sprintf(`{"found":true,"message":"ok","maxSkins":1,"skins":[{"id":1,"skin":%q,"presentationName":"Whitecat"}]}`,
			r.URL.Query().Get("search")))
	})
	mux.HandleFunc("/ordr/skins/custom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fmt.Sprintf(`{"found":true,"message":"ok","skinName":"custom-%s","skinAuthor":"someone"}`, r.URL.Query().Get("id")))
	})
	mux.HandleFunc("/ordr/renders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			// Replay files arrive as multipart, replay URLs as a plain form.
			if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
				t.Errorf("parse render form: %v", err)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			api.forms <- r.PostForm
			api.posted <- r.Header
			writeJSON(w, `{"message":"Render queued","renderID":42}`)
			return
		}
		writeJSON(w, fmt.Sprintf(`{"maxRenders":1,"renders":[{"renderID":7,"username":%q,"progress":"Done."}]}`,
			r.URL.Query().Get("ordrUsername")))
	})
	mux.HandleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"servers":[{"name":"up","enabled":true,"status":"idle"},{"name":"down","enabled":false,"status":"offline"}]}`)
	})
	mux.HandleFunc("/servers/onlinecount", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "3")
	})

	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

// baseArgs points a command at the fake services with a private config.
func baseArgs(t *testing.T, apiURL, pushURL string) []string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
client:
  developer_mode: devmode_success
  rate: 100
  rate_period: 1s
  timeout: 5s
log:
  level: error
`), 0o600))
	envPath := filepath.Join(dir, "empty.env")
	require.NoError(t, os.WriteFile(envPath, nil, 0o600))

	return []string{
		"--config", cfgPath,
		"--env-file", envPath,
		"--base-url", apiURL,
		"--websocket-url", pushURL,
	}
}

// receive fails the test instead of blocking when nothing arrives on ch.
func receive[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func execute(ctx context.Context, out, errOut io.Writer, args ...string) error {
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := execute(context.Background(), &out, &errOut, args...)
	return out.String(), err
}

func TestSkinsCommand(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	out, err := run(t, append([]string{"skins", "--search", "whitecat"}, args...)...)
	require.NoError(t, err)

	var resp models.SkinsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Skins, 1)
	assert.Equal(t, "whitecat", resp.Skins[0].Skin)
	assert.Equal(t, 1, resp.MaxSkins)
}

func TestSkinCommand(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	out, err := run(t, append([]string{"skin", "99", "-o", "yaml"}, args...)...)
	require.NoError(t, err)

	var skin map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &skin))
	assert.Equal(t, "custom-99", skin["skinName"])
	assert.Equal(t, true, skin["found"])

	_, err = run(t, append([]string{"skin", "abc"}, args...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid skin id")
}

func TestRendersCommand(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	out, err := run(t, append([]string{"renders", "--ordr-username", "mrekk", "--no-bots"}, args...)...)
	require.NoError(t, err)

	var resp models.RendersResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Renders, 1)
	assert.Equal(t, 7, resp.Renders[0].ID)
	assert.Equal(t, "mrekk", resp.Renders[0].Username)
}

func TestServersCommand(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	tests := []struct {
		name  string
		extra []string
		want  []string
	}{
		{"all", nil, []string{"up", "down"}},
		{"online only", []string{"--online"}, []string{"up"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append(append([]string{"servers"}, tt.extra...), args...)...)
			require.NoError(t, err)

			var servers []models.RenderServer
			require.NoError(t, json.Unmarshal([]byte(out), &servers))
			names := make([]string, 0, len(servers))
			for _, s := range servers {
				names = append(names, s.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestOnlineCommand(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	out, err := run(t, append([]string{"online"}, args...)...)
	require.NoError(t, err)
	assert.JSONEq(t, `{"online":3}`, out)
}

func TestUnknownOutputFormat(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	_, err := run(t, append([]string{"online", "-o", "xml"}, args...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestInvalidDeveloperMode(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	_, err := run(t, append([]string{"online", "--dev-mode", "devmode_nope"}, args...)...)
	require.Error(t, err)
}

func TestRenderCommand(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	replay := filepath.Join(t.TempDir(), "play.osr")
	require.NoError(t, os.WriteFile(replay, []byte("osr"), 0o600))

	out, err := run(t, append([]string{
		"render",
		"--replay-file", replay,
		"--username", "tester",
		"--skin", "1234",
		"--custom-skin",
		"--resolution", "1920x1080",
	}, args...)...)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Render queued","renderID":42}`, out)

	form := receive(t, api.forms, "render form")
	assert.Equal(t, []string{"tester"}, form["username"])
	assert.Equal(t, []string{"1234"}, form["skin"])
	assert.Equal(t, []string{"true"}, form["customSkin"])
	assert.Equal(t, []string{"1920x1080"}, form["resolution"])
	assert.Equal(t, []string{"devmode_success"}, form["verificationKey"])
}

func TestRenderCommand_MissingReplay(t *testing.T) {
	api := newFakeAPI(t)
	args := baseArgs(t, api.URL, "ws://127.0.0.1:1")

	_, err := run(t, append([]string{"render", "--username", "tester", "--skin", "default"}, args...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay")
}

func TestRenderCommand_Wait(t *testing.T) {
	api := newFakeAPI(t)
	push := testutil.NewPushServer(t)
	args := baseArgs(t, api.URL, push.URL)

	var out, errOut syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- execute(context.Background(), &out, &errOut, append([]string{
			"render",
			"--replay-url", "https://example.com/play.osr",
			"--username", "tester",
			"--skin", "default",
			"--wait",
			"--wait-timeout", "10s",
		}, args...)...)
	}()

	conn := push.Accept(t, 5*time.Second)
	receive(t, api.posted, "render post")
	form := receive(t, api.forms, "render form")
	assert.Equal(t, []string{"https://example.com/play.osr"}, form["replayURL"])

	require.NoError(t, conn.EmitRaw("render_progress_json",
		`{"renderID":41,"username":"tester","progress":"Rendering: 99%","renderer":"r1","description":""}`))
	require.NoError(t, conn.EmitRaw("render_progress_json",
		`{"renderID":42,"username":"tester","progress":"Rendering: 50%","renderer":"r1","description":""}`))
	require.NoError(t, conn.EmitRaw("render_finish_json", `{"renderID":42,"videoUrl":"https://link.issou.best/abc"}`))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("render --wait did not return")
	}

	assert.JSONEq(t, `{"renderID":42,"videoUrl":"https://link.issou.best/abc"}`, out.String())
	assert.Contains(t, errOut.String(), "render 42 queued")
	assert.Contains(t, errOut.String(), "Rendering: 50%")
	assert.NotContains(t, errOut.String(), "Rendering: 99%")
}

func TestRenderCommand_WaitFail(t *testing.T) {
	api := newFakeAPI(t)
	push := testutil.NewPushServer(t)
	args := baseArgs(t, api.URL, push.URL)

	var out, errOut syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- execute(context.Background(), &out, &errOut, append([]string{
			"render",
			"--replay-url", "https://example.com/play.osr",
			"--username", "tester",
			"--skin", "default",
			"--wait",
		}, args...)...)
	}()

	conn := push.Accept(t, 5*time.Second)
	receive(t, api.posted, "render post")
	require.NoError(t, conn.EmitRaw("render_fail_json",
		`{"renderID":42,"errorCode":15,"errorMessage":"player banned","removed":false}`))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "render 42 failed: player banned")
	case <-time.After(10 * time.Second):
		t.Fatal("render --wait did not return")
	}
}

func TestLoadRenderOptions(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "opts.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"musicVolume":10,"showPPCounter":false}`), 0o600))
	yamlPath := filepath.Join(dir, "opts.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("musicVolume: 10\nshowPPCounter: false\ncursorSize: 1.5\n"), 0o600))
	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{`), 0o600))

	t.Run("defaults", func(t *testing.T) {
		opts, err := loadRenderOptions("")
		require.NoError(t, err)
		assert.Equal(t, models.DefaultRenderOptions(), opts)
	})

	t.Run("json", func(t *testing.T) {
		opts, err := loadRenderOptions(jsonPath)
		require.NoError(t, err)
		assert.Equal(t, 10, opts.MusicVolume)
		assert.False(t, opts.ShowPPCounter)
		assert.True(t, opts.ShowScore)
	})

	t.Run("yaml", func(t *testing.T) {
		opts, err := loadRenderOptions(yamlPath)
		require.NoError(t, err)
		assert.Equal(t, 10, opts.MusicVolume)
		assert.False(t, opts.ShowPPCounter)
		assert.Equal(t, 1.5, opts.CursorSize)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := loadRenderOptions(badPath)
		require.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := loadRenderOptions(filepath.Join(dir, "nope.json"))
		require.Error(t, err)
	})
}

func TestWatchFlags_Apply(t *testing.T) {
	tests := []struct {
		name  string
		flags watchFlags
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name:  "journal",
			flags: watchFlags{Journal: "events.db"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.True(t, cfg.Journal.Enabled)
				assert.Equal(t, "sqlite", cfg.Journal.Driver)
				assert.Equal(t, "events.db", cfg.Journal.DSN)
			},
		},
		{
			name:  "serve",
			flags: watchFlags{Serve: "0.0.0.0:8080"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.True(t, cfg.Server.Enabled)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
			},
		},
		{
			name:  "bad serve address",
			flags: watchFlags{Serve: "nowhere"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.True(t, cfg.Server.Enabled)
				assert.Equal(t, -1, cfg.Server.Port)
			},
		},
		{
			name:  "monitor",
			flags: watchFlags{Monitor: true},
			check: func(t *testing.T, cfg *config.Config) {
				assert.True(t, cfg.Monitor.Enabled)
				assert.False(t, cfg.Client.DisablePush)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Client.DisablePush = true
			tt.flags.apply(cfg)
			tt.check(t, cfg)
		})
	}
}

func TestWatchCommand(t *testing.T) {
	api := newFakeAPI(t)
	push := testutil.NewPushServer(t)
	args := baseArgs(t, api.URL, push.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out, errOut syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- execute(ctx, &out, &errOut, append([]string{"watch", "--render", "1"}, args...)...)
	}()

	conn := push.Accept(t, 5*time.Second)
	require.NoError(t, conn.EmitRaw("render_added_json", `{"renderID":2}`))
	require.NoError(t, conn.EmitRaw("render_progress_json", `{"renderID":1,"progress":"Rendering: 10%"}`))

	testutil.WaitForCondition(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "render_progress_json")
	}, "event was not printed")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}

	line := strings.TrimSpace(out.String())
	var ev watchedEvent
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.Equal(t, "render_progress_json", ev.Channel)
	assert.Equal(t, 1, ev.RenderID)
	assert.JSONEq(t, `{"renderID":1,"progress":"Rendering: 10%"}`, string(ev.Payload))
	assert.NotContains(t, out.String(), "render_added_json")
}

func TestPrinter(t *testing.T) {
	value := map[string]any{"renderID": 1, "videoUrl": "https://x"}

	t.Run("json line", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printer{format: formatJSON, w: &buf}.printLine(value))
		assert.Equal(t, `{"renderID":1,"videoUrl":"https://x"}`+"\n", buf.String())
	})

	t.Run("yaml line", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printer{format: formatYAML, w: &buf}.printLine(value))
		assert.True(t, strings.HasPrefix(buf.String(), "---\n"))
		assert.Contains(t, buf.String(), "videoUrl: https://x")
	})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jrjohn/ordr-go/pkg/models"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

type renderFlags struct {
	ReplayFile  string
	ReplayURL   string
	Username    string
	Skin        string
	CustomSkin  bool
	OptionsFile string
	Resolution  string
	Wait        bool
	WaitTimeout time.Duration
}

// renderUpdate is one push event about the render being waited on.
type renderUpdate struct {
	renderID int
	progress *models.RenderProgressEvent
	fail     *models.RenderFailEvent
	finish   *models.RenderFinishEvent
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	f := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Queue a replay for rendering",
		Example: `  ordr render --replay-file play.osr --username me --skin whitecat
  ordr render --replay-url https://example.com/play.osr --username me --skin 1234 --custom-skin --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, closeReplay, err := f.request()
			if err != nil {
				return err
			}
			defer closeReplay()

			return g.runWithClient(cmd, f.Wait, func(ctx context.Context, client *ordr.Client) error {
				if !f.Wait {
					resp, err := client.CreateRender(ctx, req)
					if err != nil {
						return err
					}
					return g.printer(cmd).print(resp)
				}
				return f.createAndWait(ctx, cmd, g.printer(cmd), client, req)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.ReplayFile, "replay-file", "", "path of the .osr replay to upload")
	flags.StringVar(&f.ReplayURL, "replay-url", "", "URL of the replay to render")
	flags.StringVar(&f.Username, "username", "", "name shown on the render")
	flags.StringVar(&f.Skin, "skin", "", "skin name, or custom skin id with --custom-skin")
	flags.BoolVar(&f.CustomSkin, "custom-skin", false, "treat --skin as a custom skin id")
	flags.StringVar(&f.OptionsFile, "options", "", "JSON or YAML file of render options, keyed by o!rdr option name")
	flags.StringVar(&f.Resolution, "resolution", "", "video resolution: 720x480|960x540|1280x720|1920x1080")
	flags.BoolVar(&f.Wait, "wait", false, "follow the render until it finishes or fails")
	flags.DurationVar(&f.WaitTimeout, "wait-timeout", 30*time.Minute, "give up waiting after this long")
	return cmd
}

func (f *renderFlags) request() (ordr.CreateRenderRequest, func(), error) {
	req := ordr.CreateRenderRequest{
		Username:   f.Username,
		Skin:       f.Skin,
		CustomSkin: f.CustomSkin,
		ReplayURL:  f.ReplayURL,
	}
	closeReplay := func() {}

	if f.OptionsFile != "" || f.Resolution != "" {
		opts, err := loadRenderOptions(f.OptionsFile)
		if err != nil {
			return req, closeReplay, err
		}
		if f.Resolution != "" {
			opts.Resolution = models.Resolution(f.Resolution)
		}
		req.Options = &opts
	}

	if f.ReplayFile != "" {
		file, err := os.Open(f.ReplayFile)
		if err != nil {
			return req, closeReplay, fmt.Errorf("failed to open replay: %w", err)
		}
		req.ReplayFile = file
		req.ReplayFilename = filepath.Base(f.ReplayFile)
		closeReplay = func() { file.Close() }
	}
	return req, closeReplay, nil
}

// loadRenderOptions reads options over the defaults. An empty path yields
// the defaults.
func loadRenderOptions(path string) (models.RenderOptions, error) {
	opts := models.DefaultRenderOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read render options: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var generic map[string]any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return opts, fmt.Errorf("failed to parse render options: %w", err)
		}
		if data, err = json.Marshal(generic); err != nil {
			return opts, err
		}
	}

	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse render options: %w", err)
	}
	return opts, nil
}

func (f *renderFlags) createAndWait(ctx context.Context, cmd *cobra.Command, out printer, client *ordr.Client, req ordr.CreateRenderRequest) error {
	ctx, cancel := context.WithTimeout(ctx, f.WaitTimeout)
	defer cancel()

	// Events can arrive before CreateRender returns the id, so everything
	// is queued and filtered afterwards.
	updates := make(chan renderUpdate, 64)
	send := func(ctx context.Context, u renderUpdate) error {
		select {
		case updates <- u:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	client.OnRenderProgress(func(ctx context.Context, e models.RenderProgressEvent) error {
		return send(ctx, renderUpdate{renderID: e.RenderID, progress: &e})
	})
	client.OnRenderFail(func(ctx context.Context, e models.RenderFailEvent) error {
		return send(ctx, renderUpdate{renderID: e.RenderID, fail: &e})
	})
	client.OnRenderFinish(func(ctx context.Context, e models.RenderFinishEvent) error {
		return send(ctx, renderUpdate{renderID: e.RenderID, finish: &e})
	})

	if err := client.Connect(ctx); err != nil {
		return err
	}

	resp, err := client.CreateRender(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "render %d queued: %s\n", resp.RenderID, resp.Message)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("stopped waiting for render %d: %w", resp.RenderID, ctx.Err())
		case u := <-updates:
			if u.renderID != resp.RenderID {
				continue
			}
			switch {
			case u.progress != nil:
				fmt.Fprintf(cmd.ErrOrStderr(), "render %d: %s\n", u.renderID, u.progress.Progress)
			case u.fail != nil:
				return fmt.Errorf("render %d failed: %s (%s)", u.renderID, u.fail.ErrorMessage, u.fail.ErrorCode)
			case u.finish != nil:
				return out.print(u.finish)
			}
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/jrjohn/ordr-go/internal/config"
	"github.com/jrjohn/ordr-go/internal/di"
	"github.com/jrjohn/ordr-go/internal/journal"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

type watchFlags struct {
	Renders []int
	Journal string
	Serve   string
	Monitor bool
}

// watchedEvent is one line of watch output.
type watchedEvent struct {
	Channel    string          `json:"channel"`
	RenderID   int             `json:"renderID,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	f := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream render events until interrupted",
		Long: `watch connects to the o!rdr push channel and prints every render event.

The journal, relay, monitor and status server sections of the config file
apply; --journal, --serve and --monitor enable them from the command line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(f.apply)
			if err != nil {
				return err
			}
			return f.run(cmd, cfg, g.printer(cmd))
		},
	}

	flags := cmd.Flags()
	flags.IntSliceVar(&f.Renders, "render", nil, "only print events for these render ids (repeatable)")
	flags.StringVar(&f.Journal, "journal", "", "record events to this sqlite file")
	flags.StringVar(&f.Serve, "serve", "", "serve status, events and the relay on host:port")
	flags.BoolVar(&f.Monitor, "monitor", false, "poll the online server count")
	return cmd
}

func (f *watchFlags) apply(cfg *config.Config) {
	cfg.Client.DisablePush = false
	if f.Journal != "" {
		cfg.Journal.Enabled = true
		cfg.Journal.Driver = string(journal.DriverSQLite)
		cfg.Journal.DSN = f.Journal
	}
	if f.Serve != "" {
		cfg.Server.Enabled = true
		if host, port, err := net.SplitHostPort(f.Serve); err == nil {
			cfg.Server.Host = host
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = p
			} else {
				cfg.Server.Port = -1
			}
		} else {
			cfg.Server.Port = -1
		}
	}
	if f.Monitor {
		cfg.Monitor.Enabled = true
	}
}

func (f *watchFlags) wants(renderID int) bool {
	if len(f.Renders) == 0 {
		return true
	}
	for _, id := range f.Renders {
		if id == renderID {
			return true
		}
	}
	return false
}

func (f *watchFlags) run(cmd *cobra.Command, cfg *config.Config, out printer) error {
	var mutex sync.Mutex
	printEvent := func(ctx context.Context, channel string, payload json.RawMessage) {
		var ref struct {
			RenderID int `json:"renderID"`
		}
		_ = json.Unmarshal(payload, &ref)
		if !f.wants(ref.RenderID) {
			return
		}

		mutex.Lock()
		defer mutex.Unlock()
		if err := out.printLine(watchedEvent{
			Channel:    channel,
			RenderID:   ref.RenderID,
			Payload:    payload,
			ReceivedAt: time.Now().UTC(),
		}); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to print event: %v\n", err)
		}
	}

	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		di.AppModule,
		fx.Invoke(func(client *ordr.Client) {
			client.Tap(printEvent)
		}),
		fx.Invoke(di.PrintBanner),
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx := commandContext(cmd)
	if err := app.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case sig := <-app.Done():
		fmt.Fprintf(cmd.ErrOrStderr(), "received %s\n", sig)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	return nil
}

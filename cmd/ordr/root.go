package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/jrjohn/ordr-go/internal/config"
	"github.com/jrjohn/ordr-go/internal/di"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

const stopTimeout = 10 * time.Second

// globalFlags are shared by every subcommand. Set flags override the
// config file and environment.
type globalFlags struct {
	ConfigFile      string
	EnvFile         string
	OutputFormat    string
	BaseURL         string
	WebsocketURL    string
	VerificationKey string
	DeveloperMode   string
	LogLevel        string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "ordr",
		Short: "Command line client for the o!rdr osu! replay rendering service",
		Long: `ordr queues osu! replay renders on o!rdr and inspects the service.

Configuration is read from config.yaml, a .env file and ORDR_ environment
variables, e.g. ORDR_CLIENT_VERIFICATION_KEY.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch g.OutputFormat {
			case formatJSON, formatYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q, want json or yaml", g.OutputFormat)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.ConfigFile, "config", "", "config file (default: ./config.yaml, ./config/config.yaml or ~/.config/ordr/config.yaml)")
	flags.StringVar(&g.EnvFile, "env-file", "", "env file to load (default: ./.env when present)")
	flags.StringVarP(&g.OutputFormat, "output", "o", formatJSON, "output format: json|yaml")
	flags.StringVar(&g.BaseURL, "base-url", "", "o!rdr API base URL")
	flags.StringVar(&g.WebsocketURL, "websocket-url", "", "o!rdr push URL")
	flags.StringVar(&g.VerificationKey, "key", "", "o!rdr verification key")
	flags.StringVar(&g.DeveloperMode, "dev-mode", "", "developer mode: devmode_success|devmode_fail|devmode_wsfail")
	flags.StringVar(&g.LogLevel, "log-level", "", "log level: debug|info|warn|error")

	root.AddCommand(
		newSkinsCmd(g),
		newSkinCmd(g),
		newRendersCmd(g),
		newServersCmd(g),
		newOnlineCmd(g),
		newRenderCmd(g),
		newWatchCmd(g),
	)
	return root
}

// loadConfig reads the configuration and applies flag overrides and
// mutate on top of it.
func (g *globalFlags) loadConfig(mutate func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: g.ConfigFile, EnvFile: g.EnvFile})
	if err != nil {
		return nil, err
	}

	if g.BaseURL != "" {
		cfg.Client.BaseURL = g.BaseURL
	}
	if g.WebsocketURL != "" {
		cfg.Client.WebsocketURL = g.WebsocketURL
	}
	if g.VerificationKey != "" {
		cfg.Client.VerificationKey = g.VerificationKey
	}
	if g.DeveloperMode != "" {
		cfg.Client.DeveloperMode = g.DeveloperMode
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if mutate != nil {
		mutate(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *globalFlags) printer(cmd *cobra.Command) printer {
	return printer{format: g.OutputFormat, w: cmd.OutOrStdout()}
}

// runWithClient starts the core components, hands the client to fn and
// shuts everything down afterwards. The push channel stays closed unless
// push is set or fn connects explicitly.
func (g *globalFlags) runWithClient(cmd *cobra.Command, push bool, fn func(ctx context.Context, client *ordr.Client) error) error {
	cfg, err := g.loadConfig(func(cfg *config.Config) {
		cfg.Client.DisablePush = !push
	})
	if err != nil {
		return err
	}

	var client *ordr.Client
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		di.CoreModule,
		fx.Populate(&client),
	)

	ctx := commandContext(cmd)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx, client)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

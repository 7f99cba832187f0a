// Package di assembles the ordr process with fx.
package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/config"
)

// CoreModule is everything a one-shot API command needs
var CoreModule = fx.Options(
	ConfigModule,
	LoggerModule,
	ObservabilityModule,
	CacheModule,
	ClientModule,
)

// AppModule is the long-running watcher: the core plus event persistence,
// the relay, the monitor and the status server
var AppModule = fx.Options(
	CoreModule,
	JournalModule,
	RelayModule,
	MonitorModule,
	StatusServerModule,
	ConnectModule,
)

// PrintBanner logs the effective setup at startup
func PrintBanner(cfg *config.Config, logger *zap.Logger) {
	logger.Info("ordr watcher starting",
		zap.String("base_url", cfg.Client.BaseURL),
		zap.String("websocket_url", cfg.Client.WebsocketURL),
		zap.Bool("verification_key", cfg.Client.VerificationKey != ""),
		zap.String("developer_mode", cfg.Client.DeveloperMode),
	)
	logger.Info("components",
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("journal", cfg.Journal.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("tracing", cfg.Tracing.Enabled),
		zap.Bool("relay", cfg.Relay.Enabled),
		zap.Bool("monitor", cfg.Monitor.Enabled),
		zap.Bool("status_server", cfg.Server.Enabled),
	)
}

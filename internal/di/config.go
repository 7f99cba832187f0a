package di

import (
	"go.uber.org/fx"

	"github.com/jrjohn/ordr-go/internal/cache"
	"github.com/jrjohn/ordr-go/internal/config"
	"github.com/jrjohn/ordr-go/internal/journal"
	"github.com/jrjohn/ordr-go/internal/monitor"
	"github.com/jrjohn/ordr-go/internal/observability"
	"github.com/jrjohn/ordr-go/internal/relay"
	"github.com/jrjohn/ordr-go/internal/server"
	"github.com/jrjohn/ordr-go/pkg/logger"
)

// ConfigModule splits a *config.Config, given with fx.Supply, into the
// per-component sections
var ConfigModule = fx.Module("config",
	fx.Provide(
		provideClientConfig,
		provideLogConfig,
		provideCacheConfig,
		provideJournalConfig,
		provideMetricsConfig,
		provideTracingConfig,
		provideServerConfig,
		provideRelayConfig,
		provideMonitorConfig,
	),
)

func provideClientConfig(cfg *config.Config) *config.ClientConfig {
	return &cfg.Client
}

func provideLogConfig(cfg *config.Config) *logger.Config {
	return &cfg.Log
}

func provideCacheConfig(cfg *config.Config) *cache.Config {
	return &cfg.Cache
}

func provideJournalConfig(cfg *config.Config) *journal.Config {
	return &cfg.Journal
}

func provideMetricsConfig(cfg *config.Config) *observability.MetricsConfig {
	return &cfg.Metrics
}

func provideTracingConfig(cfg *config.Config) *observability.TracingConfig {
	return &cfg.Tracing
}

func provideServerConfig(cfg *config.Config) *server.Config {
	return &cfg.Server
}

func provideRelayConfig(cfg *config.Config) *relay.Config {
	return &cfg.Relay
}

func provideMonitorConfig(cfg *config.Config) *monitor.Config {
	return &cfg.Monitor
}

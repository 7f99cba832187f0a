package di

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/cache"
	"github.com/jrjohn/ordr-go/internal/config"
	"github.com/jrjohn/ordr-go/internal/observability"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

// CacheModule provides the optional response cache. The provided value is
// nil when caching is disabled.
var CacheModule = fx.Module("cache",
	fx.Provide(provideCache),
)

// ClientModule provides the o!rdr client
var ClientModule = fx.Module("client",
	fx.Provide(provideClient),
)

// ConnectModule opens the push channel when the app starts instead of on
// the first request
var ConnectModule = fx.Module("connect",
	fx.Invoke(connectClient),
)

func connectClient(lc fx.Lifecycle, client *ordr.Client, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Connect(ctx); err != nil {
				return err
			}
			logger.Info("Push channel connected")
			return nil
		},
	})
}

func provideCache(lc fx.Lifecycle, cfg *cache.Config, logger *zap.Logger) (cache.Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	c, err := cache.New(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Response cache enabled",
		zap.String("driver", cfg.Driver),
		zap.Duration("ttl", cfg.TTL),
	)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Close()
		},
	})
	return c, nil
}

// ClientParams are the client's collaborators
type ClientParams struct {
	fx.In

	Config      *config.ClientConfig
	CacheConfig *cache.Config
	Cache       cache.Cache `optional:"true"`
	Logger      *zap.Logger
	Metrics     *observability.MetricsProvider
	Tracing     *observability.TracingProvider
}

func provideClient(lc fx.Lifecycle, p ClientParams) (*ordr.Client, error) {
	opts := p.Config.Options()
	opts.Logger = p.Logger
	opts.Recorder = p.Metrics
	opts.Tracer = p.Tracing.Tracer()
	if p.Cache != nil {
		opts.Cache = p.Cache
		opts.CacheTTL = p.CacheConfig.TTL
	}

	client, err := ordr.New(opts)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

package di

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/relay"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

// RelayModule provides the websocket relay. The handler is nil when the
// relay is disabled.
var RelayModule = fx.Module("relay",
	fx.Provide(provideRelayHandler),
	fx.Invoke(startRelay),
)

func provideRelayHandler(cfg *relay.Config, logger *zap.Logger) *relay.Handler {
	if !cfg.Enabled {
		return nil
	}
	return relay.NewHandler(cfg, relay.NewHub(logger), logger)
}

func startRelay(lc fx.Lifecycle, handler *relay.Handler, client *ordr.Client, logger *zap.Logger) {
	if handler == nil {
		return
	}
	hub := handler.Hub()
	client.Tap(hub.Tap())

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("Starting event relay")
			go hub.Run(ctx)
			handler.StartHeartbeat(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			hub.Stop()
			return nil
		},
	})
}

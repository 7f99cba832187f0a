package di

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/journal"
	"github.com/jrjohn/ordr-go/internal/monitor"
	"github.com/jrjohn/ordr-go/internal/observability"
	"github.com/jrjohn/ordr-go/internal/relay"
	"github.com/jrjohn/ordr-go/internal/server"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

// StatusServerModule provides the status HTTP server. The server is nil
// when disabled.
var StatusServerModule = fx.Module("status_server",
	fx.Provide(provideStatusServer),
	fx.Invoke(startStatusServer),
)

// StatusParams are the sources the status routes read from
type StatusParams struct {
	fx.In

	Config  *server.Config
	Client  *ordr.Client
	Journal *journal.Journal
	Monitor *monitor.Monitor
	Relay   *relay.Handler
	Metrics *observability.MetricsProvider
	Tracing *observability.TracingConfig
	Logger  *zap.Logger
}

func provideStatusServer(p StatusParams) *http.Server {
	if !p.Config.Enabled {
		return nil
	}

	deps := server.Deps{
		Client:  p.Client,
		Metrics: p.Metrics,
		Relay:   p.Relay,
		Logger:  p.Logger,
	}
	// Nil pointers must not become non-nil interfaces
	if p.Journal != nil {
		deps.Events = p.Journal
	}
	if p.Monitor != nil {
		deps.Online = p.Monitor
	}
	if p.Tracing.Enabled {
		deps.Service = p.Tracing.ServiceName
	}

	return server.New(p.Config, server.NewRouter(p.Config, deps))
}

func startStatusServer(lc fx.Lifecycle, srv *http.Server, logger *zap.Logger) {
	if srv == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("Starting status server", zap.String("address", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Status server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping status server")
			return srv.Shutdown(ctx)
		},
	})
}

package di

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/cache"
	"github.com/jrjohn/ordr-go/internal/journal"
	"github.com/jrjohn/ordr-go/internal/monitor"
	"github.com/jrjohn/ordr-go/internal/observability"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

// MonitorModule provides the scheduled online-count poller. The monitor
// is nil when disabled.
var MonitorModule = fx.Module("monitor",
	fx.Provide(provideMonitor),
	fx.Invoke(startMonitor),
)

// MonitorParams are the monitor's collaborators
type MonitorParams struct {
	fx.In

	Config  *monitor.Config
	Client  *ordr.Client
	Journal *journal.Journal
	Cache   cache.Cache `optional:"true"`
	Metrics *observability.MetricsProvider
	Tracing *observability.TracingProvider
	Logger  *zap.Logger
}

func provideMonitor(p MonitorParams) (*monitor.Monitor, error) {
	if !p.Config.Enabled {
		return nil, nil
	}
	opts := []monitor.Option{
		monitor.WithRecorder(p.Metrics),
		monitor.WithTracer(p.Tracing.Tracer()),
	}
	if p.Journal != nil {
		opts = append(opts, monitor.WithPruner(p.Journal))
		// Watchers sharing a Redis cache usually share the journal too.
		if rc, ok := p.Cache.(*cache.RedisCache); ok {
			opts = append(opts, monitor.WithLocker(monitor.NewRedisLocker(rc.Client())))
		}
	}
	return monitor.New(p.Config, p.Client, p.Logger, opts...)
}

func startMonitor(lc fx.Lifecycle, m *monitor.Monitor) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return m.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return m.Stop(stopCtx)
		},
	})
}

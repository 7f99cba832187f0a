package di

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/journal"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

// JournalModule provides the event journal and feeds it every push event.
// The provided journal is nil when disabled.
var JournalModule = fx.Module("journal",
	fx.Provide(provideJournal),
	fx.Invoke(tapJournal),
)

func provideJournal(lc fx.Lifecycle, cfg *journal.Config, logger *zap.Logger) (*journal.Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	j, err := journal.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing journal database")
			return j.Close()
		},
	})
	return j, nil
}

func tapJournal(client *ordr.Client, j *journal.Journal) {
	if j != nil {
		client.Tap(j.Tap())
	}
}

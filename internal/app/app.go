package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/chrissnell/reservoirflow/internal/bundle"
	"github.com/chrissnell/reservoirflow/internal/log"
	"github.com/chrissnell/reservoirflow/internal/storage"
	"github.com/chrissnell/reservoirflow/internal/storage/sqlite"
	"github.com/chrissnell/reservoirflow/internal/storage/timescaledb"
	"github.com/chrissnell/reservoirflow/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	if logger == nil {
		logger = log.GetSugaredLogger()
	}
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run executes one batch run: it loads the configured bundle, runs the
// pipeline and persists the results. SIGINT and SIGTERM cancel the run.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return err
	}

	a.logger.Infof("loading bundle %s", cfg.Input.Bundle)
	b, err := bundle.Load(cfg.Input.Bundle)
	if err != nil {
		return err
	}

	store, err := OpenStore(ctx, cfg.Storage, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := NewPipeline(cfg, a.logger).Process(ctx, b, store)
	if err != nil {
		return err
	}

	spliced := 0
	for _, o := range res.Outcomes {
		if !o.Skipped {
			spliced++
		}
	}
	a.logger.Infof("run %s complete: %d regions, %d reservoirs spliced, %d basin outlets",
		res.RunID, len(res.Regions), spliced, len(res.Hydrographs))
	return nil
}

// ImportObservations copies the observation series carried by the
// configured bundle into the results store, so later runs can read them
// with the database observation source.
func (a *App) ImportObservations(ctx context.Context) (int, error) {
	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return 0, err
	}
	b, err := bundle.Load(cfg.Input.Bundle)
	if err != nil {
		return 0, err
	}

	store, err := OpenStore(ctx, cfg.Storage, a.logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	rows := storage.ObservationRows(b.Observations)
	if err := store.SaveObservations(ctx, rows); err != nil {
		return 0, err
	}
	a.logger.Infof("imported %d observations for %d regions from %s", len(rows), len(b.Observations), cfg.Input.Bundle)
	return len(rows), nil
}

// OpenStore opens the configured results backend.
func OpenStore(ctx context.Context, cfg config.StorageData, logger *zap.SugaredLogger) (storage.ResultStore, error) {
	switch {
	case cfg.TimescaleDB != nil:
		return timescaledb.New(ctx, cfg.TimescaleDB.ConnectionString, logger)
	case cfg.SQLite != nil:
		return sqlite.New(ctx, cfg.SQLite.Path, logger)
	default:
		return nil, fmt.Errorf("%w: no storage backend configured", config.ErrInvalidConfig)
	}
}

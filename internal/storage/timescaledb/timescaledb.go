// Package timescaledb stores pipeline results in TimescaleDB.
package timescaledb

import (
	"context"
	"fmt"

	"github.com/chrissnell/reservoirflow/internal/database"
	"github.com/chrissnell/reservoirflow/internal/storage"
	"github.com/chrissnell/reservoirflow/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 500

// Storage holds the connection for a TimescaleDB results backend
type Storage struct {
	TimescaleDBConn *gorm.DB
	logger          *zap.SugaredLogger
}

var _ storage.ResultStore = (*Storage)(nil)

// New connects to TimescaleDB and creates the result tables.
func New(ctx context.Context, connectionString string, logger *zap.SugaredLogger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := database.CreateConnection(connectionString)
	if err != nil {
		return nil, err
	}
	t := &Storage{TimescaleDBConn: db, logger: logger}

	steps := []struct {
		what string
		sql  string
	}{
		{"TimescaleDB extension", createExtensionSQL},
		{"runs table", createRunsTableSQL},
		{"regions table", createRegionsTableSQL},
		{"storage_changes table", createStorageChangesTableSQL},
		{"splice_outcomes table", createOutcomesTableSQL},
		{"outlet_hydrograph table", createHydrographTableSQL},
		{"outlet_hydrograph hypertable", createHypertableSQL},
		{"observations table", createObservationsTableSQL},
	}
	for _, s := range steps {
		logger.Infof("creating %s...", s.what)
		if err := db.WithContext(ctx).Exec(s.sql).Error; err != nil {
			logger.Warnf("could not create %s", s.what)
			t.Close()
			return nil, fmt.Errorf("creating %s: %w", s.what, err)
		}
	}

	return t, nil
}

func (t *Storage) SaveRun(ctx context.Context, run database.Run) error {
	if err := t.TimescaleDBConn.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("could not store run %s: %w", run.ID, err)
	}
	return nil
}

func (t *Storage) SaveRegions(ctx context.Context, rows []database.Region) error {
	return create(ctx, t.TimescaleDBConn, rows)
}

func (t *Storage) SaveChanges(ctx context.Context, rows []database.StorageChange) error {
	return create(ctx, t.TimescaleDBConn, rows)
}

func (t *Storage) SaveOutcomes(ctx context.Context, rows []database.Outcome) error {
	return create(ctx, t.TimescaleDBConn, rows)
}

func (t *Storage) SaveHydrograph(ctx context.Context, rows []database.HydrographPoint) error {
	return create(ctx, t.TimescaleDBConn, rows)
}

func (t *Storage) SaveObservations(ctx context.Context, rows []database.Observation) error {
	if len(rows) == 0 {
		return nil
	}
	err := t.TimescaleDBConn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "region_id"}, {Name: "year"}, {Name: "month"}},
		DoUpdates: clause.AssignmentColumns([]string{"pixels"}),
	}).CreateInBatches(rows, batchSize).Error
	if err != nil {
		return fmt.Errorf("could not store observations: %w", err)
	}
	return nil
}

// LoadObservations returns the stored series of each requested region in
// chronological order.
func (t *Storage) LoadObservations(ctx context.Context, regionIDs []int) (map[int]types.ObservationSeries, error) {
	if len(regionIDs) == 0 {
		return map[int]types.ObservationSeries{}, nil
	}
	var rows []database.Observation
	err := t.TimescaleDBConn.WithContext(ctx).
		Where("region_id IN ?", regionIDs).
		Order("region_id, year, month").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error querying database for observations: %w", err)
	}
	return storage.GroupObservations(rows), nil
}

// Close releases the underlying connection pool.
func (t *Storage) Close() error {
	sqlDB, err := t.TimescaleDBConn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func create[T any](ctx context.Context, db *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).CreateInBatches(rows, batchSize).Error; err != nil {
		var zero T
		return fmt.Errorf("could not store %T rows: %w", zero, err)
	}
	return nil
}

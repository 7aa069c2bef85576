// Package sqlite stores pipeline results in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chrissnell/reservoirflow/internal/database"
	"github.com/chrissnell/reservoirflow/internal/storage"
	"github.com/chrissnell/reservoirflow/internal/types"
	"github.com/chrissnell/reservoirflow/pkg/migrate"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Storage is a SQLite-backed storage.ResultStore.
type Storage struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

var _ storage.ResultStore = (*Storage)(nil)

// New opens (creating if needed) the database at path and migrates it.
func New(ctx context.Context, path string, logger *zap.SugaredLogger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	if err := Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	logger.Infof("results database ready at %s", path)
	return &Storage{db: db, logger: logger}, nil
}

// Migrate brings the schema of db up to the latest version.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	set, err := migrate.Load(migrations, "migrations")
	if err != nil {
		return err
	}
	if err := migrate.NewMigrator(db, set, logger).MigrateUp(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// insert runs query once per row inside a single transaction.
func (s *Storage) insert(ctx context.Context, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) SaveRun(ctx context.Context, run database.Run) error {
	_, err := s.db.ExecContext(ctx, insertRunSQL, run.ID, run.StartedAt, run.Bundle, run.Regions)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Storage) SaveRegions(ctx context.Context, rows []database.Region) error {
	return s.insert(ctx, insertRegionSQL, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.RunID, r.RegionID, r.MinX, r.MinY, r.MaxX, r.MaxY,
			r.A, r.B, r.AreaOffset, r.VolumeOffset, r.RMSE, r.RSquared, r.Points, r.Degenerate, r.Error}
	})
}

func (s *Storage) SaveChanges(ctx context.Context, rows []database.StorageChange) error {
	return s.insert(ctx, insertChangeSQL, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.RunID, r.RegionID, r.Year, r.Month, r.Volume, r.Discharge}
	})
}

func (s *Storage) SaveOutcomes(ctx context.Context, rows []database.Outcome) error {
	return s.insert(ctx, insertOutcomeSQL, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.RunID, r.RegionID, r.OutletPixel, r.Upstream, r.Downstream,
			r.Split, r.Requested, r.Applied, r.Rescaled, r.Skipped, r.Reason}
	})
}

func (s *Storage) SaveHydrograph(ctx context.Context, rows []database.HydrographPoint) error {
	return s.insert(ctx, insertHydrographSQL, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.RunID, r.SegmentID, r.Time, r.Discharge}
	})
}

func (s *Storage) SaveObservations(ctx context.Context, rows []database.Observation) error {
	return s.insert(ctx, upsertObservationSQL, len(rows), func(i int) []any {
		r := rows[i]
		return []any{r.RegionID, r.Year, r.Month, r.Pixels}
	})
}

// LoadObservations returns the stored series of each requested region in
// chronological order. Regions without rows are absent from the map.
func (s *Storage) LoadObservations(ctx context.Context, regionIDs []int) (map[int]types.ObservationSeries, error) {
	if len(regionIDs) == 0 {
		return map[int]types.ObservationSeries{}, nil
	}
	args := make([]any, len(regionIDs))
	for i, id := range regionIDs {
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT region_id, year, month, pixels FROM observations
		WHERE region_id IN (%s) ORDER BY region_id, year, month`,
		strings.TrimSuffix(strings.Repeat("?,", len(regionIDs)), ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var obs []database.Observation
	for rows.Next() {
		var o database.Observation
		if err := rows.Scan(&o.RegionID, &o.Year, &o.Month, &o.Pixels); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}
	return storage.GroupObservations(obs), nil
}

func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

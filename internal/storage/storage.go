// Package storage defines the result store the pipeline persists into and
// the conversions from pipeline values to stored rows.
package storage

import (
	"context"
	"sort"
	"time"

	"github.com/chrissnell/reservoirflow/internal/database"
	"github.com/chrissnell/reservoirflow/internal/splice"
	"github.com/chrissnell/reservoirflow/internal/stagestorage"
	"github.com/chrissnell/reservoirflow/internal/types"
	"github.com/google/uuid"
)

// ResultStore is implemented by every results backend.
type ResultStore interface {
	SaveRun(ctx context.Context, run database.Run) error
	SaveRegions(ctx context.Context, rows []database.Region) error
	SaveChanges(ctx context.Context, rows []database.StorageChange) error
	SaveOutcomes(ctx context.Context, rows []database.Outcome) error
	SaveHydrograph(ctx context.Context, rows []database.HydrographPoint) error
	SaveObservations(ctx context.Context, rows []database.Observation) error
	LoadObservations(ctx context.Context, regionIDs []int) (map[int]types.ObservationSeries, error)
	Close() error
}

// NewRun starts a run record with a fresh id.
func NewRun(bundle string, regions int) database.Run {
	return database.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Bundle:    bundle,
		Regions:   regions,
	}
}

// RegionRow flattens a region and its fit. fitErr is recorded instead of a
// model when fitting failed.
func RegionRow(runID string, region types.Region, fit stagestorage.FitResult, fitErr error) database.Region {
	row := database.Region{
		RunID:    runID,
		RegionID: region.ID,
		MinX:     region.Bound.Min.X(),
		MinY:     region.Bound.Min.Y(),
		MaxX:     region.Bound.Max.X(),
		MaxY:     region.Bound.Max.Y(),
	}
	if fitErr != nil {
		row.Error = fitErr.Error()
		return row
	}
	row.A, row.B = fit.Model.A, fit.Model.B
	row.AreaOffset, row.VolumeOffset = fit.Model.AreaOffset, fit.Model.VolumeOffset
	row.RMSE, row.RSquared, row.Points = fit.Quality.RMSE, fit.Quality.RSquared, fit.Quality.Points
	row.Degenerate = fit.Degenerate
	return row
}

// ChangeRows pairs each storage change with its flow equivalent.
func ChangeRows(runID string, regionID int, changes types.StorageChangeSeries, rates []float64) []database.StorageChange {
	rows := make([]database.StorageChange, len(changes))
	for i, c := range changes {
		rows[i] = database.StorageChange{
			RunID:    runID,
			RegionID: regionID,
			Year:     c.Year,
			Month:    c.Month,
			Volume:   c.Volume,
		}
		if i < len(rates) {
			rows[i].Discharge = rates[i]
		}
	}
	return rows
}

// OutcomeRows converts splice outcomes.
func OutcomeRows(runID string, outcomes []splice.Outcome) []database.Outcome {
	rows := make([]database.Outcome, len(outcomes))
	for i, o := range outcomes {
		rows[i] = database.Outcome{
			RunID:       runID,
			RegionID:    o.RegionID,
			OutletPixel: o.OutletPixel,
			Upstream:    o.Upstream,
			Downstream:  o.Downstream,
			Split:       o.Split,
			Requested:   o.Requested,
			Applied:     o.Applied,
			Rescaled:    o.Rescaled,
			Skipped:     o.Skipped,
			Reason:      o.Reason,
		}
	}
	return rows
}

// HydrographRows labels the outlet discharge with its months. steps and
// flow must have equal length.
func HydrographRows(runID string, segment int, steps []types.Step, flow []float64) []database.HydrographPoint {
	rows := make([]database.HydrographPoint, len(flow))
	for i, q := range flow {
		rows[i] = database.HydrographPoint{
			RunID:     runID,
			SegmentID: segment,
			Time:      steps[i].Time(),
			Discharge: q,
		}
	}
	return rows
}

// ObservationRows flattens per-region series into rows ordered by region.
func ObservationRows(series map[int]types.ObservationSeries) []database.Observation {
	ids := make([]int, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var rows []database.Observation
	for _, id := range ids {
		for _, o := range series[id] {
			rows = append(rows, database.Observation{RegionID: id, Year: o.Year, Month: o.Month, Pixels: o.Pixels})
		}
	}
	return rows
}

// GroupObservations collects rows ordered by region, year and month into
// one series per region.
func GroupObservations(rows []database.Observation) map[int]types.ObservationSeries {
	out := make(map[int]types.ObservationSeries)
	for _, r := range rows {
		out[r.RegionID] = append(out[r.RegionID], types.Observation{
			Step:   types.Step{Month: r.Month, Year: r.Year},
			Pixels: r.Pixels,
		})
	}
	return out
}

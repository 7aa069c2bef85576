package sqlite

import "embed"

//go:embed migrations/*.sql
var migrations embed.FS

const insertRunSQL = `INSERT INTO runs (id, started_at, bundle, regions) VALUES (?, ?, ?, ?)`

const insertRegionSQL = `INSERT INTO regions (run_id, region_id, min_x, min_y, max_x, max_y,
    a, b, area_offset, volume_offset, rmse, r_squared, points, degenerate, error)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertChangeSQL = `INSERT INTO storage_changes (run_id, region_id, year, month, volume, discharge)
    VALUES (?, ?, ?, ?, ?, ?)`

const insertOutcomeSQL = `INSERT INTO splice_outcomes (run_id, region_id, outlet_pixel,
    upstream_segment, downstream_segment, split, requested, applied, rescaled, skipped, reason)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertHydrographSQL = `INSERT INTO outlet_hydrograph (run_id, segment_id, time, discharge)
    VALUES (?, ?, ?, ?)`

const upsertObservationSQL = `INSERT INTO observations (region_id, year, month, pixels)
    VALUES (?, ?, ?, ?)
    ON CONFLICT (region_id, year, month) DO UPDATE SET pixels = excluded.pixels`

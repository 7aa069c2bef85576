package timescaledb

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS timescaledb;`

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id text PRIMARY KEY,
    started_at timestamp WITH TIME ZONE NOT NULL,
    bundle text NULL,
    regions int NULL
);`

const createRegionsTableSQL = `
CREATE TABLE IF NOT EXISTS regions (
    run_id text NOT NULL REFERENCES runs(id),
    region_id int NOT NULL,
    min_x float8 NULL,
    min_y float8 NULL,
    max_x float8 NULL,
    max_y float8 NULL,
    a float8 NULL,
    b float8 NULL,
    area_offset float8 NULL,
    volume_offset float8 NULL,
    rmse float8 NULL,
    r_squared float8 NULL,
    points int NULL,
    degenerate boolean NULL,
    error text NULL,
    PRIMARY KEY (run_id, region_id)
);`

const createStorageChangesTableSQL = `
CREATE TABLE IF NOT EXISTS storage_changes (
    run_id text NOT NULL REFERENCES runs(id),
    region_id int NOT NULL,
    year int NULL,
    month int NULL,
    volume float8 NULL,
    discharge float8 NULL
);`

const createOutcomesTableSQL = `
CREATE TABLE IF NOT EXISTS splice_outcomes (
    run_id text NOT NULL REFERENCES runs(id),
    region_id int NOT NULL,
    outlet_pixel bigint NULL,
    upstream_segment int NULL,
    downstream_segment int NULL,
    split boolean NULL,
    requested float8 NULL,
    applied float8 NULL,
    rescaled boolean NULL,
    skipped boolean NULL,
    reason text NULL
);`

const createHydrographTableSQL = `
CREATE TABLE IF NOT EXISTS outlet_hydrograph (
    run_id text NOT NULL,
    segment_id int NULL,
    time timestamp WITH TIME ZONE NOT NULL,
    discharge float8 NULL
);`

const createHypertableSQL = `SELECT create_hypertable('outlet_hydrograph', 'time', if_not_exists => true);`

const createObservationsTableSQL = `
CREATE TABLE IF NOT EXISTS observations (
    region_id int NOT NULL,
    year int NOT NULL,
    month int NOT NULL,
    pixels float8 NULL,
    PRIMARY KEY (region_id, year, month)
);`

package app

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/chrissnell/reservoirflow/internal/bundle"
	"github.com/chrissnell/reservoirflow/internal/database"
	"github.com/chrissnell/reservoirflow/internal/network"
	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/storage"
	"github.com/chrissnell/reservoirflow/internal/storage/sqlite"
	"github.com/chrissnell/reservoirflow/internal/types"
	"github.com/chrissnell/reservoirflow/pkg/config"
	"go.uber.org/goleak"
)

const (
	size     = 20
	river    = 10
	inflow   = 100.0
	nsteps   = 6
	lakeRow0 = 9
)

var tr = raster.Transform{OriginX: 0, OriginY: size * 30, PixelWidth: 30, PixelHeight: -30}

func pid(r, c int) int64 { return int64(r*size + c + 1) }

func grid() *raster.Grid {
	g := raster.New(size, size, tr)
	g.Projected = true
	return g
}

// lakeBundle is a straight river running south down column 10 through a
// 3×3 lake whose bed slopes from 5 m to 9.5 m inside 10 m terrain. The lake
// alternates between 5 and 9 flooded pixels every month.
func lakeBundle(t *testing.T) *bundle.Bundle {
	t.Helper()
	b := &bundle.Bundle{
		Occurrence:   grid(),
		DEM:          grid(),
		Basin:        grid(),
		Accumulation: grid(),
		IDs:          grid(),
	}
	bed := []float64{5, 6, 6.5, 7, 7.5, 8, 8.5, 9, 9.5}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			b.Basin.Set(r, c, 1)
			b.DEM.Set(r, c, 10)
			b.Accumulation.Set(r, c, 1)
			b.IDs.Set(r, c, float64(pid(r, c)))
		}
		b.Accumulation.Set(r, river, float64(r+2))
	}
	for k, z := range bed {
		r, c := lakeRow0+k/3, river-1+k%3
		b.Occurrence.Set(r, c, 80)
		b.DEM.Set(r, c, z)
	}

	seg := network.SegmentData{ID: 0}
	for r := 0; r < size; r++ {
		seg.Pixels = append(seg.Pixels, pid(r, river))
		seg.Elevation = append(seg.Elevation, 10)
		seg.Distance = append(seg.Distance, float64(r)*30)
	}
	var obs types.ObservationSeries
	for s := 0; s < nsteps; s++ {
		row := make([]float64, size)
		for i := range row {
			row[i] = inflow
		}
		seg.Discharge = append(seg.Discharge, row)

		step := types.Step{Month: s + 1, Year: 2020}
		b.Steps = append(b.Steps, step)
		pixels := 5.0
		if s%2 == 1 {
			pixels = 9
		}
		obs = append(obs, types.Observation{Step: step, Pixels: pixels})
	}
	b.Segments = []network.SegmentData{seg}
	b.Observations = map[int]types.ObservationSeries{0: obs}
	return b
}

func testConfig(source string) *config.ConfigData {
	cfg := &config.ConfigData{
		Input:     config.InputData{Bundle: "lake.msgpack", Observations: source},
		Detection: config.DetectionData{Threshold: 1, BlockSize: 1},
		Fitting:   config.FittingData{Workers: 2},
	}
	cfg.ApplyDefaults()
	return cfg
}

// memoryStore records everything written to it.
type memoryStore struct {
	mu           sync.Mutex
	runs         []database.Run
	regions      []database.Region
	changes      []database.StorageChange
	outcomes     []database.Outcome
	hydrograph   []database.HydrographPoint
	observations []database.Observation
}

func (m *memoryStore) SaveRun(_ context.Context, run database.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryStore) SaveRegions(_ context.Context, rows []database.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = append(m.regions, rows...)
	return nil
}

func (m *memoryStore) SaveChanges(_ context.Context, rows []database.StorageChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, rows...)
	return nil
}

func (m *memoryStore) SaveOutcomes(_ context.Context, rows []database.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, rows...)
	return nil
}

func (m *memoryStore) SaveHydrograph(_ context.Context, rows []database.HydrographPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hydrograph = append(m.hydrograph, rows...)
	return nil
}

func (m *memoryStore) SaveObservations(_ context.Context, rows []database.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, rows...)
	return nil
}

func (m *memoryStore) LoadObservations(_ context.Context, ids []int) (map[int]types.ObservationSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int]bool)
	for _, id := range ids {
		want[id] = true
	}
	var rows []database.Observation
	for _, o := range m.observations {
		if want[o.RegionID] {
			rows = append(rows, o)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RegionID != rows[j].RegionID {
			return rows[i].RegionID < rows[j].RegionID
		}
		return rows[i].Year*12+rows[i].Month < rows[j].Year*12+rows[j].Month
	})
	return storage.GroupObservations(rows), nil
}

func (m *memoryStore) Close() error { return nil }

var _ storage.ResultStore = (*memoryStore)(nil)

// checkLakeSplice asserts the end-to-end properties of the lake scenario.
func checkLakeSplice(t *testing.T, res *Result) {
	t.Helper()
	if len(res.Regions) != 1 {
		t.Fatalf("expected one region, got %d", len(res.Regions))
	}
	if res.Fits[0].Err != nil {
		t.Fatalf("fit failed: %v", res.Fits[0].Err)
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Skipped {
		t.Fatalf("expected the lake to be spliced, got %+v", res.Outcomes)
	}
	o := res.Outcomes[0]
	if !o.Split || o.Upstream != 0 || o.Downstream != 1 || res.Network.Len() != 2 {
		t.Fatalf("expected the river split into two segments, got %+v with %d segments", o, res.Network.Len())
	}
	if o.OutletPixel != pid(size-1, river) {
		t.Errorf("expected outlet at the downstream region edge, got pixel %d", o.OutletPixel)
	}

	parent, _ := res.Network.Segment(0)
	up, _ := res.Network.DischargeAt(0, len(parent.Pixels)-1)
	down, _ := res.Network.DischargeAt(1, 0)
	rates := res.Rates[0]
	if len(rates) != nsteps-1 {
		t.Fatalf("expected %d monthly rates, got %d", nsteps-1, len(rates))
	}
	for s := 0; s < nsteps; s++ {
		change := 0.0
		if s > 0 {
			change = math.Min(inflow, rates[s-1])
		}
		if down[s] < 0 {
			t.Errorf("step %d: negative downstream discharge %f", s, down[s])
		}
		if math.Abs(down[s]-(inflow-change)) > 1e-9 {
			t.Errorf("step %d: downstream %f != inflow %f - change %f", s, down[s], inflow, change)
		}
		// the truncated reach above the outlet is reduced by the same amount
		if math.Abs(up[s]-(inflow-change)) > 1e-9 {
			t.Errorf("step %d: upstream %f != inflow %f - change %f", s, up[s], inflow, change)
		}
	}
	// filling and draining alternate with the observed area
	for s, r := range rates {
		if (s%2 == 0) != (r > 0) {
			t.Errorf("month %d: unexpected sign of storage change %f", s+2, r)
		}
	}

	if h, ok := res.Hydrographs[1]; !ok || len(h) != nsteps {
		t.Errorf("expected the new segment to carry the basin outlet hydrograph, got %v", res.Hydrographs)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	store := &memoryStore{}
	res, err := NewPipeline(testConfig(config.ObservationsBundle), nil).Process(context.Background(), lakeBundle(t), store)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	checkLakeSplice(t, res)

	if len(store.runs) != 1 || store.runs[0].ID != res.RunID {
		t.Errorf("expected one run %s, got %+v", res.RunID, store.runs)
	}
	if len(store.regions) != 1 || store.regions[0].Error != "" {
		t.Errorf("unexpected region rows %+v", store.regions)
	}
	if len(store.changes) != nsteps-1 || len(store.outcomes) != 1 || len(store.hydrograph) != nsteps {
		t.Errorf("unexpected row counts: %d changes, %d outcomes, %d hydrograph points",
			len(store.changes), len(store.outcomes), len(store.hydrograph))
	}
	for _, row := range store.changes {
		if row.RunID != res.RunID {
			t.Errorf("change row tagged with run %s", row.RunID)
		}
	}
}

func TestPipelineObservationsFromDatabase(t *testing.T) {
	b := lakeBundle(t)
	store := &memoryStore{}
	for _, o := range b.Observations[0] {
		store.observations = append(store.observations, database.Observation{
			RegionID: 0, Year: o.Year, Month: o.Month, Pixels: o.Pixels,
		})
	}
	b.Observations = nil

	res, err := NewPipeline(testConfig(config.ObservationsDatabase), nil).Process(context.Background(), b, store)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	checkLakeSplice(t, res)

	if _, err := NewPipeline(testConfig(config.ObservationsDatabase), nil).Process(context.Background(), lakeBundle(t), nil); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected a configuration error without a store, got %v", err)
	}
}

func TestPipelineWithoutObservations(t *testing.T) {
	b := lakeBundle(t)
	b.Observations = nil

	res, err := NewPipeline(testConfig(config.ObservationsBundle), nil).Process(context.Background(), b, nil)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if len(res.Outcomes) != 0 || res.Network.Len() != 1 {
		t.Errorf("expected nothing spliced, got %d outcomes and %d segments", len(res.Outcomes), res.Network.Len())
	}
	if h := res.Hydrographs[0]; len(h) != nsteps || h[0] != inflow {
		t.Errorf("expected the unregulated hydrograph, got %v", h)
	}
}

func TestPipelineCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewPipeline(testConfig(config.ObservationsBundle), nil).Process(ctx, lakeBundle(t), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "lake.msgpack")
	if err := lakeBundle(t).Save(bundlePath); err != nil {
		t.Fatalf("saving bundle: %v", err)
	}
	dbPath := filepath.Join(dir, "results.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "input:\n  bundle: " + bundlePath + "\n" +
		"detection:\n  threshold: 1\n  block-size: 1\n" +
		"storage:\n  sqlite:\n    path: " + dbPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if err := New(config.NewYAMLProvider(cfgPath), nil).Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected results database: %v", err)
	}
}

func TestImportObservationsThenRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "lake.msgpack")
	if err := lakeBundle(t).Save(bundlePath); err != nil {
		t.Fatalf("saving bundle: %v", err)
	}
	dbPath := filepath.Join(dir, "results.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "input:\n  bundle: " + bundlePath + "\n  observations: database\n" +
		"detection:\n  threshold: 1\n  block-size: 1\n" +
		"storage:\n  sqlite:\n    path: " + dbPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	a := New(config.NewYAMLProvider(cfgPath), nil)
	n, err := a.ImportObservations(ctx)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if n != nsteps {
		t.Errorf("expected %d imported observations, got %d", nsteps, n)
	}

	store, err := sqlite.New(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("opening results database: %v", err)
	}
	obs, err := store.LoadObservations(ctx, []int{0})
	store.Close()
	if err != nil {
		t.Fatalf("loading observations: %v", err)
	}
	if len(obs[0]) != nsteps || obs[0][1].Pixels != 9 {
		t.Errorf("unexpected stored series %+v", obs[0])
	}

	if err := a.Run(ctx); err != nil {
		t.Fatalf("run from database observations failed: %v", err)
	}
}

package stagestorage

import (
	"errors"
	"math"
	"testing"

	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/types"
)

// tableFromIncrements builds a table whose rows have the given incremental
// pixel counts.
func tableFromIncrements(inc []int, pixelArea float64) Table {
	var heights []float64
	for k, n := range append(append([]int(nil), inc...), 1) {
		for i := 0; i < n; i++ {
			heights = append(heights, float64(k)+0.5)
		}
	}
	return sweep(heights, pixelArea)
}

// coneGrids builds a projected 10 m grid with a conical DEM (1 m per cell
// of radius, capped at rim metres) and the given occurrence everywhere.
func coneGrids(size int, rim, occurrence float64) (*raster.Grid, *raster.Grid) {
	tr := raster.Transform{OriginX: 500000, OriginY: 4200000, PixelWidth: 10, PixelHeight: -10}
	occ := raster.New(size, size, tr)
	dem := raster.New(size, size, tr)
	occ.Projected, dem.Projected = true, true

	c := float64(size / 2)
	for r := 0; r < size; r++ {
		for col := 0; col < size; col++ {
			d := math.Hypot(float64(r)-c, float64(col)-c)
			dem.Set(r, col, math.Min(d, rim))
			occ.Set(r, col, occurrence)
		}
	}
	return occ, dem
}

func TestFitPowerLawConeVolumeVersusStage(t *testing.T) {
	slope := 30 * math.Pi / 180
	cot := 1 / math.Tan(slope)

	var h, v []float64
	for i := 1; i <= 30; i++ {
		h = append(h, float64(i))
		v = append(v, math.Pi/3*math.Pow(float64(i), 3)*cot*cot)
	}

	m, q, err := FitPowerLaw(h, v, 0, 0)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if math.Abs(m.B-3) >= 0.3 {
		t.Errorf("expected exponent near 3, got %.4f", m.B)
	}
	if q.RSquared < 0.999 {
		t.Errorf("expected near-perfect fit, got R²=%.6f", q.RSquared)
	}
}

func TestFitPowerLawWithOffsets(t *testing.T) {
	var x, y []float64
	for a := 10.0; a <= 50; a++ {
		x = append(x, a)
		y = append(y, 2*math.Pow(a-10, 1.7)+50)
	}

	m, _, err := FitPowerLaw(x, y, 10, 50)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if math.Abs(m.A-2) > 0.01 || math.Abs(m.B-1.7) > 0.001 {
		t.Errorf("expected a=2 b=1.7, got %s", m)
	}
	if m.AreaOffset != 10 || m.VolumeOffset != 50 {
		t.Errorf("offsets not carried: %+v", m)
	}
	if got := m.Volume(30); math.Abs(got-(2*math.Pow(20, 1.7)+50)) > 0.5 {
		t.Errorf("unexpected volume at 30: %f", got)
	}
	if got := m.Volume(5); got != 50 {
		t.Errorf("expected volume offset below the area offset, got %f", got)
	}
}

func TestFitPowerLawRejects(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
	}{
		{name: "too few points", x: []float64{1, 2}, y: []float64{1, 4}},
		{name: "flat volumes", x: []float64{1, 2, 3, 4}, y: []float64{0, 0, 0, 0}},
		{name: "length mismatch", x: []float64{1, 2, 3}, y: []float64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := FitPowerLaw(tt.x, tt.y, 0, 0); !errors.Is(err, ErrNoConvergence) {
				t.Errorf("expected ErrNoConvergence, got %v", err)
			}
		})
	}
}

func TestSweep(t *testing.T) {
	table := sweep([]float64{3.5, 0.5, 1.5, 1.5, 2.5}, 2)

	expected := Table{
		{Height: 1, PixelCount: 1, Area: 2, Volume: 1, IncrementalCount: 1},
		{Height: 2, PixelCount: 3, Area: 6, Volume: 5, IncrementalCount: 2},
		{Height: 3, PixelCount: 4, Area: 8, Volume: 12, IncrementalCount: 1},
	}
	if len(table) != len(expected) {
		t.Fatalf("expected %d rows, got %d", len(expected), len(table))
	}
	for i := range expected {
		if table[i] != expected[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, expected[i], table[i])
		}
	}
}

func TestSubmergedCutoff(t *testing.T) {
	tests := []struct {
		name     string
		inc      []int
		expected int
	}{
		{name: "no outlier", inc: []int{3, 3, 3, 3, 3, 3}, expected: 0},
		{name: "empty", inc: nil, expected: 0},
	}

	spike := make([]int, 30)
	for i := range spike {
		spike[i] = 1
	}
	spike[20] = 1000
	tests = append(tests, struct {
		name     string
		inc      []int
		expected int
	}{name: "spike", inc: spike, expected: 20})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := make(Table, len(tt.inc))
			for i, n := range tt.inc {
				table[i].IncrementalCount = n
			}
			if got := SubmergedCutoff(table); got != tt.expected {
				t.Errorf("expected cutoff %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestFitConeDEM(t *testing.T) {
	occ, dem := coneGrids(41, 20, 100)
	region := types.Region{ID: 7, Bound: occ.Bound()}

	res, err := NewFitter(nil).Fit(region, occ, dem)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if res.Degenerate {
		t.Fatalf("expected a bounded fit, got degenerate %s", res.Model)
	}
	if res.Truncation.Mini != 0 {
		t.Errorf("expected no submerged rows, got mini=%d", res.Truncation.Mini)
	}
	// area grows with h², volume with h³
	if math.Abs(res.Model.B-1.5) > 0.2 {
		t.Errorf("expected V(A) exponent near 1.5, got %.4f", res.Model.B)
	}
	if res.Truncation.End > res.Truncation.Maxi || res.Truncation.End-res.Truncation.Mini < MinFitPoints {
		t.Errorf("inconsistent truncation %+v", res.Truncation)
	}
	if len(res.Table) != 19 {
		t.Errorf("expected 19 elevation steps, got %d", len(res.Table))
	}
}

func TestFitTableSubmergedOffsets(t *testing.T) {
	inc := make([]int, 40)
	for k := range inc {
		switch {
		case k < 10:
			inc[k] = 1
		case k == 10:
			inc[k] = 5000
		default:
			inc[k] = 50 + 3*(k-11)
		}
	}
	table := tableFromIncrements(inc, 900)

	res := NewFitter(nil).FitTable(table)
	if res.Degenerate {
		t.Fatalf("expected bounded fit")
	}
	if res.Truncation.Mini != 10 {
		t.Fatalf("expected mini=10, got %d", res.Truncation.Mini)
	}
	if res.Model.AreaOffset != table[10].Area || res.Model.VolumeOffset != table[10].Volume {
		t.Errorf("expected offsets anchored on row 10, got %+v", res.Model)
	}
	if res.Attempts < 2 {
		t.Errorf("expected at least the base fit and one refit, got %d attempts", res.Attempts)
	}
}

// curveTable builds a table over areas 1..n with volume(area) and a flat
// incremental histogram, so no rows are treated as submerged.
func curveTable(n int, volume func(area float64) float64) Table {
	table := make(Table, n)
	for i := range table {
		a := float64(i + 1)
		table[i] = Sample{Height: a, PixelCount: i + 1, Area: a, Volume: volume(a), IncrementalCount: 1}
	}
	return table
}

func widestEnd(tr Truncation) int {
	return int(math.Round(float64(tr.Maxi) - TruncateFraction*float64(tr.Maxi-tr.Mini)))
}

func TestFitTableShrinksToAnchor(t *testing.T) {
	// V = A² up to A = 8, then a steep rise that drags wide fits away from
	// the anchor row
	table := curveTable(20, func(a float64) float64 {
		if a <= 8 {
			return a * a
		}
		return a*a + 40*(a-8)*(a-8)
	})

	res := NewFitter(nil).FitTable(table)
	if res.Degenerate {
		t.Fatalf("expected bounded fit")
	}
	tr := res.Truncation
	if tr.Mini != 0 {
		t.Fatalf("expected mini=0, got %d", tr.Mini)
	}
	if tr.End >= widestEnd(tr) {
		t.Errorf("expected the refit range to shrink below %d, got %+v", widestEnd(tr), tr)
	}
	if tr.End-tr.Mini < MinFitPoints {
		t.Errorf("accepted fit has too few rows: %+v", tr)
	}
	dev := math.Abs(res.Model.PlainVolume(table[0].Area)-table[0].Volume) / table[0].Volume
	if dev > AnchorTolerance {
		t.Errorf("accepted model misses the anchor by %.0f%%: %s", dev*100, res.Model)
	}
	if res.Attempts < 3 {
		t.Errorf("expected at least one shrink, got %d attempts", res.Attempts)
	}
}

func TestFitTableShrinkExhausted(t *testing.T) {
	// the anchor row sits far off an otherwise clean A² curve, so no refit
	// can satisfy it
	table := curveTable(30, func(a float64) float64 {
		if a == 1 {
			return 20
		}
		return a * a
	})

	res := NewFitter(nil).FitTable(table)
	if res.Degenerate {
		t.Fatalf("expected bounded fit")
	}
	tr := res.Truncation
	if tr.End != widestEnd(tr) {
		t.Errorf("expected the widest refit end %d after exhausting shrinks, got %+v", widestEnd(tr), tr)
	}
	baseFits := len(table) - tr.Maxi + 1
	if want := baseFits + 1 + MaxShrinkAttempts; res.Attempts != want {
		t.Errorf("expected %d attempts, got %d", want, res.Attempts)
	}
	if math.Abs(res.Model.B-2) > 0.2 {
		t.Errorf("expected the widest refit to follow the A² curve, got %s", res.Model)
	}
}

func TestFitTableDegenerate(t *testing.T) {
	inc := make([]int, 30)
	for k := range inc {
		inc[k] = 1
	}
	inc[28] = 1000
	table := tableFromIncrements(inc, 1)

	res := NewFitter(nil).FitTable(table)
	if !res.Degenerate {
		t.Fatalf("expected degenerate fit when the cutoff leaves fewer than %d rows", MinFitPoints)
	}
	if res.Model.AreaOffset != 0 || res.Model.VolumeOffset != 0 {
		t.Errorf("expected origin-anchored model, got %+v", res.Model)
	}
	if !(res.Model.A > 0) || math.IsInf(res.Model.A, 0) {
		t.Errorf("expected a usable coefficient, got %+v", res.Model)
	}
	if res.Truncation.End != len(table) {
		t.Errorf("expected the whole table to be used, got %+v", res.Truncation)
	}
}

func TestBuildTableInsufficient(t *testing.T) {
	dryOcc, dem := coneGrids(21, 10, 0)
	if _, err := BuildTable(types.Region{Bound: dryOcc.Bound()}, dryOcc, dem); !errors.Is(err, ErrInsufficientRelief) {
		t.Errorf("expected ErrInsufficientRelief for a dry region, got %v", err)
	}

	occ, flat := coneGrids(21, 0, 100)
	if _, err := BuildTable(types.Region{Bound: occ.Bound()}, occ, flat); !errors.Is(err, ErrInsufficientRelief) {
		t.Errorf("expected ErrInsufficientRelief for a flat DEM, got %v", err)
	}

	other := raster.New(20, 21, occ.Transform)
	if _, err := BuildTable(types.Region{Bound: occ.Bound()}, occ, other); !errors.Is(err, raster.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

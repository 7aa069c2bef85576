package stagestorage

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/types"
	"gonum.org/v1/gonum/stat"
)

const (
	// DilationRadius absorbs the lag between the optical water product and
	// the DEM capture date.
	DilationRadius = 4

	// OutlierSigma sets the incremental-count outlier threshold at μ+kσ.
	OutlierSigma = 5.0
)

// ErrInsufficientRelief is returned when a region has too few wet cells or
// elevation steps to build a usable table.
var ErrInsufficientRelief = errors.New("insufficient relief for a stage-storage table")

// Sample is one elevation step of the sweep.
type Sample struct {
	Height           float64 `json:"height"`
	PixelCount       int     `json:"pixel_count"`
	Area             float64 `json:"area"`
	Volume           float64 `json:"volume"`
	IncrementalCount int     `json:"incremental_count"`
}

// Table is ordered by increasing height.
type Table []Sample

// Areas returns the area column for rows [from, to).
func (t Table) Areas(from, to int) []float64 {
	out := make([]float64, 0, to-from)
	for _, s := range t[from:to] {
		out = append(out, s.Area)
	}
	return out
}

// Volumes returns the volume column for rows [from, to).
func (t Table) Volumes(from, to int) []float64 {
	out := make([]float64, 0, to-from)
	for _, s := range t[from:to] {
		out = append(out, s.Volume)
	}
	return out
}

// BuildTable sweeps the DEM under the dilated ever-wet mask of region.
func BuildTable(region types.Region, occurrence, dem *raster.Grid) (Table, error) {
	if err := raster.CheckAligned(occurrence, dem); err != nil {
		return nil, fmt.Errorf("occurrence and DEM: %w", err)
	}
	occ, err := occurrence.Clip(region.Bound)
	if err != nil {
		return nil, err
	}
	elev, err := dem.Clip(region.Bound)
	if err != nil {
		return nil, err
	}

	wet := occ.Threshold(func(v float64) bool { return v > 0 }).Dilate(DilationRadius)

	var heights []float64
	for i, ok := range wet.Bits {
		if ok && !math.IsNaN(elev.Data[i]) {
			heights = append(heights, elev.Data[i])
		}
	}
	if len(heights) == 0 {
		return nil, fmt.Errorf("%w: region %d has no wet cells", ErrInsufficientRelief, region.ID)
	}

	table := sweep(heights, elev.PixelArea(region.Bound.Center().Y()))
	if len(table) < MinFitPoints {
		return nil, fmt.Errorf("%w: region %d spans %d elevation steps", ErrInsufficientRelief, region.ID, len(table))
	}
	return table, nil
}

// sweep steps an integer water level from just above the lowest to just
// below the highest elevation, integrating volume with the trapezoid rule.
func sweep(heights []float64, pixelArea float64) Table {
	sort.Float64s(heights)
	lo, hi := heights[0], heights[len(heights)-1]

	var table Table
	for h := math.Floor(lo) + 1; h < hi; h++ {
		count := sort.SearchFloat64s(heights, h)
		s := Sample{
			Height:     h,
			PixelCount: count,
			Area:       float64(count) * pixelArea,
		}
		if n := len(table); n == 0 {
			s.Volume = 0.5 * s.Area
			s.IncrementalCount = count
		} else {
			prev := table[n-1]
			s.Volume = prev.Volume + 0.5*(s.Area-prev.Area) + prev.Area
			s.IncrementalCount = count - prev.PixelCount
		}
		table = append(table, s)
	}
	return table
}

// SubmergedCutoff returns the last row whose incremental pixel count
// exceeds μ+5σ of the incremental histogram, or 0. Rows below it were
// already under water when the DEM was captured.
func SubmergedCutoff(t Table) int {
	if len(t) == 0 {
		return 0
	}
	inc := make([]float64, len(t))
	for i, s := range t {
		inc[i] = float64(s.IncrementalCount)
	}
	mean, std := stat.PopMeanStdDev(inc, nil)
	threshold := mean + OutlierSigma*std

	mini := 0
	for i, v := range inc {
		if v > threshold {
			mini = i
		}
	}
	return mini
}

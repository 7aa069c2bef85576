// Package detect finds candidate reservoir footprints by clustering a
// coarse water-occurrence density grid.
package detect

import (
	"fmt"
	"sort"

	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/types"
	"go.uber.org/zap"
)

const (
	// DefaultBlockSize is the edge length, in cells, of one coarse block.
	DefaultBlockSize = 30

	// WaterOccurrence is the minimum occurrence percentage counted as water.
	WaterOccurrence = 30.0

	// WindowHalfWidth is how many coarse cells a candidate window extends
	// on each side of a dense cell.
	WindowHalfWidth = 8
)

// Params controls the detector.
type Params struct {
	// Threshold is the minimum number of water pixels in a coarse block.
	Threshold float64
	// BlockSize defaults to DefaultBlockSize when zero.
	BlockSize int
}

// Detector clusters an occurrence raster into reservoir regions.
type Detector struct {
	params Params
	logger *zap.SugaredLogger
}

// NewDetector creates a Detector.
func NewDetector(params Params, logger *zap.SugaredLogger) *Detector {
	if params.BlockSize <= 0 {
		params.BlockSize = DefaultBlockSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Detector{params: params, logger: logger}
}

// Detect returns the merged candidate regions found inside the basin. A
// basin without dense cells yields an empty slice.
func (d *Detector) Detect(occurrence, basin *raster.Grid) ([]types.Region, error) {
	if err := raster.CheckAligned(occurrence, basin); err != nil {
		return nil, fmt.Errorf("occurrence and basin mask: %w", err)
	}

	density := d.density(occurrence, basin)
	windows := candidates(density, d.params.Threshold)
	merged := mergeWindows(windows)

	regions := make([]types.Region, 0, len(merged))
	b := d.params.BlockSize
	for i, w := range merged {
		fine := raster.Window{
			Row0: w.Row0 * b,
			Row1: min((w.Row1+1)*b, occurrence.Rows) - 1,
			Col0: w.Col0 * b,
			Col1: min((w.Col1+1)*b, occurrence.Cols) - 1,
		}
		regions = append(regions, types.Region{
			ID:    i,
			Bound: occurrence.Transform.Bound(fine.Row0, fine.Row1, fine.Col0, fine.Col1),
		})
	}

	d.logger.Infof("detected %d candidate reservoir regions from %d dense blocks", len(regions), len(windows))
	return regions, nil
}

// density sums water pixels per block. Edge blocks may be partial.
func (d *Detector) density(occurrence, basin *raster.Grid) *raster.Grid {
	b := d.params.BlockSize
	rows := (occurrence.Rows + b - 1) / b
	cols := (occurrence.Cols + b - 1) / b

	coarse := raster.New(rows, cols, raster.Transform{
		OriginX:     occurrence.Transform.OriginX,
		OriginY:     occurrence.Transform.OriginY,
		PixelWidth:  occurrence.Transform.PixelWidth * float64(b),
		PixelHeight: occurrence.Transform.PixelHeight * float64(b),
	})
	for r := 0; r < occurrence.Rows; r++ {
		for c := 0; c < occurrence.Cols; c++ {
			if basin.At(r, c) == 0 || occurrence.At(r, c) < WaterOccurrence {
				continue
			}
			coarse.Data[(r/b)*cols+c/b]++
		}
	}
	return coarse
}

// candidates builds one ±WindowHalfWidth window per dense coarse cell.
func candidates(density *raster.Grid, threshold float64) []raster.Window {
	var windows []raster.Window
	for r := 0; r < density.Rows; r++ {
		for c := 0; c < density.Cols; c++ {
			if density.At(r, c) < threshold || density.At(r, c) == 0 {
				continue
			}
			windows = append(windows, raster.Window{
				Row0: max(r-WindowHalfWidth, 0),
				Row1: min(r+WindowHalfWidth, density.Rows-1),
				Col0: max(c-WindowHalfWidth, 0),
				Col1: min(c+WindowHalfWidth, density.Cols-1),
			})
		}
	}
	return windows
}

func overlaps(a, b raster.Window) bool {
	return a.Row0 <= b.Row1 && b.Row0 <= a.Row1 && a.Col0 <= b.Col1 && b.Col0 <= a.Col1
}

func union(a, b raster.Window) raster.Window {
	return raster.Window{
		Row0: min(a.Row0, b.Row0),
		Row1: max(a.Row1, b.Row1),
		Col0: min(a.Col0, b.Col0),
		Col1: max(a.Col1, b.Col1),
	}
}

// mergeWindows repeats a forward merge sweep until a pass merges nothing,
// so that chains of overlapping windows collapse into one rectangle.
func mergeWindows(windows []raster.Window) []raster.Window {
	merged := append([]raster.Window(nil), windows...)
	for {
		changed := false
		var next []raster.Window
		for _, w := range merged {
			absorbed := false
			for i := range next {
				if overlaps(next[i], w) {
					next[i] = union(next[i], w)
					absorbed = true
					changed = true
					break
				}
			}
			if !absorbed {
				next = append(next, w)
			}
		}
		merged = next
		if !changed {
			break
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Row0 != merged[j].Row0 {
			return merged[i].Row0 < merged[j].Row0
		}
		return merged[i].Col0 < merged[j].Col0
	})
	return merged
}

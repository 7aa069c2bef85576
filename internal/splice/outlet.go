package splice

import (
	"fmt"

	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/types"
)

// OutletPixel returns the unique id of the border cell of region with the
// largest accumulated flow. Borders are scanned top row, bottom row, left
// column, right column; the first maximum wins.
func OutletPixel(region types.Region, acc, ids *raster.Grid) (int64, error) {
	a, err := acc.Clip(region.Bound)
	if err != nil {
		return 0, fmt.Errorf("region %d: %w", region.ID, err)
	}
	idg, err := ids.Clip(region.Bound)
	if err != nil {
		return 0, fmt.Errorf("region %d: %w", region.ID, err)
	}

	best, bestR, bestC := 0.0, -1, -1
	visit := func(r, c int) {
		if v := a.At(r, c); bestR < 0 || v > best {
			best, bestR, bestC = v, r, c
		}
	}
	for c := 0; c < a.Cols; c++ {
		visit(0, c)
	}
	for c := 0; c < a.Cols; c++ {
		visit(a.Rows-1, c)
	}
	for r := 0; r < a.Rows; r++ {
		visit(r, 0)
	}
	for r := 0; r < a.Rows; r++ {
		visit(r, a.Cols-1)
	}
	return int64(idg.At(bestR, bestC)), nil
}

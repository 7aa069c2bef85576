// Package stagestorage derives a reservoir's area↔volume relation from a
// DEM swept under its historical water footprint.
package stagestorage

import (
	"math"

	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/types"
	"go.uber.org/zap"
)

const (
	// TruncateFraction of the fitted range is withheld from the refit.
	TruncateFraction = 0.2

	// AnchorTolerance is the largest relative deviation accepted between
	// the plain-form volume at the anchor area and the anchor volume. The
	// plain form is fitted on the refit's rows when the refit carries
	// offsets.
	AnchorTolerance = 0.3

	// MaxShrinkAttempts bounds the anchor retry loop.
	MaxShrinkAttempts = 10
)

// Truncation records which table rows the accepted fit used. Rows
// [Mini, End) were fitted; Maxi is the end of the widest converging fit.
type Truncation struct {
	Mini int `json:"mini"`
	Maxi int `json:"maxi"`
	End  int `json:"end"`
}

// FitResult is the outcome of the fit search for one region.
type FitResult struct {
	Model      Model      `json:"model"`
	Quality    Quality    `json:"quality"`
	Truncation Truncation `json:"truncation"`
	// Degenerate is set when no bounded fit converged and the model is the
	// origin-anchored fallback.
	Degenerate bool  `json:"degenerate"`
	// Attempts counts fits of the calibrated form, not anchor checks.
	Attempts   int   `json:"attempts"`
	Table      Table `json:"-"`
}

// Fitter runs the stage-storage calibration for individual regions. It is
// safe for concurrent use; it only reads the rasters it is given.
type Fitter struct {
	logger *zap.SugaredLogger
}

// NewFitter creates a Fitter.
func NewFitter(logger *zap.SugaredLogger) *Fitter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Fitter{logger: logger}
}

// Fit builds the elevation table for region and runs the fit search on it.
// Errors are limited to unusable input; a fit that never converges comes
// back as a degenerate result.
func (f *Fitter) Fit(region types.Region, occurrence, dem *raster.Grid) (FitResult, error) {
	table, err := BuildTable(region, occurrence, dem)
	if err != nil {
		return FitResult{}, err
	}
	res := f.FitTable(table)
	if res.Degenerate {
		f.logger.Warnf("region %d: no bounded power-law fit converged, using origin-anchored fit %s", region.ID, res.Model)
	} else {
		f.logger.Debugf("region %d: %s (R²=%.4f, rows %d..%d of %d, %d attempts)", region.ID, res.Model,
			res.Quality.RSquared, res.Truncation.Mini, res.Truncation.End, len(table), res.Attempts)
	}
	return res, nil
}

type attempt struct {
	model   Model
	quality Quality
	end     int
}

// FitTable runs the bounded fit-and-shrink search over table.
func (f *Fitter) FitTable(table Table) FitResult {
	res := FitResult{Table: table}
	n := len(table)
	mini := SubmergedCutoff(table)

	// the anchor is always the cutoff row; the fitted form only carries
	// offsets when the cutoff is above the first row
	var anchorA, anchorV, offA, offV float64
	if n > 0 {
		anchorA, anchorV = table[mini].Area, table[mini].Volume
	}
	if mini > 0 {
		offA, offV = anchorA, anchorV
	}

	fitRange := func(end int) (attempt, bool) {
		res.Attempts++
		m, q, err := FitPowerLaw(table.Areas(mini, end), table.Volumes(mini, end), offA, offV)
		if err != nil {
			return attempt{}, false
		}
		return attempt{model: m, quality: q, end: end}, true
	}

	var base attempt
	found := false
	maxi := n
	for ; maxi-mini >= MinFitPoints; maxi-- {
		if base, found = fitRange(maxi); found {
			break
		}
	}
	if !found {
		return f.degenerate(res)
	}

	accept := func(a attempt) FitResult {
		res.Model = a.model
		res.Quality = a.quality
		res.Truncation = Truncation{Mini: mini, Maxi: maxi, End: a.end}
		return res
	}

	end := int(math.Round(float64(maxi) - TruncateFraction*float64(maxi-mini)))
	if end-mini < MinFitPoints {
		return accept(base)
	}
	widest, ok := fitRange(end)
	if !ok {
		return accept(base)
	}
	// a·A^b only means something at the anchor for a plain-form model, so
	// an offset refit is checked through a plain fit on the same rows
	anchoredFit := func(a attempt) bool {
		m := a.model
		if mini > 0 {
			plain, _, err := FitPowerLaw(table.Areas(mini, a.end), table.Volumes(mini, a.end), 0, 0)
			if err != nil {
				return false
			}
			m = plain
		}
		return anchored(m, anchorA, anchorV)
	}

	if anchoredFit(widest) {
		return accept(widest)
	}

	for i := 0; i < MaxShrinkAttempts; i++ {
		end--
		if end-mini < MinFitPoints {
			break
		}
		a, ok := fitRange(end)
		if ok && anchoredFit(a) {
			return accept(a)
		}
	}
	return accept(widest)
}

// anchored reports whether m's plain form at the anchor area stays within
// AnchorTolerance of the anchor volume.
func anchored(m Model, area, volume float64) bool {
	if volume == 0 {
		return true
	}
	return math.Abs(m.PlainVolume(area)-volume)/math.Abs(volume) <= AnchorTolerance
}

// degenerate fits V = a·A^b through the origin on the whole table.
func (f *Fitter) degenerate(res FitResult) FitResult {
	n := len(res.Table)
	res.Degenerate = true
	res.Truncation = Truncation{End: n, Maxi: n}

	areas, volumes := res.Table.Areas(0, n), res.Table.Volumes(0, n)
	res.Attempts++
	m, q, err := FitPowerLaw(areas, volumes, 0, 0)
	if err != nil {
		m, q, err = regressOrigin(areas, volumes)
	}
	if err != nil {
		f.logger.Warnf("origin-anchored fit failed on %d rows, falling back to a zero model: %v", n, err)
		m, q = Model{B: 1}, Quality{}
	}
	res.Model = m
	res.Quality = q
	return res
}

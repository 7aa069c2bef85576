// Package storagechange turns a reservoir's observed surface-area history
// into a monthly storage-change history.
package storagechange

import (
	"github.com/chrissnell/reservoirflow/internal/constants"
	"github.com/chrissnell/reservoirflow/internal/stagestorage"
	"github.com/chrissnell/reservoirflow/internal/types"
	"gonum.org/v1/gonum/floats"
)

// SeasonalLag is how many monthly steps back a stuck trailing reading
// looks for a seasonal proxy.
const SeasonalLag = 12

// Converter applies a stage-storage model to observation series.
type Converter struct {
	// PixelSize is the edge length of one observation pixel in metres.
	PixelSize float64
}

// NewConverter creates a Converter for observations at the given pixel
// resolution.
func NewConverter(pixelSize float64) *Converter {
	return &Converter{PixelSize: pixelSize}
}

// Areas converts pixel counts into surface areas (m²).
func (c *Converter) Areas(obs types.ObservationSeries) []float64 {
	areas := make([]float64, len(obs))
	for i, o := range obs {
		areas[i] = o.Pixels * c.PixelSize * c.PixelSize
	}
	return areas
}

// Convert returns the storage change between consecutive observations,
// each tagged with the later observation's month. Series shorter than two
// observations produce an empty result.
func (c *Converter) Convert(obs types.ObservationSeries, model stagestorage.Model) types.StorageChangeSeries {
	if len(obs) < 2 {
		return types.StorageChangeSeries{}
	}

	areas := RepairStuck(c.Areas(obs))
	volumes := make([]float64, len(areas))
	for i, a := range areas {
		volumes[i] = model.PlainVolume(a)
	}

	out := make(types.StorageChangeSeries, len(obs)-1)
	for i := 1; i < len(obs); i++ {
		out[i-1] = types.StorageChange{Step: obs[i].Step, Volume: volumes[i] - volumes[i-1]}
	}
	return out
}

// RepairStuck replaces readings identical to their predecessor, which the
// water-extent product emits when a scene could not be classified. Each
// stuck reading becomes the mean of the corrected preceding reading and a
// reference: the next later reading that differs, or failing that the
// reading SeasonalLag steps back when it was itself a change. Readings
// with neither are left unchanged.
func RepairStuck(areas []float64) []float64 {
	out := append([]float64(nil), areas...)
	for i := 1; i < len(areas); i++ {
		if areas[i] != areas[i-1] {
			continue
		}
		ref, ok := nextDifferent(areas, i)
		if !ok {
			ref, ok = seasonal(areas, i)
		}
		if !ok {
			continue
		}
		out[i] = (out[i-1] + ref) / 2
	}
	return out
}

func nextDifferent(areas []float64, i int) (float64, bool) {
	for j := i + 1; j < len(areas); j++ {
		if areas[j] != areas[i] {
			return areas[j], true
		}
	}
	return 0, false
}

func seasonal(areas []float64, i int) (float64, bool) {
	j := i - SeasonalLag
	if j < 1 || areas[j] == areas[j-1] {
		return 0, false
	}
	return areas[j], true
}

// Total returns the net storage change over the series.
func Total(s types.StorageChangeSeries) float64 {
	return floats.Sum(s.Values())
}

// ToDischarge converts each monthly volume change (m³) into the mean flow
// rate (m³/s) it represents over that month.
func ToDischarge(s types.StorageChangeSeries) []float64 {
	rates := make([]float64, len(s))
	for i, c := range s {
		rates[i] = c.Volume / float64(c.Days()*constants.SecondsPerDay)
	}
	return rates
}

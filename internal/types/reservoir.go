// Package types holds the value types shared between the detector, the
// stage-storage fitter, the storage-change converter and the splicer.
package types

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Region is a candidate or confirmed reservoir footprint in geographic
// coordinates. Regions are computed once per run and never mutated.
type Region struct {
	ID    int       `msgpack:"id"`
	Bound orb.Bound `msgpack:"bound"`
}

// String renders the region as "id [minx,miny → maxx,maxy]"
func (r Region) String() string {
	return fmt.Sprintf("%d [%.5f,%.5f → %.5f,%.5f]", r.ID,
		r.Bound.Min.X(), r.Bound.Min.Y(), r.Bound.Max.X(), r.Bound.Max.Y())
}

// Step identifies one monthly time step.
type Step struct {
	Month int `msgpack:"month"`
	Year  int `msgpack:"year"`
}

// Days returns the number of days in the step's month.
func (s Step) Days() int {
	return time.Date(s.Year, time.Month(s.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Time returns the first instant of the step's month in UTC.
func (s Step) Time() time.Time {
	return time.Date(s.Year, time.Month(s.Month), 1, 0, 0, 0, 0, time.UTC)
}

func (s Step) String() string {
	return fmt.Sprintf("%04d-%02d", s.Year, s.Month)
}

// Observation is the flooded pixel count of one reservoir for one month.
type Observation struct {
	Step
	Pixels float64 `msgpack:"pixels"`
}

// ObservationSeries is an ordered, gap-free monthly series of observations.
type ObservationSeries []Observation

// StorageChange is the volume gained (positive) or lost (negative) by a
// reservoir between the previous step and Step.
type StorageChange struct {
	Step
	Volume float64 `msgpack:"volume"`
}

// StorageChangeSeries is one element shorter than the observations it was
// derived from.
type StorageChangeSeries []StorageChange

// Values returns the volume changes in order.
func (s StorageChangeSeries) Values() []float64 {
	v := make([]float64, len(s))
	for i, c := range s {
		v[i] = c.Volume
	}
	return v
}

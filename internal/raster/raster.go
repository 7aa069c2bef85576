// Package raster provides the in-memory grid type shared by the reservoir
// pipeline: a row-major float64 grid plus the affine transform that maps
// cell indices to geographic coordinates.
package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrShapeMismatch is returned when rasters that must be aligned are not.
var ErrShapeMismatch = errors.New("raster shape or transform mismatch")

// ErrOutside is returned when a clip window does not intersect the grid.
var ErrOutside = errors.New("bound does not intersect raster")

// snap absorbs floating point noise when a bound edge sits exactly on a
// cell edge.
const snap = 1e-9

// Transform is a north-up affine transform. PixelHeight is negative when
// row 0 is the northern edge.
type Transform struct {
	OriginX     float64 `msgpack:"origin_x" yaml:"origin_x"`
	OriginY     float64 `msgpack:"origin_y" yaml:"origin_y"`
	PixelWidth  float64 `msgpack:"pixel_width" yaml:"pixel_width"`
	PixelHeight float64 `msgpack:"pixel_height" yaml:"pixel_height"`
}

// Coord returns the upper-left corner of cell (row, col).
func (t Transform) Coord(row, col int) orb.Point {
	return orb.Point{
		t.OriginX + float64(col)*t.PixelWidth,
		t.OriginY + float64(row)*t.PixelHeight,
	}
}

// Bound returns the geographic extent of the inclusive cell span
// [row0..row1] × [col0..col1].
func (t Transform) Bound(row0, row1, col0, col1 int) orb.Bound {
	a := t.Coord(row0, col0)
	b := t.Coord(row1+1, col1+1)
	return orb.Bound{
		Min: orb.Point{math.Min(a[0], b[0]), math.Min(a[1], b[1])},
		Max: orb.Point{math.Max(a[0], b[0]), math.Max(a[1], b[1])},
	}
}

// Window is an inclusive span of rows and columns.
type Window struct {
	Row0, Row1 int
	Col0, Col1 int
}

// Rows returns the number of rows covered by the window.
func (w Window) Rows() int { return w.Row1 - w.Row0 + 1 }

// Cols returns the number of columns covered by the window.
func (w Window) Cols() int { return w.Col1 - w.Col0 + 1 }

// Grid is a 2D numeric raster.
type Grid struct {
	Rows      int       `msgpack:"rows"`
	Cols      int       `msgpack:"cols"`
	Data      []float64 `msgpack:"data"`
	Transform Transform `msgpack:"transform"`
	// Projected marks transforms expressed in metres rather than degrees.
	Projected bool `msgpack:"projected"`
}

// New allocates a zero-filled grid.
func New(rows, cols int, t Transform) *Grid {
	return &Grid{
		Rows:      rows,
		Cols:      cols,
		Data:      make([]float64, rows*cols),
		Transform: t,
	}
}

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.Cols+col]
}

// Set stores v at (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*g.Cols+col] = v
}

// Fill sets every cell of the inclusive window to v.
func (g *Grid) Fill(w Window, v float64) {
	for r := w.Row0; r <= w.Row1; r++ {
		for c := w.Col0; c <= w.Col1; c++ {
			g.Set(r, c, v)
		}
	}
}

// Validate checks that the data slice matches the declared shape.
func (g *Grid) Validate() error {
	if g == nil {
		return fmt.Errorf("%w: nil raster", ErrShapeMismatch)
	}
	if g.Rows <= 0 || g.Cols <= 0 || len(g.Data) != g.Rows*g.Cols {
		return fmt.Errorf("%w: %dx%d grid holds %d values", ErrShapeMismatch, g.Rows, g.Cols, len(g.Data))
	}
	if g.Transform.PixelWidth == 0 || g.Transform.PixelHeight == 0 {
		return fmt.Errorf("%w: zero pixel size", ErrShapeMismatch)
	}
	return nil
}

// CheckAligned fails unless every grid shares the first grid's shape and
// transform.
func CheckAligned(grids ...*Grid) error {
	for _, g := range grids {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	for i := 1; i < len(grids); i++ {
		if grids[i].Rows != grids[0].Rows || grids[i].Cols != grids[0].Cols {
			return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch,
				grids[0].Rows, grids[0].Cols, grids[i].Rows, grids[i].Cols)
		}
		if grids[i].Transform != grids[0].Transform {
			return fmt.Errorf("%w: transforms differ (%+v vs %+v)", ErrShapeMismatch,
				grids[0].Transform, grids[i].Transform)
		}
	}
	return nil
}

// Window returns the cells whose footprint intersects b. ok is false when
// the bound falls outside the grid.
func (g *Grid) Window(b orb.Bound) (w Window, ok bool) {
	t := g.Transform
	c0, c1 := span((b.Min.X()-t.OriginX)/t.PixelWidth, (b.Max.X()-t.OriginX)/t.PixelWidth)
	r0, r1 := span((b.Min.Y()-t.OriginY)/t.PixelHeight, (b.Max.Y()-t.OriginY)/t.PixelHeight)

	w = Window{
		Row0: max(r0, 0), Row1: min(r1, g.Rows-1),
		Col0: max(c0, 0), Col1: min(c1, g.Cols-1),
	}
	if w.Row0 > w.Row1 || w.Col0 > w.Col1 {
		return Window{}, false
	}
	return w, true
}

func span(a, b float64) (int, int) {
	lo, hi := math.Min(a, b), math.Max(a, b)
	return int(math.Floor(lo + snap)), int(math.Ceil(hi-snap)) - 1
}

// Clip copies the cells intersecting b into a new grid with a shifted
// origin.
func (g *Grid) Clip(b orb.Bound) (*Grid, error) {
	w, ok := g.Window(b)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrOutside, b)
	}
	return g.Sub(w), nil
}

// Sub copies an inclusive window into a new grid.
func (g *Grid) Sub(w Window) *Grid {
	origin := g.Transform.Coord(w.Row0, w.Col0)
	out := &Grid{
		Rows: w.Rows(),
		Cols: w.Cols(),
		Data: make([]float64, w.Rows()*w.Cols()),
		Transform: Transform{
			OriginX:     origin[0],
			OriginY:     origin[1],
			PixelWidth:  g.Transform.PixelWidth,
			PixelHeight: g.Transform.PixelHeight,
		},
		Projected: g.Projected,
	}
	for r := 0; r < out.Rows; r++ {
		copy(out.Data[r*out.Cols:(r+1)*out.Cols], g.Data[(w.Row0+r)*g.Cols+w.Col0:(w.Row0+r)*g.Cols+w.Col1+1])
	}
	return out
}

// Bound returns the full geographic extent of the grid.
func (g *Grid) Bound() orb.Bound {
	return g.Transform.Bound(0, g.Rows-1, 0, g.Cols-1)
}

// PixelArea returns the area of one cell in square metres. Geographic
// grids are converted with the WGS84 meters-per-degree series evaluated at
// lat.
func (g *Grid) PixelArea(lat float64) float64 {
	w, h := math.Abs(g.Transform.PixelWidth), math.Abs(g.Transform.PixelHeight)
	if g.Projected {
		return w * h
	}
	mLat, mLon := MetersPerDegree(lat)
	return w * mLon * h * mLat
}

// MetersPerDegree returns the length of one degree of latitude and of
// longitude at lat (degrees).
func MetersPerDegree(lat float64) (mLat, mLon float64) {
	phi := lat * math.Pi / 180
	mLat = 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi) - 0.0023*math.Cos(6*phi)
	mLon = 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi) + 0.118*math.Cos(5*phi)
	return mLat, mLon
}

// Package network holds the river segment forest and its discharge store.
// A RiverNetwork owns every segment, the discharge matrix of each segment
// and the index of which segment owns which pixel; it is mutated only
// through SplitAt and PropagateAdjustment.
package network

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chrissnell/reservoirflow/internal/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotForest is returned when segments do not form a forest.
	ErrNotForest = errors.New("segment graph is not a forest")
	// ErrMalformedSegment is returned for ragged or empty segment data.
	ErrMalformedSegment = errors.New("malformed segment")
	// ErrUnknownPixel is returned when no segment owns a pixel.
	ErrUnknownPixel = errors.New("pixel is not on any segment")
	// ErrUnknownSegment is returned for ids outside the arena.
	ErrUnknownSegment = errors.New("unknown segment")
)

// SegmentData is the handoff form of a segment produced by the river
// network builder. Discharge is indexed [time][position].
type SegmentData struct {
	ID        int         `msgpack:"id"`
	Pixels    []int64     `msgpack:"pixels"`
	Elevation []float64   `msgpack:"elevation"`
	Distance  []float64   `msgpack:"distance"`
	Discharge [][]float64 `msgpack:"discharge"`
}

// Segment is one reach. Pixels run downstream; the last pixel is shared
// with the successor's first pixel.
type Segment struct {
	ID        int
	Pixels    []int64
	Elevation []float64
	Distance  []float64
	Successor *int
}

// Head returns the most upstream pixel.
func (s *Segment) Head() int64 { return s.Pixels[0] }

// Tail returns the most downstream pixel.
func (s *Segment) Tail() int64 { return s.Pixels[len(s.Pixels)-1] }

func (s *Segment) clone() Segment {
	c := Segment{
		ID:        s.ID,
		Pixels:    slices.Clone(s.Pixels),
		Elevation: slices.Clone(s.Elevation),
		Distance:  slices.Clone(s.Distance),
	}
	if s.Successor != nil {
		succ := *s.Successor
		c.Successor = &succ
	}
	return c
}

type pixelRef struct {
	segment  int
	position int
}

// RiverNetwork is the segment arena, discharge store and pixel index.
type RiverNetwork struct {
	segments  []*Segment
	discharge []*mat.Dense
	owner     map[int64]pixelRef
	steps     []types.Step
	nsteps    int
}

// New builds a network from builder output. Segment ids must be 0..n-1.
// steps labels the discharge rows and may be nil.
func New(data []SegmentData, steps []types.Step) (*RiverNetwork, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrMalformedSegment)
	}
	n := &RiverNetwork{
		segments:  make([]*Segment, len(data)),
		discharge: make([]*mat.Dense, len(data)),
		owner:     make(map[int64]pixelRef),
		steps:     slices.Clone(steps),
		nsteps:    len(data[0].Discharge),
	}
	if steps != nil && len(steps) != n.nsteps {
		return nil, fmt.Errorf("%w: %d step labels for %d discharge rows", ErrMalformedSegment, len(steps), n.nsteps)
	}
	if n.nsteps == 0 {
		return nil, fmt.Errorf("%w: no discharge time steps", ErrMalformedSegment)
	}

	for _, d := range data {
		if d.ID < 0 || d.ID >= len(data) {
			return nil, fmt.Errorf("%w: segment id %d outside 0..%d", ErrMalformedSegment, d.ID, len(data)-1)
		}
		if n.segments[d.ID] != nil {
			return nil, fmt.Errorf("%w: duplicate segment id %d", ErrNotForest, d.ID)
		}
		dense, err := n.checkSegment(d)
		if err != nil {
			return nil, err
		}
		n.segments[d.ID] = &Segment{
			ID:        d.ID,
			Pixels:    slices.Clone(d.Pixels),
			Elevation: slices.Clone(d.Elevation),
			Distance:  slices.Clone(d.Distance),
		}
		n.discharge[d.ID] = dense
	}

	if err := n.link(); err != nil {
		return nil, err
	}
	if err := n.index(); err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *RiverNetwork) checkSegment(d SegmentData) (*mat.Dense, error) {
	np := len(d.Pixels)
	if np == 0 {
		return nil, fmt.Errorf("%w: segment %d has no pixels", ErrMalformedSegment, d.ID)
	}
	if len(d.Elevation) != np || len(d.Distance) != np {
		return nil, fmt.Errorf("%w: segment %d has %d pixels, %d elevations, %d distances",
			ErrMalformedSegment, d.ID, np, len(d.Elevation), len(d.Distance))
	}
	if len(d.Discharge) != n.nsteps {
		return nil, fmt.Errorf("%w: segment %d has %d discharge rows, expected %d",
			ErrMalformedSegment, d.ID, len(d.Discharge), n.nsteps)
	}
	flat := make([]float64, 0, n.nsteps*np)
	for t, row := range d.Discharge {
		if len(row) != np {
			return nil, fmt.Errorf("%w: segment %d discharge row %d has %d positions, expected %d",
				ErrMalformedSegment, d.ID, t, len(row), np)
		}
		flat = append(flat, row...)
	}
	return mat.NewDense(n.nsteps, np, flat), nil
}

// link derives successors from shared head/tail pixels.
func (n *RiverNetwork) link() error {
	heads := make(map[int64][]int)
	for _, s := range n.segments {
		heads[s.Head()] = append(heads[s.Head()], s.ID)
	}
	for _, s := range n.segments {
		var next []int
		for _, id := range heads[s.Tail()] {
			if id != s.ID {
				next = append(next, id)
			}
		}
		switch len(next) {
		case 0:
		case 1:
			succ := next[0]
			s.Successor = &succ
		default:
			return fmt.Errorf("%w: segment %d drains into segments %v", ErrNotForest, s.ID, next)
		}
	}
	return nil
}

// index records, for every pixel, the segment in which it is not the
// shared tail. Terminal tails belong to their own segment.
func (n *RiverNetwork) index() error {
	for _, s := range n.segments {
		for pos, p := range s.Pixels {
			if pos == len(s.Pixels)-1 && s.Successor != nil {
				continue
			}
			if prev, ok := n.owner[p]; ok && prev.segment != s.ID {
				return fmt.Errorf("%w: pixel %d lies on segments %d and %d", ErrNotForest, p, prev.segment, s.ID)
			} else if ok {
				return fmt.Errorf("%w: pixel %d repeats within segment %d", ErrNotForest, p, s.ID)
			}
			n.owner[p] = pixelRef{segment: s.ID, position: pos}
		}
	}
	return nil
}

// Validate checks the forest invariants and discharge shapes.
func (n *RiverNetwork) Validate() error {
	heads := make(map[int64]int)
	for _, s := range n.segments {
		heads[s.Head()]++
	}
	for _, s := range n.segments {
		rows, cols := n.discharge[s.ID].Dims()
		if rows != n.nsteps || cols != len(s.Pixels) {
			return fmt.Errorf("%w: segment %d discharge is %dx%d for %d pixels",
				ErrMalformedSegment, s.ID, rows, cols, len(s.Pixels))
		}
		draining := heads[s.Tail()]
		if s.Head() == s.Tail() {
			// a single-pixel segment counts itself as a head
			draining--
		}
		if draining > 1 {
			return fmt.Errorf("%w: segment %d has %d successors", ErrNotForest, s.ID, draining)
		}
		if s.Successor != nil {
			succ := *s.Successor
			if succ < 0 || succ >= len(n.segments) || n.segments[succ].Head() != s.Tail() {
				return fmt.Errorf("%w: segment %d successor %d does not start at pixel %d",
					ErrNotForest, s.ID, succ, s.Tail())
			}
		}
	}

	// successor chains must terminate
	for _, s := range n.segments {
		id, hops := s.ID, 0
		for n.segments[id].Successor != nil {
			id = *n.segments[id].Successor
			if hops++; hops > len(n.segments) {
				return fmt.Errorf("%w: successor cycle through segment %d", ErrNotForest, s.ID)
			}
		}
	}
	return nil
}

// Len returns the number of segments.
func (n *RiverNetwork) Len() int { return len(n.segments) }

// Steps returns the number of discharge time steps.
func (n *RiverNetwork) Steps() int { return n.nsteps }

// Labels returns the step labels, or nil when none were supplied.
func (n *RiverNetwork) Labels() []types.Step { return slices.Clone(n.steps) }

// Segment returns a copy of segment id.
func (n *RiverNetwork) Segment(id int) (Segment, error) {
	if id < 0 || id >= len(n.segments) {
		return Segment{}, fmt.Errorf("%w: %d", ErrUnknownSegment, id)
	}
	return n.segments[id].clone(), nil
}

// Lookup returns the segment owning pixel and the pixel's position in it.
func (n *RiverNetwork) Lookup(pixel int64) (segment, position int, ok bool) {
	ref, ok := n.owner[pixel]
	return ref.segment, ref.position, ok
}

// Discharge returns a copy of the [time × position] discharge of segment id.
func (n *RiverNetwork) Discharge(id int) (*mat.Dense, error) {
	if id < 0 || id >= len(n.segments) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSegment, id)
	}
	return mat.DenseCopyOf(n.discharge[id]), nil
}

// DischargeAt returns the discharge time series at one position.
func (n *RiverNetwork) DischargeAt(id, position int) ([]float64, error) {
	if id < 0 || id >= len(n.segments) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSegment, id)
	}
	if _, cols := n.discharge[id].Dims(); position < 0 || position >= cols {
		return nil, fmt.Errorf("%w: position %d outside segment %d", ErrUnknownPixel, position, id)
	}
	return mat.Col(nil, position, n.discharge[id]), nil
}

// Terminal follows successors from id to the segment that drains the basin.
func (n *RiverNetwork) Terminal(id int) (int, error) {
	if id < 0 || id >= len(n.segments) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSegment, id)
	}
	for hops := 0; n.segments[id].Successor != nil; hops++ {
		if hops > len(n.segments) {
			return 0, fmt.Errorf("%w: successor cycle through segment %d", ErrNotForest, id)
		}
		id = *n.segments[id].Successor
	}
	return id, nil
}

// Hydrograph returns the discharge series at the last position of id.
func (n *RiverNetwork) Hydrograph(id int) ([]float64, error) {
	if id < 0 || id >= len(n.segments) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSegment, id)
	}
	_, cols := n.discharge[id].Dims()
	return n.DischargeAt(id, cols-1)
}

// subtract removes delta[t] from every position of segment id at step t.
func (n *RiverNetwork) subtract(id int, delta []float64) {
	d := n.discharge[id]
	for t := 0; t < n.nsteps; t++ {
		floats.AddConst(-delta[t], d.RawRowView(t))
	}
}

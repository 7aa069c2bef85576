package network

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Split describes the result of SplitAt. Upstream keeps the original id
// and ends at the split pixel; Downstream starts there. When the pixel is
// already a segment head nothing is split and both ids are equal.
type Split struct {
	Upstream   int
	Downstream int
	// Position is the index of the split pixel within Upstream before the
	// split.
	Position int
	Split    bool
}

// SplitAt divides the segment owning pixel so that pixel becomes the head
// of a segment. A new segment receives id Len() and the pixels from the
// split point down; the split column of discharge is copied into both.
func (n *RiverNetwork) SplitAt(pixel int64) (Split, error) {
	ref, ok := n.owner[pixel]
	if !ok {
		return Split{}, fmt.Errorf("%w: %d", ErrUnknownPixel, pixel)
	}
	parent := n.segments[ref.segment]
	idx := ref.position
	if idx == 0 {
		return Split{Upstream: parent.ID, Downstream: parent.ID}, nil
	}

	childID := len(n.segments)
	child := &Segment{
		ID:        childID,
		Pixels:    slices.Clone(parent.Pixels[idx:]),
		Elevation: slices.Clone(parent.Elevation[idx:]),
		Distance:  slices.Clone(parent.Distance[idx:]),
		Successor: parent.Successor,
	}
	parent.Pixels = slices.Clone(parent.Pixels[:idx+1])
	parent.Elevation = slices.Clone(parent.Elevation[:idx+1])
	parent.Distance = slices.Clone(parent.Distance[:idx+1])
	parent.Successor = &child.ID

	d := n.discharge[parent.ID]
	rows, cols := d.Dims()
	n.discharge[parent.ID] = mat.DenseCopyOf(d.Slice(0, rows, 0, idx+1))
	n.discharge = append(n.discharge, mat.DenseCopyOf(d.Slice(0, rows, idx, cols)))
	n.segments = append(n.segments, child)

	for pos, p := range child.Pixels {
		if pos == len(child.Pixels)-1 && child.Successor != nil {
			continue
		}
		n.owner[p] = pixelRef{segment: childID, position: pos}
	}

	return Split{Upstream: parent.ID, Downstream: childID, Position: idx, Split: true}, nil
}

// AdjustSegment subtracts delta[t] from every position of segment id only,
// leaving its successors alone.
func (n *RiverNetwork) AdjustSegment(id int, delta []float64) error {
	if id < 0 || id >= len(n.segments) {
		return fmt.Errorf("%w: %d", ErrUnknownSegment, id)
	}
	if len(delta) != n.nsteps {
		return fmt.Errorf("%w: adjustment has %d steps, network has %d", ErrMalformedSegment, len(delta), n.nsteps)
	}
	n.subtract(id, delta)
	return nil
}

// PropagateAdjustment subtracts delta[t] from every position of segment
// from and of each segment downstream of it, at every step t. It returns
// the ids it touched, in downstream order.
func (n *RiverNetwork) PropagateAdjustment(from int, delta []float64) ([]int, error) {
	if from < 0 || from >= len(n.segments) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSegment, from)
	}
	if len(delta) != n.nsteps {
		return nil, fmt.Errorf("%w: adjustment has %d steps, network has %d", ErrMalformedSegment, len(delta), n.nsteps)
	}

	var touched []int
	for id := from; ; id = *n.segments[id].Successor {
		if len(touched) > len(n.segments) {
			return touched, fmt.Errorf("%w: successor cycle below segment %d", ErrNotForest, from)
		}
		n.subtract(id, delta)
		touched = append(touched, id)
		if n.segments[id].Successor == nil {
			break
		}
	}
	return touched, nil
}

// Package splice inserts reservoirs into a river network. Each reservoir's
// outlet pixel becomes a segment boundary and its monthly storage change is
// removed from the discharge of the split reach and every segment below it.
package splice

import (
	"fmt"
	"math"
	"sort"

	"github.com/chrissnell/reservoirflow/internal/network"
	"github.com/chrissnell/reservoirflow/internal/raster"
	"github.com/chrissnell/reservoirflow/internal/types"
	"go.uber.org/zap"
)

// Tolerance is the total absolute difference between requested and
// achievable adjustment above which negative entries are rescaled.
const Tolerance = 1e-6

// Reservoir is one reservoir to splice. Changes holds the storage change
// per network time step in discharge units, positive when the reservoir
// fills.
type Reservoir struct {
	Region  types.Region
	Changes []float64
}

// Outcome records what splicing did for one reservoir.
type Outcome struct {
	RegionID    int
	OutletPixel int64
	Upstream    int
	Downstream  int
	Split       bool
	Adjustment  []float64
	Requested   float64
	Applied     float64
	Rescaled    bool
	Skipped     bool
	Reason      string
}

// Splicer applies reservoirs to a network in dependency order.
type Splicer struct {
	// Tolerance overrides the package default when positive.
	Tolerance float64
	logger    *zap.SugaredLogger
}

// NewSplicer creates a splicer that logs through logger.
func NewSplicer(logger *zap.SugaredLogger) *Splicer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Splicer{Tolerance: Tolerance, logger: logger}
}

type placement struct {
	index    int
	pixel    int64
	segment  int
	position int
}

// Splice mutates net in place and returns one Outcome per reservoir in
// input order. Reservoirs whose outlet cannot be placed on the network are
// skipped with a warning; misaligned rasters fail the whole call.
func (s *Splicer) Splice(net *network.RiverNetwork, reservoirs []Reservoir, acc, ids *raster.Grid) ([]Outcome, error) {
	if err := raster.CheckAligned(acc, ids); err != nil {
		return nil, fmt.Errorf("accumulation and id rasters: %w", err)
	}

	outcomes := make([]Outcome, len(reservoirs))
	var plan []placement
	for i, r := range reservoirs {
		outcomes[i].RegionID = r.Region.ID
		pixel, err := OutletPixel(r.Region, acc, ids)
		if err != nil {
			s.skip(&outcomes[i], err.Error())
			continue
		}
		outcomes[i].OutletPixel = pixel
		seg, pos, ok := net.Lookup(pixel)
		if !ok {
			s.skip(&outcomes[i], fmt.Sprintf("outlet pixel %d is not on the river network", pixel))
			continue
		}
		plan = append(plan, placement{index: i, pixel: pixel, segment: seg, position: pos})
	}

	// descending segment id puts reaches nearer the headwaters first; within
	// a segment the upstream position goes first
	sort.SliceStable(plan, func(a, b int) bool {
		if plan[a].segment != plan[b].segment {
			return plan[a].segment > plan[b].segment
		}
		return plan[a].position < plan[b].position
	})

	for _, p := range plan {
		out := &outcomes[p.index]
		if err := s.apply(net, reservoirs[p.index], p.pixel, out); err != nil {
			s.skip(out, err.Error())
		}
	}
	return outcomes, nil
}

func (s *Splicer) apply(net *network.RiverNetwork, r Reservoir, pixel int64, out *Outcome) error {
	split, err := net.SplitAt(pixel)
	if err != nil {
		return err
	}
	out.Upstream, out.Downstream, out.Split = split.Upstream, split.Downstream, split.Split

	// inflow is read before any reduction is applied
	inflow, err := net.DischargeAt(split.Downstream, 0)
	if err != nil {
		return err
	}
	requested := align(r.Changes, net.Steps())
	if len(r.Changes) != net.Steps() {
		s.logger.Warnf("reservoir %d: %d storage changes for %d network steps; aligning by index",
			r.Region.ID, len(r.Changes), net.Steps())
	}

	adj, rescaled := Adjustment(inflow, requested, s.Tolerance)
	if _, err := net.PropagateAdjustment(split.Downstream, adj); err != nil {
		return err
	}
	// the truncated reach above the outlet carries the reduction too
	if split.Split {
		if err := net.AdjustSegment(split.Upstream, adj); err != nil {
			return err
		}
	}

	out.Adjustment = adj
	out.Rescaled = rescaled
	for t := range adj {
		out.Requested += requested[t]
		out.Applied += adj[t]
	}
	s.logger.Debugf("reservoir %d spliced at pixel %d (segments %d → %d), applied %.3f of %.3f",
		r.Region.ID, pixel, split.Upstream, split.Downstream, out.Applied, out.Requested)
	return nil
}

func (s *Splicer) skip(out *Outcome, reason string) {
	out.Skipped = true
	out.Reason = reason
	s.logger.Warnf("skipping reservoir %d: %s", out.RegionID, reason)
}

func align(changes []float64, steps int) []float64 {
	out := make([]float64, steps)
	copy(out, changes)
	return out
}

// Adjustment clamps each requested change to the available inflow. When
// clamping loses more than tolerance in total, releases (negative entries)
// are scaled by the fraction of positive demand that was met, so a
// reservoir cannot release water it never stored.
func Adjustment(inflow, requested []float64, tolerance float64) ([]float64, bool) {
	if tolerance <= 0 {
		tolerance = Tolerance
	}
	adj := make([]float64, len(requested))
	var imbalance, achieved, demanded float64
	for t := range requested {
		adj[t] = math.Min(inflow[t], requested[t])
		imbalance += math.Abs(adj[t] - requested[t])
		if adj[t] > 0 {
			achieved += adj[t]
			demanded += requested[t]
		}
	}
	if imbalance <= tolerance || demanded <= 0 {
		return adj, false
	}

	ratio := achieved / demanded
	for t := range adj {
		if adj[t] < 0 {
			adj[t] *= ratio
		}
	}
	return adj, true
}

package stagestorage

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const (
	// MinFitPoints is the smallest number of rows a fit is attempted on.
	MinFitPoints = 3

	minExponent = 0.1
	maxExponent = 10.0

	// penalty returned by the objective outside the exponent bounds
	penalty = 1e30
)

// ErrNoConvergence is returned when a power-law fit cannot be established.
var ErrNoConvergence = errors.New("power-law fit did not converge")

// Model is the stage-storage relation
// V(A) = A·(area − AreaOffset)^B + VolumeOffset.
type Model struct {
	A            float64 `json:"a"`
	B            float64 `json:"b"`
	AreaOffset   float64 `json:"area_offset"`
	VolumeOffset float64 `json:"volume_offset"`
}

// Volume evaluates the full (offset) form. Areas at or below the offset
// map to VolumeOffset.
func (m Model) Volume(area float64) float64 {
	x := area - m.AreaOffset
	if x <= 0 {
		return m.VolumeOffset
	}
	return m.A*math.Pow(x, m.B) + m.VolumeOffset
}

// PlainVolume evaluates A·area^B, ignoring both offsets.
func (m Model) PlainVolume(area float64) float64 {
	if area <= 0 {
		return 0
	}
	return m.A * math.Pow(area, m.B)
}

func (m Model) String() string {
	if m.AreaOffset == 0 && m.VolumeOffset == 0 {
		return fmt.Sprintf("V = %.6g·A^%.4f", m.A, m.B)
	}
	return fmt.Sprintf("V = %.6g·(A − %.6g)^%.4f + %.6g", m.A, m.AreaOffset, m.B, m.VolumeOffset)
}

// Quality summarises how well a model reproduces the rows it was fitted on.
type Quality struct {
	RMSE     float64 `json:"rmse"`
	RSquared float64 `json:"r_squared"`
	Points   int     `json:"points"`
}

// FitPowerLaw fits y = a·(x − x0)^b + y0 by nonlinear least squares. The
// solver starts from a log-log linear regression and refines it with
// Nelder-Mead; the fit is rejected unless it terminates on a convergence
// status with a finite, positive a and b inside [0.1, 10].
func FitPowerLaw(x, y []float64, x0, y0 float64) (Model, Quality, error) {
	if len(x) != len(y) {
		return Model{}, Quality{}, fmt.Errorf("%w: %d areas vs %d volumes", ErrNoConvergence, len(x), len(y))
	}

	var dx, dy, lx, ly []float64
	scale := 0.0
	for i := range x {
		u, v := x[i]-x0, y[i]-y0
		if u < 0 {
			continue
		}
		dx = append(dx, u)
		dy = append(dy, v)
		scale = math.Max(scale, math.Abs(v))
		if u > 0 && v > 0 {
			lx = append(lx, math.Log(u))
			ly = append(ly, math.Log(v))
		}
	}
	if len(lx) < MinFitPoints || scale == 0 {
		return Model{}, Quality{}, fmt.Errorf("%w: %d usable points", ErrNoConvergence, len(lx))
	}

	alpha, beta := stat.LinearRegression(lx, ly, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return Model{}, Quality{}, fmt.Errorf("%w: degenerate log-log regression", ErrNoConvergence)
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			a, b := math.Exp(p[0]), p[1]
			if b < minExponent || b > maxExponent || math.IsInf(a, 0) {
				return penalty
			}
			sse := 0.0
			for i := range dx {
				r := (a*math.Pow(dx[i], b) - dy[i]) / scale
				sse += r * r
			}
			if math.IsNaN(sse) || math.IsInf(sse, 0) {
				return penalty
			}
			return sse
		},
	}

	start := []float64{alpha, math.Min(math.Max(beta, minExponent), maxExponent)}
	settings := &optimize.Settings{
		MajorIterations: 5000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Relative:   1e-12,
			Iterations: 200,
		},
	}
	result, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if err != nil {
		return Model{}, Quality{}, fmt.Errorf("%w: %v", ErrNoConvergence, err)
	}
	if !converged(result.Status) {
		return Model{}, Quality{}, fmt.Errorf("%w: solver stopped with status %v", ErrNoConvergence, result.Status)
	}

	m := Model{A: math.Exp(result.X[0]), B: result.X[1], AreaOffset: x0, VolumeOffset: y0}
	if !valid(m) || result.F >= penalty {
		return Model{}, Quality{}, fmt.Errorf("%w: parameters out of bounds (%s)", ErrNoConvergence, m)
	}
	return m, evaluate(m, x, y), nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge,
		optimize.StepConvergence, optimize.FunctionThreshold, optimize.GradientThreshold:
		return true
	}
	return false
}

func valid(m Model) bool {
	if math.IsNaN(m.A) || math.IsInf(m.A, 0) || m.A <= 0 {
		return false
	}
	return m.B >= minExponent && m.B <= maxExponent
}

// regressOrigin fits V = a·A^b by log-log linear regression alone. It is
// the last resort when the nonlinear solve of the origin-anchored model
// fails.
func regressOrigin(x, y []float64) (Model, Quality, error) {
	var lx, ly []float64
	for i := range x {
		if x[i] > 0 && y[i] > 0 {
			lx = append(lx, math.Log(x[i]))
			ly = append(ly, math.Log(y[i]))
		}
	}
	if len(lx) < 2 {
		return Model{}, Quality{}, fmt.Errorf("%w: %d positive points", ErrNoConvergence, len(lx))
	}
	alpha, beta := stat.LinearRegression(lx, ly, nil, false)
	m := Model{A: math.Exp(alpha), B: beta}
	if math.IsNaN(m.A) || math.IsInf(m.A, 0) || math.IsNaN(m.B) {
		return Model{}, Quality{}, fmt.Errorf("%w: degenerate regression", ErrNoConvergence)
	}
	return m, evaluate(m, x, y), nil
}

func evaluate(m Model, x, y []float64) Quality {
	pred := make([]float64, 0, len(x))
	obs := make([]float64, 0, len(y))
	for i := range x {
		if x[i] < m.AreaOffset {
			continue
		}
		pred = append(pred, m.Volume(x[i]))
		obs = append(obs, y[i])
	}
	if len(obs) == 0 {
		return Quality{}
	}

	mean := stat.Mean(obs, nil)
	var ssRes, ssTot float64
	for i := range obs {
		ssRes += (obs[i] - pred[i]) * (obs[i] - pred[i])
		ssTot += (obs[i] - mean) * (obs[i] - mean)
	}
	q := Quality{
		RMSE:   math.Sqrt(ssRes / float64(len(obs))),
		Points: len(obs),
	}
	if ssTot > 0 {
		q.RSquared = 1 - ssRes/ssTot
	}
	return q
}

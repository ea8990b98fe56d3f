package lanefinder

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"go.uber.org/multierr"
)

// RobustFilterConfig configures the consensus line filter applied to
// detected points.
type RobustFilterConfig struct {
	MinSamples        int     `json:"min_samples" yaml:"min_samples"`
	ResidualThreshold float64 `json:"residual_threshold" yaml:"residual_threshold"`
	MaxTrials         int     `json:"max_trials" yaml:"max_trials"`
	// Seed makes the trial sampling reproducible.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultRobustFilterConfig returns 2-point samples, a 1px threshold and
// 200 trials.
func DefaultRobustFilterConfig() RobustFilterConfig {
	return RobustFilterConfig{
		MinSamples:        2,
		ResidualThreshold: 1,
		MaxTrials:         200,
		Seed:              1,
	}
}

// Validate checks the filter parameters.
func (cfg RobustFilterConfig) Validate() error {
	var err error
	if cfg.MinSamples < 2 {
		err = multierr.Append(err, fmt.Errorf("%w: min samples %d, a line needs 2", ErrConfiguration, cfg.MinSamples))
	}
	if cfg.ResidualThreshold <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: residual threshold %v must be positive", ErrConfiguration, cfg.ResidualThreshold))
	}
	if cfg.MaxTrials < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max trials %d is negative", ErrConfiguration, cfg.MaxTrials))
	}
	return err
}

// FilterOutcome tells which path the robust filter took.
type FilterOutcome int

const (
	// FilterDisabled means filtering was not requested.
	FilterDisabled FilterOutcome = iota
	// FilterSkipped means there were too few points to sample.
	FilterSkipped
	// FilterConverged means a consensus was found and only inliers are kept.
	FilterConverged
	// FilterFallback means no consensus was found and raw points are kept.
	FilterFallback
)

func (o FilterOutcome) String() string {
	switch o {
	case FilterDisabled:
		return "disabled"
	case FilterSkipped:
		return "skipped"
	case FilterConverged:
		return "converged"
	case FilterFallback:
		return "fallback"
	}
	return fmt.Sprintf("FilterOutcome(%d)", int(o))
}

// lineModel is an infinite line through origin along a unit direction.
type lineModel struct {
	origin    r2.Point
	direction r2.Point
}

func lineThrough(a, b r2.Point) (lineModel, bool) {
	d := b.Sub(a)
	if d.Norm() == 0 {
		return lineModel{}, false
	}
	return lineModel{origin: a, direction: d.Normalize()}, true
}

// principalLine fits a total least squares line through points.
func principalLine(points []r2.Point) (lineModel, bool) {
	if len(points) < 2 {
		return lineModel{}, false
	}
	var c r2.Point
	for _, p := range points {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(points)))

	var sxx, syy, sxy float64
	for _, p := range points {
		d := p.Sub(c)
		sxx += d.X * d.X
		syy += d.Y * d.Y
		sxy += d.X * d.Y
	}
	if sxx == 0 && syy == 0 {
		return lineModel{}, false
	}
	theta := 0.5 * math.Atan2(2*sxy, sxx-syy)
	return lineModel{origin: c, direction: r2.Point{X: math.Cos(theta), Y: math.Sin(theta)}}, true
}

func (l lineModel) distance(p r2.Point) float64 {
	return math.Abs(p.Sub(l.origin).Cross(l.direction))
}

// consensus marks the points closer than threshold to l.
func (l lineModel) consensus(points []r2.Point, threshold float64) ([]bool, int, float64) {
	inliers := make([]bool, len(points))
	count, residual := 0, 0.0
	for i, p := range points {
		d := l.distance(p)
		if d < threshold {
			inliers[i] = true
			count++
			residual += d
		}
	}
	return inliers, count, residual
}

// filterOutliers keeps the points consistent with the best line found by
// random 2-point sampling. It never fails: without a consensus the input is
// returned unchanged and the outcome says so.
func filterOutliers(points []RectifiedPoint, cfg RobustFilterConfig) ([]RectifiedPoint, FilterOutcome) {
	if len(points) < cfg.MinSamples || len(points) < 2 {
		return points, FilterSkipped
	}

	data := make([]r2.Point, len(points))
	for i, p := range points {
		data[i] = r2.Point(p)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	n := len(data)

	var best []bool
	bestCount, bestResidual := 0, math.Inf(1)
	for trial := 0; trial < cfg.MaxTrials; trial++ {
		i := rng.Intn(n)
		j := rng.Intn(n - 1)
		if j >= i {
			j++
		}
		model, ok := lineThrough(data[i], data[j])
		if !ok {
			continue
		}
		inliers, count, residual := model.consensus(data, cfg.ResidualThreshold)
		if count > bestCount || (count == bestCount && residual < bestResidual) {
			best, bestCount, bestResidual = inliers, count, residual
		}
		if bestCount == n {
			break
		}
	}

	if bestCount < cfg.MinSamples {
		return points, FilterFallback
	}

	// refit on the consensus set and keep it if it does not shrink
	var members []r2.Point
	for i, in := range best {
		if in {
			members = append(members, data[i])
		}
	}
	if model, ok := principalLine(members); ok {
		if refit, count, _ := model.consensus(data, cfg.ResidualThreshold); count >= bestCount {
			best = refit
		}
	}

	out := make([]RectifiedPoint, 0, bestCount)
	for i, in := range best {
		if in {
			out = append(out, points[i])
		}
	}
	return out, FilterConverged
}

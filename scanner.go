package lanefinder

import (
	"fmt"
	"image"
	"math"

	"go.uber.org/multierr"
)

// ScanRegion is the vertical sweep of one lane scan. Scan rows are
// start.Y - i for i in [Start, Stop) by Step, so the sweep runs from the
// vehicle outward.
type ScanRegion struct {
	Start int `json:"start" yaml:"start"`
	Stop  int `json:"stop" yaml:"stop"`
	Step  int `json:"step" yaml:"step"`
}

// Validate rejects empty or backwards sweeps.
func (r ScanRegion) Validate() error {
	var err error
	if r.Start < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: scan start %d is negative", ErrConfiguration, r.Start))
	}
	if r.Step <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: scan step %d must be positive", ErrConfiguration, r.Step))
	}
	if r.Stop <= r.Start {
		err = multierr.Append(err, fmt.Errorf("%w: scan stop %d must be after start %d", ErrConfiguration, r.Stop, r.Start))
	}
	return err
}

// last returns the final i visited by the sweep.
func (r ScanRegion) last() int {
	return r.Start + ((r.Stop-1-r.Start)/r.Step)*r.Step
}

// ScanWindow is the strip sampled at every step.
type ScanWindow struct {
	Height int `json:"height" yaml:"height"`
	// MaxAdjust bounds how far the search span may move between two steps.
	MaxAdjust int `json:"max_adjust" yaml:"max_adjust"`
}

// Validate checks the window is usable.
func (w ScanWindow) Validate() error {
	var err error
	if w.Height <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: window height %d must be positive", ErrConfiguration, w.Height))
	}
	if w.MaxAdjust < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max adjust %d is negative", ErrConfiguration, w.MaxAdjust))
	}
	return err
}

// ScannerConfig configures a LaneScanner.
type ScannerConfig struct {
	Region ScanRegion         `json:"region" yaml:"region"`
	Window ScanWindow         `json:"window" yaml:"window"`
	Filter RobustFilterConfig `json:"filter" yaml:"filter"`
}

// Validate combines the checks of every part.
func (cfg ScannerConfig) Validate() error {
	return multierr.Combine(cfg.Region.Validate(), cfg.Window.Validate(), cfg.Filter.Validate())
}

// ScanStep records one step of a sweep.
type ScanStep struct {
	// Window is the strip that was summed.
	Window image.Rectangle
	// Midpoint is the geometric centre column of the strip.
	Midpoint RectifiedPoint
	// Peak is the histogram maximum, accepted when Accepted is set.
	Peak     RectifiedPoint
	Accepted bool
	// Adjust is the clamped drift applied to the span after this step.
	Adjust int
	// Clamped is set when the drift would have pushed the span past the
	// mask edge and the span was shifted back inside instead.
	Clamped bool
}

// Detection is the candidate point set of one scan.
type Detection struct {
	Label string
	// Points are ordered near to far (decreasing y). When the robust filter
	// converged these are the inliers only.
	Points []RectifiedPoint
	// Raw holds every accepted peak before filtering.
	Raw     []RectifiedPoint
	Outcome FilterOutcome
	Trace   []ScanStep
}

// LaneScanner finds lane boundary points in a rectified binary mask with a
// sliding window. It holds no per-call state.
type LaneScanner struct {
	cfg ScannerConfig
}

// NewLaneScanner validates cfg and builds a scanner.
func NewLaneScanner(cfg ScannerConfig) (*LaneScanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LaneScanner{cfg: cfg}, nil
}

// Config returns the scanner configuration.
func (ls *LaneScanner) Config() ScannerConfig {
	return ls.cfg
}

// Detect sweeps mask upward from start.Y, searching columns between start.X
// and stop.X, and returns the detected points tagged with label.
func (ls *LaneScanner) Detect(mask *image.Gray, start, stop RectifiedPoint, label string, useRobustFilter bool) (Detection, error) {
	region, window := ls.cfg.Region, ls.cfg.Window
	b := mask.Bounds()
	width, height := b.Dx(), b.Dy()

	minX := int(math.Round(math.Min(start.X, stop.X)))
	maxX := int(math.Round(math.Max(start.X, stop.X)))
	if maxX <= minX {
		return Detection{}, fmt.Errorf("%w: empty search span [%d, %d)", ErrConfiguration, minX, maxX)
	}
	if minX < 0 || maxX > width {
		return Detection{}, fmt.Errorf("%w: search span [%d, %d) outside mask width %d", ErrBounds, minX, maxX, width)
	}

	baseY := int(math.Round(start.Y))
	if top := baseY - region.last(); top < 0 {
		return Detection{}, fmt.Errorf("%w: scan row %d above mask", ErrBounds, top)
	}
	if bottom := baseY - region.Start + window.Height; bottom > height {
		return Detection{}, fmt.Errorf("%w: scan window bottom %d below mask height %d", ErrBounds, bottom, height)
	}

	det := Detection{Label: label}
	hist := make([]int, maxX-minX)

	for i := region.Start; i < region.Stop; i += region.Step {
		y := baseY - i

		columnSums(mask, hist, minX, y, window.Height)
		peak, mean := peakAndMean(hist)

		mid := minX + len(hist)/2
		step := ScanStep{
			Window:   image.Rect(minX, y, maxX, y+window.Height),
			Midpoint: RectifiedPoint{X: float64(mid), Y: float64(y)},
			Peak:     RectifiedPoint{X: float64(minX + peak), Y: float64(y)},
		}

		// the mean is the per-step threshold; empty strips never pass it
		if float64(hist[peak]) > mean {
			step.Accepted = true
			step.Adjust = clampAdjust(minX+peak-mid, window.MaxAdjust)
			minX, maxX, step.Clamped = shiftSpan(minX, maxX, step.Adjust, width)
			det.Raw = append(det.Raw, step.Peak)
		}
		det.Trace = append(det.Trace, step)
	}

	det.Points = det.Raw
	det.Outcome = FilterDisabled
	if useRobustFilter {
		det.Points, det.Outcome = filterOutliers(det.Raw, ls.cfg.Filter)
	}
	return det, nil
}

// columnSums fills hist with per-column intensity sums of rows [y, y+h)
// starting at column minX. Coordinates are relative to the mask bounds.
func columnSums(mask *image.Gray, hist []int, minX, y, h int) {
	clear(hist)
	b := mask.Bounds()
	for row := y; row < y+h; row++ {
		off := mask.PixOffset(b.Min.X+minX, b.Min.Y+row)
		for col := range hist {
			hist[col] += int(mask.Pix[off+col])
		}
	}
}

// peakAndMean returns the index of the first maximum and the mean value.
func peakAndMean(hist []int) (int, float64) {
	peak, sum := 0, 0
	for i, v := range hist {
		sum += v
		if v > hist[peak] {
			peak = i
		}
	}
	return peak, float64(sum) / float64(len(hist))
}

// clampAdjust limits the magnitude of adjust to limit, keeping its sign.
func clampAdjust(adjust, limit int) int {
	switch {
	case adjust > limit:
		return limit
	case adjust < -limit:
		return -limit
	}
	return adjust
}

// shiftSpan moves [minX, maxX) by adjust, keeping it inside [0, width). It
// reports whether the span had to be pushed back inside.
func shiftSpan(minX, maxX, adjust, width int) (int, int, bool) {
	minX += adjust
	maxX += adjust
	clamped := false
	if minX < 0 {
		maxX -= minX
		minX = 0
		clamped = true
	}
	if maxX > width {
		minX -= maxX - width
		maxX = width
		clamped = true
	}
	return minX, maxX, clamped
}

package lanefinder

import (
	"context"
	"fmt"
	"image"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils/trace"
)

// LaneConfig names one boundary to scan and where its search starts.
type LaneConfig struct {
	Label string `json:"label" yaml:"label"`
	Start Coord  `json:"start" yaml:"start"`
	Stop  Coord  `json:"stop" yaml:"stop"`
}

// FitConfig controls curve fitting and resampling.
type FitConfig struct {
	MaxDegree        int     `json:"max_degree" yaml:"max_degree"`
	SelectBestDegree bool    `json:"select_best_degree" yaml:"select_best_degree"`
	Start            float64 `json:"start" yaml:"start"`
	Stop             float64 `json:"stop" yaml:"stop"`
	Count            int     `json:"count" yaml:"count"`
}

// OffsetConfig enables the equidistant curve estimated from each lane.
type OffsetConfig struct {
	Enabled  bool    `json:"enabled" yaml:"enabled"`
	Distance float64 `json:"distance" yaml:"distance"`
	Side     Side    `json:"side" yaml:"side"`
	// Label is given to the derived curve, e.g. "mid" when estimating the
	// centre line from the right boundary.
	Label string `json:"label" yaml:"label"`
}

// PipelineConfig is everything a Pipeline needs; it is fixed per run.
type PipelineConfig struct {
	Perspective  PerspectiveConfig `json:"perspective" yaml:"perspective"`
	Scanner      ScannerConfig     `json:"scanner" yaml:"scanner"`
	RobustFilter bool              `json:"robust_filter" yaml:"robust_filter"`
	Lanes        []LaneConfig      `json:"lanes" yaml:"lanes"`
	Fit          FitConfig         `json:"fit" yaml:"fit"`
	Offset       OffsetConfig      `json:"offset" yaml:"offset"`
	// Preprocess selects the mask filter: "edges" (default) or "binary".
	Preprocess string `json:"preprocess" yaml:"preprocess"`
}

// DefaultPipelineConfig is tuned for a 320 px wide line-following camera,
// estimating the centre line 40 px left of the right boundary.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Perspective: PerspectiveConfig{
			Width:       320,
			Height:      240,
			Source:      [4]Coord{{50, 240}, {200, 240}, {0, 0}, {320, 0}},
			Destination: [4]Coord{{135, 270}, {150, 270}, {0, 0}, {320, 0}},
			Offset:      150,
		},
		Scanner: ScannerConfig{
			Region: ScanRegion{Start: 0, Stop: 240, Step: 10},
			Window: ScanWindow{Height: 8, MaxAdjust: 8},
			Filter: DefaultRobustFilterConfig(),
		},
		RobustFilter: true,
		Lanes: []LaneConfig{
			{Label: "right", Start: Coord{145, 230}, Stop: Coord{175, 230}},
		},
		Fit: FitConfig{MaxDegree: 2, Start: 0, Stop: 240, Count: 20},
		Offset: OffsetConfig{
			Enabled:  true,
			Distance: 40,
			Side:     SideLeft,
			Label:    "mid",
		},
	}
}

// pipelineFromAttributes decodes resource attributes over
// DefaultPipelineConfig, so a config only names what differs from the
// defaults. A given "lanes" list replaces the default lanes.
func pipelineFromAttributes(attrs map[string]interface{}) (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	if len(attrs) == 0 {
		return cfg, nil
	}
	if _, ok := attrs["lanes"]; ok {
		cfg.Lanes = nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(attrs); err != nil {
		return cfg, fmt.Errorf("%w: pipeline: %v", ErrConfiguration, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every part of the configuration.
func (cfg PipelineConfig) Validate() error {
	err := multierr.Combine(cfg.Perspective.Validate(), cfg.Scanner.Validate())
	if len(cfg.Lanes) == 0 {
		err = multierr.Append(err, fmt.Errorf("%w: no lanes configured", ErrConfiguration))
	}
	seen := map[string]bool{}
	for i, l := range cfg.Lanes {
		if l.Label == "" {
			err = multierr.Append(err, fmt.Errorf("%w: lane %d has no label", ErrConfiguration, i))
		}
		if seen[l.Label] {
			err = multierr.Append(err, fmt.Errorf("%w: duplicate lane label %q", ErrConfiguration, l.Label))
		}
		seen[l.Label] = true
	}
	if cfg.Fit.MaxDegree < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max degree %d is negative", ErrConfiguration, cfg.Fit.MaxDegree))
	}
	if cfg.Fit.Count < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: fit count %d must be positive", ErrConfiguration, cfg.Fit.Count))
	}
	if cfg.Offset.Enabled {
		if cfg.Offset.Side != SideLeft && cfg.Offset.Side != SideRight {
			err = multierr.Append(err, fmt.Errorf("%w: offset side %d must be -1 or 1", ErrConfiguration, cfg.Offset.Side))
		}
		if cfg.Offset.Distance <= 0 {
			err = multierr.Append(err, fmt.Errorf("%w: offset distance %v must be positive", ErrConfiguration, cfg.Offset.Distance))
		}
	}
	return err
}

// OffsetLane is an equidistant curve derived from a fitted lane.
type OffsetLane struct {
	Label     string
	Rectified []RectifiedPoint
	Camera    []CameraPoint
}

// LaneResult is the outcome for one configured lane. When Err is set the
// remaining fields hold whatever was computed before the failure.
type LaneResult struct {
	Label     string
	Detection Detection
	Curve     FittedCurve
	Camera    []CameraPoint
	Offset    *OffsetLane
	Err       error
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Mask      *image.Gray
	Rectified *image.Gray
	Lanes     []LaneResult
}

// Pipeline runs preprocess, rectification, scanning, fitting and
// re-projection for one frame at a time. It keeps no state between frames
// and may be shared between goroutines.
type Pipeline struct {
	cfg    PipelineConfig
	logger logging.Logger

	pre     Preprocessor
	mapper  *PerspectiveMapper
	scanner *LaneScanner
	fitter  *CurveFitter
}

// NewPipeline validates cfg and builds every stage.
func NewPipeline(cfg PipelineConfig, logger logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var err error
	p := &Pipeline{cfg: cfg, logger: logger}

	p.pre, err = NewPreprocessor(cfg.Preprocess)
	if err != nil {
		return nil, err
	}
	p.mapper, err = NewPerspectiveMapper(cfg.Perspective)
	if err != nil {
		return nil, err
	}
	p.scanner, err = NewLaneScanner(cfg.Scanner)
	if err != nil {
		return nil, err
	}
	p.fitter, err = NewCurveFitter(cfg.Fit.MaxDegree)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// WithPreprocessor returns a copy of the pipeline using pre for masking.
func (p *Pipeline) WithPreprocessor(pre Preprocessor) *Pipeline {
	cp := *p
	cp.pre = pre
	return &cp
}

// Mapper exposes the perspective mapper, e.g. for drawing.
func (p *Pipeline) Mapper() *PerspectiveMapper {
	return p.mapper
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() PipelineConfig {
	return p.cfg
}

// Process runs the pipeline on one camera frame. Failures that affect the
// whole frame (bad mask, crop outside the frame) are returned; per-lane
// failures are recorded in the lane result.
func (p *Pipeline) Process(ctx context.Context, frame image.Image) (FrameResult, error) {
	ctx, span := trace.StartSpan(ctx, "lanefinder::Pipeline::Process")
	defer span.End()

	mask, err := p.pre.Mask(frame)
	if err != nil {
		return FrameResult{}, err
	}
	return p.ProcessMask(ctx, mask)
}

// ProcessMask runs the pipeline on an already binarized camera-space mask.
func (p *Pipeline) ProcessMask(ctx context.Context, mask *image.Gray) (FrameResult, error) {
	_, span := trace.StartSpan(ctx, "lanefinder::Pipeline::ProcessMask")
	defer span.End()

	if mask == nil {
		return FrameResult{}, fmt.Errorf("%w: nil mask", ErrBounds)
	}

	warped, err := p.mapper.Rectify(mask, true)
	if err != nil {
		return FrameResult{}, err
	}
	rectified, ok := warped.(*image.Gray)
	if !ok {
		return FrameResult{}, fmt.Errorf("rectified mask is %T, not gray", warped)
	}

	res := FrameResult{Mask: mask, Rectified: rectified}
	for _, lane := range p.cfg.Lanes {
		lr := p.processLane(rectified, lane)
		if lr.Err != nil {
			p.logger.Warnf("lane %q: %v", lane.Label, lr.Err)
		}
		res.Lanes = append(res.Lanes, lr)
	}
	return res, nil
}

func (p *Pipeline) processLane(rectified *image.Gray, lane LaneConfig) LaneResult {
	lr := LaneResult{Label: lane.Label}

	lr.Detection, lr.Err = p.scanner.Detect(rectified, lane.Start.Rectified(), lane.Stop.Rectified(), lane.Label, p.cfg.RobustFilter)
	if lr.Err != nil {
		return lr
	}
	if lr.Detection.Outcome == FilterFallback {
		p.logger.Debugf("lane %q: robust filter found no consensus, keeping %d raw points", lane.Label, len(lr.Detection.Raw))
	}

	fit := p.cfg.Fit
	lr.Curve, lr.Err = p.fitter.Fit(lr.Detection.Points, fit.Start, fit.Stop, fit.Count, fit.SelectBestDegree)
	if lr.Err != nil {
		return lr
	}
	lr.Camera = p.mapper.ProjectToCamera(lr.Curve.Points)

	if p.cfg.Offset.Enabled {
		rect := OffsetCurve(lr.Curve.Points, p.cfg.Offset.Distance, p.cfg.Offset.Side)
		label := p.cfg.Offset.Label
		if label == "" {
			label = lane.Label + "-offset"
		}
		lr.Offset = &OffsetLane{
			Label:     label,
			Rectified: rect,
			Camera:    p.mapper.ProjectToCamera(rect),
		}
	}

	p.logger.Debugf("lane %q: %d points (%v), degree %d", lane.Label, len(lr.Detection.Points), lr.Detection.Outcome, lr.Curve.Poly.Degree())
	return lr
}

package lanefinder

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
)

var LaneFinderModel = family.WithModel("lane-finder")

func init() {
	resource.RegisterService(generic.API, LaneFinderModel,
		resource.Registration[resource.Resource, *LaneFinderConfig]{
			Constructor: newLaneFinder,
		},
	)
}

type LaneFinderConfig struct {
	Camera string `json:"camera"`
	// Pipeline overrides fields of DefaultPipelineConfig.
	Pipeline map[string]interface{} `json:"pipeline,omitempty"`
}

func (cfg *LaneFinderConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Camera == "" {
		return nil, nil, fmt.Errorf("need a camera")
	}
	if _, err := pipelineFromAttributes(cfg.Pipeline); err != nil {
		return nil, nil, err
	}
	return []string{cfg.Camera}, nil, nil
}

type laneFinder struct {
	resource.AlwaysRebuild
	resource.TriviallyCloseable

	name resource.Name

	logger logging.Logger
	conf   *LaneFinderConfig

	camera   camera.Camera
	pipeline *Pipeline
}

func newLaneFinder(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*LaneFinderConfig](rawConf)
	if err != nil {
		return nil, err
	}

	return NewLaneFinder(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewLaneFinder(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *LaneFinderConfig, logger logging.Logger) (resource.Resource, error) {
	var err error

	s := &laneFinder{
		name:   name,
		logger: logger,
		conf:   conf,
	}

	pc, err := pipelineFromAttributes(conf.Pipeline)
	if err != nil {
		return nil, err
	}
	s.pipeline, err = NewPipeline(pc, logger)
	if err != nil {
		return nil, err
	}

	s.camera, err = camera.FromProvider(deps, conf.Camera)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *laneFinder) Name() resource.Name {
	return s.name
}

// ----

type DetectCmd struct {
	// Rectified adds the rectified-space points to the reply.
	Rectified bool
	// Trace adds the per-step scan windows to the reply.
	Trace bool
}

type cmdStruct struct {
	Detect *DetectCmd
}

func (s *laneFinder) DoCommand(ctx context.Context, cmdMap map[string]interface{}) (map[string]interface{}, error) {
	var cmd cmdStruct
	err := mapstructure.Decode(cmdMap, &cmd)
	if err != nil {
		return nil, err
	}

	if cmd.Detect != nil {
		ni, _, err := s.camera.Images(ctx, nil, nil)
		if err != nil {
			return nil, err
		}
		if len(ni) == 0 {
			return nil, fmt.Errorf("no images returned from camera %q", s.conf.Camera)
		}
		frame, err := ni[0].Image(ctx)
		if err != nil {
			return nil, err
		}

		res, err := s.pipeline.Process(ctx, frame)
		if err != nil {
			return nil, err
		}
		s.logger.Debugf("detected %d lanes", len(res.Lanes))
		return frameToMap(res, *cmd.Detect), nil
	}

	return nil, fmt.Errorf("bad cmd %v", cmdMap)
}

// frameToMap flattens a result into plain maps and slices for DoCommand.
func frameToMap(res FrameResult, opts DetectCmd) map[string]interface{} {
	lanes := []interface{}{}
	for _, lane := range res.Lanes {
		m := map[string]interface{}{
			"label":   lane.Label,
			"outcome": lane.Detection.Outcome.String(),
			"points":  len(lane.Detection.Points),
		}
		if lane.Err != nil {
			m["error"] = lane.Err.Error()
			lanes = append(lanes, m)
			continue
		}

		coeffs := make([]interface{}, len(lane.Curve.Poly))
		for i, c := range lane.Curve.Poly {
			coeffs[i] = c
		}
		m["coefficients"] = coeffs
		m["camera"] = cameraList(lane.Camera)
		if opts.Rectified {
			m["rectified"] = rectifiedList(lane.Curve.Points)
			m["detections"] = rectifiedList(lane.Detection.Points)
		}
		if opts.Trace {
			steps := []interface{}{}
			for _, st := range lane.Detection.Trace {
				steps = append(steps, map[string]interface{}{
					"window":   []interface{}{st.Window.Min.X, st.Window.Min.Y, st.Window.Max.X, st.Window.Max.Y},
					"accepted": st.Accepted,
					"adjust":   st.Adjust,
					"clamped":  st.Clamped,
				})
			}
			m["trace"] = steps
		}
		if lane.Offset != nil {
			o := map[string]interface{}{
				"label":  lane.Offset.Label,
				"camera": cameraList(lane.Offset.Camera),
			}
			if opts.Rectified {
				o["rectified"] = rectifiedList(lane.Offset.Rectified)
			}
			m["offset"] = o
		}
		lanes = append(lanes, m)
	}
	return map[string]interface{}{"lanes": lanes}
}

func cameraList(points []CameraPoint) []interface{} {
	out := make([]interface{}, len(points))
	for i, p := range points {
		out[i] = []interface{}{p.X, p.Y}
	}
	return out
}

func rectifiedList(points []RectifiedPoint) []interface{} {
	out := make([]interface{}, len(points))
	for i, p := range points {
		out[i] = []interface{}{p.X, p.Y}
	}
	return out
}

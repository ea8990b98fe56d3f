package lanefinder

import (
	"context"
	"fmt"
	"image"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/data"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var LaneCameraModel = family.WithModel("lane-camera")

func init() {
	resource.RegisterComponent(camera.API, LaneCameraModel,
		resource.Registration[camera.Camera, *LaneCameraConfig]{
			Constructor: newLaneCamera,
		},
	)
}

const (
	viewOverlay   = "overlay"
	viewRectified = "rectified"
)

type LaneCameraConfig struct {
	Input string `json:"input"`
	// View is "overlay" (camera frame with curves) or "rectified" (top-down
	// mask with scan windows and detections).
	View string `json:"view,omitempty"`
	// Pipeline overrides fields of DefaultPipelineConfig.
	Pipeline map[string]interface{} `json:"pipeline,omitempty"`
}

func (cfg *LaneCameraConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Input == "" {
		return nil, nil, fmt.Errorf("need an input")
	}
	switch cfg.View {
	case "", viewOverlay, viewRectified:
	default:
		return nil, nil, fmt.Errorf("unknown view %q", cfg.View)
	}
	if _, err := pipelineFromAttributes(cfg.Pipeline); err != nil {
		return nil, nil, err
	}
	return []string{cfg.Input}, nil, nil
}

func newLaneCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*LaneCameraConfig](rawConf)
	if err != nil {
		return nil, err
	}

	return NewLaneCamera(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewLaneCamera(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *LaneCameraConfig, logger logging.Logger) (camera.Camera, error) {
	var err error

	lc := &LaneCamera{
		name:   name,
		conf:   conf,
		logger: logger,
	}

	pc, err := pipelineFromAttributes(conf.Pipeline)
	if err != nil {
		return nil, err
	}
	lc.pipeline, err = NewPipeline(pc, logger)
	if err != nil {
		return nil, err
	}

	lc.input, err = camera.FromProvider(deps, conf.Input)
	if err != nil {
		return nil, err
	}

	return lc, nil
}

// LaneCamera shows the lanes found in its input camera's frames.
type LaneCamera struct {
	resource.AlwaysRebuild
	resource.TriviallyCloseable

	name   resource.Name
	conf   *LaneCameraConfig
	logger logging.Logger

	input    camera.Camera
	pipeline *Pipeline
}

func (lc *LaneCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	return camera.GetImageFromGetImages(ctx, nil, lc, extra, nil)
}

func (lc *LaneCamera) Images(ctx context.Context, filterSourceNames []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	ni, rm, err := lc.input.Images(ctx, nil, extra)
	if err != nil {
		return nil, rm, err
	}

	if len(ni) == 0 {
		return nil, rm, fmt.Errorf("no images returned from input camera")
	}

	srcImg, err := ni[0].Image(ctx)
	if err != nil {
		return nil, rm, err
	}

	dst, err := lc.render(ctx, srcImg)
	if err != nil {
		return nil, rm, err
	}

	result, err := camera.NamedImageFromImage(dst, ni[0].SourceName, "", data.Annotations{})
	if err != nil {
		return nil, rm, err
	}
	return []camera.NamedImage{result}, rm, nil
}

func (lc *LaneCamera) render(ctx context.Context, frame image.Image) (image.Image, error) {
	res, err := lc.pipeline.Process(ctx, frame)
	if err != nil {
		return nil, err
	}
	if lc.conf.View == viewRectified {
		return DrawDetections(res), nil
	}
	return DrawOverlay(frame, res), nil
}

func (lc *LaneCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("DoCommand not supported")
}

func (lc *LaneCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	return nil, fmt.Errorf("NextPointCloud not supported")
}

func (lc *LaneCamera) Properties(ctx context.Context) (camera.Properties, error) {
	return camera.Properties{}, nil
}

func (lc *LaneCamera) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

func (lc *LaneCamera) Name() resource.Name {
	return lc.name
}

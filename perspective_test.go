package lanefinder

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func trapezoidConfig() PerspectiveConfig {
	return PerspectiveConfig{
		Width:       320,
		Height:      240,
		Source:      [4]Coord{{100, 100}, {220, 100}, {0, 240}, {320, 240}},
		Destination: [4]Coord{{0, 0}, {320, 0}, {0, 240}, {320, 240}},
		Offset:      20,
	}
}

func identityConfig(offset int) PerspectiveConfig {
	corners := [4]Coord{{0, 0}, {319, 0}, {0, 239}, {319, 239}}
	return PerspectiveConfig{
		Width:       320,
		Height:      240,
		Source:      corners,
		Destination: corners,
		Offset:      offset,
	}
}

func TestPerspectiveCorrespondences(t *testing.T) {
	cfg := trapezoidConfig()
	pm, err := NewPerspectiveMapper(cfg)
	test.That(t, err, test.ShouldBeNil)

	for i, src := range cfg.Source {
		got, err := pm.RectifyCropPoint(CropPoint(src.vec()))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.X, test.ShouldAlmostEqual, cfg.Destination[i].X, 1e-6)
		test.That(t, got.Y, test.ShouldAlmostEqual, cfg.Destination[i].Y, 1e-6)
	}

	back := pm.UnrectifyPoints([]RectifiedPoint{cfg.Destination[0].Rectified(), cfg.Destination[3].Rectified()})
	test.That(t, back[0].X, test.ShouldAlmostEqual, 100, 1e-6)
	test.That(t, back[0].Y, test.ShouldAlmostEqual, 100, 1e-6)
	test.That(t, back[1].X, test.ShouldAlmostEqual, 320, 1e-6)
	test.That(t, back[1].Y, test.ShouldAlmostEqual, 240, 1e-6)
}

func TestPerspectiveRoundTrip(t *testing.T) {
	pm, err := NewPerspectiveMapper(trapezoidConfig())
	test.That(t, err, test.ShouldBeNil)

	// camera rows 60..240 are crop rows 40..220, well below the horizon
	for y := 60.0; y < 260; y += 20 {
		for x := 0.0; x < 320; x += 32 {
			p := CameraPoint{X: x, Y: y}
			r, err := pm.RectifyPoint(p)
			test.That(t, err, test.ShouldBeNil)

			crop := pm.UnrectifyPoints([]RectifiedPoint{r})
			test.That(t, crop[0].Y, test.ShouldAlmostEqual, y-20, 1e-6)

			got := pm.ProjectToCamera([]RectifiedPoint{r})[0]
			test.That(t, got.X, test.ShouldAlmostEqual, x, 1e-6)
			test.That(t, got.Y, test.ShouldAlmostEqual, y, 1e-6)
		}
	}
}

func TestPerspectiveDefaultConfigRoundTrip(t *testing.T) {
	pm, err := NewPerspectiveMapper(DefaultPipelineConfig().Perspective)
	test.That(t, err, test.ShouldBeNil)

	for _, p := range []CameraPoint{{160, 389}, {100, 300}, {250, 200}} {
		r, err := pm.RectifyPoint(p)
		test.That(t, err, test.ShouldBeNil)
		got := pm.ProjectToCamera([]RectifiedPoint{r})[0]
		test.That(t, got.X, test.ShouldAlmostEqual, p.X, 1e-6)
		test.That(t, got.Y, test.ShouldAlmostEqual, p.Y, 1e-6)
	}
}

func TestPerspectiveDegenerate(t *testing.T) {
	cfg := trapezoidConfig()
	cfg.Source = [4]Coord{{0, 0}, {10, 10}, {20, 20}, {0, 100}}
	_, err := NewPerspectiveMapper(cfg)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)

	cfg = trapezoidConfig()
	cfg.Destination[1] = cfg.Destination[0]
	_, err = NewPerspectiveMapper(cfg)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)

	cfg = trapezoidConfig()
	cfg.Width = 0
	cfg.Offset = -1
	_, err = NewPerspectiveMapper(cfg)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
}

func TestRectifyPointOutsideCrop(t *testing.T) {
	pm, err := NewPerspectiveMapper(trapezoidConfig())
	test.That(t, err, test.ShouldBeNil)

	// the crop is columns [0, 320) by camera rows [20, 260)
	for _, p := range []CameraPoint{
		{X: 10, Y: 5},
		{X: 10, Y: 260},
		{X: 10, Y: 400},
		{X: -1, Y: 100},
		{X: 320, Y: 100},
	} {
		_, err = pm.RectifyPoint(p)
		test.That(t, errors.Is(err, ErrBounds), test.ShouldBeTrue)
	}

	for _, p := range []CameraPoint{{X: 0, Y: 20}, {X: 319.5, Y: 259.5}} {
		_, err = pm.RectifyPoint(p)
		test.That(t, err, test.ShouldBeNil)
	}

	test.That(t, pm.Uncrop(pm.Crop(CameraPoint{X: 3, Y: 70})), test.ShouldResemble, CameraPoint{X: 3, Y: 70})
}

func TestRectifyNilImage(t *testing.T) {
	pm, err := NewPerspectiveMapper(identityConfig(10))
	test.That(t, err, test.ShouldBeNil)

	_, err = pm.Rectify((*image.Gray)(nil), true)
	test.That(t, errors.Is(err, ErrBounds), test.ShouldBeTrue)
	_, err = pm.Rectify(nil, false)
	test.That(t, errors.Is(err, ErrBounds), test.ShouldBeTrue)
	_, err = pm.RectifyInverse((*image.Gray)(nil))
	test.That(t, errors.Is(err, ErrBounds), test.ShouldBeTrue)
}

func TestRectifyIdentity(t *testing.T) {
	pm, err := NewPerspectiveMapper(identityConfig(0))
	test.That(t, err, test.ShouldBeNil)

	src := image.NewGray(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		src.SetGray(160, y, color.Gray{255})
	}
	src.SetGray(10, 20, color.Gray{255})

	out, err := pm.Rectify(src, false)
	test.That(t, err, test.ShouldBeNil)
	g, ok := out.(*image.Gray)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, g.Bounds(), test.ShouldResemble, image.Rect(0, 0, 320, 240))
	test.That(t, g.GrayAt(160, 100).Y, test.ShouldEqual, uint8(255))
	test.That(t, g.GrayAt(10, 20).Y, test.ShouldEqual, uint8(255))
	test.That(t, g.GrayAt(11, 20).Y, test.ShouldEqual, uint8(0))

	inv, err := pm.RectifyInverse(g)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inv.(*image.Gray).GrayAt(160, 50).Y, test.ShouldEqual, uint8(255))
}

func TestRectifyWithOffset(t *testing.T) {
	pm, err := NewPerspectiveMapper(identityConfig(10))
	test.That(t, err, test.ShouldBeNil)

	src := image.NewGray(image.Rect(0, 0, 320, 250))
	src.SetGray(5, 15, color.Gray{255})

	out, err := pm.Rectify(src, true)
	test.That(t, err, test.ShouldBeNil)
	g := out.(*image.Gray)
	test.That(t, g.GrayAt(5, 5).Y, test.ShouldEqual, uint8(255))
	test.That(t, g.GrayAt(5, 15).Y, test.ShouldEqual, uint8(0))

	t.Run("colour", func(t *testing.T) {
		rgba := image.NewRGBA(image.Rect(0, 0, 320, 250))
		rgba.Set(5, 15, color.RGBA{255, 0, 0, 255})
		out, err := pm.Rectify(rgba, true)
		test.That(t, err, test.ShouldBeNil)
		r, _, _, _ := out.At(5, 5).RGBA()
		test.That(t, r>>8, test.ShouldEqual, uint32(255))
	})
}

func TestRectifyCropOutsideImage(t *testing.T) {
	pm, err := NewPerspectiveMapper(identityConfig(10))
	test.That(t, err, test.ShouldBeNil)

	_, err = pm.Rectify(image.NewGray(image.Rect(0, 0, 320, 240)), true)
	test.That(t, errors.Is(err, ErrBounds), test.ShouldBeTrue)

	_, err = pm.Rectify(image.NewGray(image.Rect(0, 0, 300, 400)), true)
	test.That(t, errors.Is(err, ErrBounds), test.ShouldBeTrue)

	// without the crop any size is accepted
	_, err = pm.Rectify(image.NewGray(image.Rect(0, 0, 100, 100)), false)
	test.That(t, err, test.ShouldBeNil)
}

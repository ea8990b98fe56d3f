package lanefinder

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestDrawOverlay(t *testing.T) {
	p, err := NewPipeline(straightLaneConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	frame := laneFrame(160)
	res, err := p.Process(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)

	out := DrawOverlay(frame, res)
	test.That(t, out.Bounds(), test.ShouldResemble, frame.Bounds())

	// the fitted lane is drawn in red (hue 0) over the white boundary
	test.That(t, out.RGBAAt(160, 150), test.ShouldResemble, color.RGBA{255, 0, 0, 255})
	// the offset curve sits 40 px to the left
	test.That(t, out.RGBAAt(120, 150), test.ShouldResemble, color.RGBA{255, 0, 0, 255})
	test.That(t, out.RGBAAt(140, 150), test.ShouldResemble, color.RGBA{0, 0, 0, 255})
}

func TestDrawDetections(t *testing.T) {
	p, err := NewPipeline(straightLaneConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	res, err := p.Process(context.Background(), laneFrame(160))
	test.That(t, err, test.ShouldBeNil)

	out := DrawDetections(res)
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 320, 240))
	// window outline at the left edge of the first strip
	test.That(t, out.RGBAAt(150, 233), test.ShouldResemble, color.RGBA{255, 0, 0, 255})

	test.That(t, DrawDetections(FrameResult{}).Bounds().Empty(), test.ShouldBeTrue)
}

func TestDrawLineClips(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	white := color.RGBA{255, 255, 255, 255}

	drawLine(img, image.Pt(-5, 5), image.Pt(15, 5), white)
	for x := 0; x < 10; x++ {
		test.That(t, img.RGBAAt(x, 5), test.ShouldResemble, white)
	}

	// far away points are skipped rather than walked
	drawPolyline(img, []image.Point{{0, 0}, {1 << 30, 0}}, white)
	test.That(t, img.RGBAAt(0, 0), test.ShouldResemble, color.RGBA{})

	drawCircle(img, 0, 0, 1, white)
	test.That(t, img.RGBAAt(0, 0), test.ShouldResemble, white)
	test.That(t, img.RGBAAt(1, 1), test.ShouldResemble, color.RGBA{})
}

func TestLaneColor(t *testing.T) {
	r, g, b, _ := laneColor(0, 3).RGBA()
	test.That(t, r>>8, test.ShouldEqual, uint32(255))
	test.That(t, g>>8, test.ShouldEqual, uint32(0))
	test.That(t, b>>8, test.ShouldEqual, uint32(0))

	r, g, _, _ = laneColor(1, 3).RGBA()
	test.That(t, g>>8, test.ShouldEqual, uint32(255))
	test.That(t, r>>8, test.ShouldEqual, uint32(0))
}

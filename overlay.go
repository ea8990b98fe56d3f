package lanefinder

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// laneColor gives each lane index its own fully saturated hue.
func laneColor(i, n int) color.Color {
	if n < 1 {
		n = 1
	}
	return colorful.Hsv(float64(i)*360/float64(n), 1, 1)
}

// DrawOverlay copies frame and draws every fitted lane (and offset curve) in
// camera space on top, labelled with the lane name.
func DrawOverlay(frame image.Image, res FrameResult) *image.RGBA {
	dst := image.NewRGBA(frame.Bounds())
	draw.Draw(dst, frame.Bounds(), frame, frame.Bounds().Min, draw.Src)

	for i, lane := range res.Lanes {
		c := laneColor(i, len(res.Lanes))
		drawPolyline(dst, cameraPixels(lane.Camera), c)
		if len(lane.Camera) > 0 {
			at := lane.Camera[0].ImagePoint()
			drawString(dst, at.X+4, at.Y-4, lane.Label, c)
		}
		if lane.Offset != nil {
			drawPolyline(dst, cameraPixels(lane.Offset.Camera), c)
			if len(lane.Offset.Camera) > 0 {
				at := lane.Offset.Camera[0].ImagePoint()
				drawString(dst, at.X+4, at.Y-4, lane.Offset.Label, c)
			}
		}
	}
	return dst
}

// DrawDetections draws the rectified mask with every candidate point and the
// scan windows of each lane.
func DrawDetections(res FrameResult) *image.RGBA {
	if res.Rectified == nil {
		return image.NewRGBA(image.Rectangle{})
	}
	b := res.Rectified.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, res.Rectified, b.Min, draw.Src)

	for i, lane := range res.Lanes {
		c := laneColor(i, len(res.Lanes))
		for _, step := range lane.Detection.Trace {
			if step.Accepted {
				drawRect(dst, step.Window, c)
			}
		}
		for _, p := range lane.Detection.Points {
			pt := p.ImagePoint()
			drawCircle(dst, pt.X, pt.Y, 2, c)
		}
		pts := make([]image.Point, len(lane.Curve.Points))
		for j, p := range lane.Curve.Points {
			pts[j] = p.ImagePoint()
		}
		drawPolyline(dst, pts, c)
	}
	return dst
}

func cameraPixels(points []CameraPoint) []image.Point {
	out := make([]image.Point, len(points))
	for i, p := range points {
		out[i] = p.ImagePoint()
	}
	return out
}

func drawString(dst *image.RGBA, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(s)
}

func drawPolyline(img *image.RGBA, pts []image.Point, c color.Color) {
	b := img.Bounds()
	reach := b.Inset(-(b.Dx() + b.Dy()))
	for i := 0; i+1 < len(pts); i++ {
		// points near the horizon project far away; don't walk to them
		if !pts[i].In(reach) || !pts[i+1].In(reach) {
			continue
		}
		drawLine(img, pts[i], pts[i+1], c)
	}
}

// drawLine is Bresenham, clipped to the image.
func drawLine(img *image.RGBA, a, b image.Point, c color.Color) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	for {
		if a.In(img.Bounds()) {
			img.Set(a.X, a.Y, c)
		}
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	drawPolyline(img, []image.Point{
		r.Min,
		{r.Max.X - 1, r.Min.Y},
		{r.Max.X - 1, r.Max.Y - 1},
		{r.Min.X, r.Max.Y - 1},
		r.Min,
	}, c)
}

func drawCircle(img *image.RGBA, cx, cy, radius int, c color.Color) {
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			p := image.Pt(cx+x, cy+y)
			if x*x+y*y <= radius*radius && p.In(img.Bounds()) {
				img.Set(p.X, p.Y, c)
			}
		}
	}
}

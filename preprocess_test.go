package lanefinder

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

// stripeFrame is a dark frame with a bright vertical stripe at columns [x0, x1).
func stripeFrame(width, height, x0, x1 int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{20, 20, 20, 255}
			if x >= x0 && x < x1 {
				c = color.RGBA{230, 230, 230, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestNewPreprocessor(t *testing.T) {
	p, err := NewPreprocessor("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, DefaultEdgeFilter())

	p, err = NewPreprocessor("binary")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, BinaryThreshold{Level: 127})

	_, err = NewPreprocessor("canny")
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
}

func TestBinaryThreshold(t *testing.T) {
	mask, err := BinaryThreshold{Level: 127}.Mask(stripeFrame(40, 10, 20, 24))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mask.Bounds(), test.ShouldResemble, image.Rect(0, 0, 40, 10))
	test.That(t, mask.GrayAt(21, 5).Y, test.ShouldEqual, uint8(255))
	test.That(t, mask.GrayAt(10, 5).Y, test.ShouldEqual, uint8(0))

	_, err = BinaryThreshold{}.Mask(nil)
	test.That(t, errors.Is(err, ErrBounds), test.ShouldBeTrue)
}

func TestEdgeFilterFindsStripeEdges(t *testing.T) {
	mask, err := DefaultEdgeFilter().Mask(stripeFrame(60, 30, 30, 36))
	test.That(t, err, test.ShouldBeNil)

	// both sides of the stripe are edges, the flat areas are not
	test.That(t, mask.GrayAt(29, 15).Y, test.ShouldEqual, uint8(255))
	test.That(t, mask.GrayAt(36, 15).Y, test.ShouldEqual, uint8(255))
	test.That(t, mask.GrayAt(10, 15).Y, test.ShouldEqual, uint8(0))
	test.That(t, mask.GrayAt(50, 15).Y, test.ShouldEqual, uint8(0))
}

func TestEdgeFilterIgnoresHorizontalEdges(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 20; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetGray(x, y, color.Gray{220})
		}
	}
	mask, err := EdgeFilter{EdgeThreshold: 50}.Mask(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mask.GrayAt(20, 19).Y, test.ShouldEqual, uint8(0))
	test.That(t, mask.GrayAt(20, 20).Y, test.ShouldEqual, uint8(0))
}

func TestMakeGrayImageOffsetBounds(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	src.SetGray(5, 6, color.Gray{200})
	sub := src.SubImage(image.Rect(4, 4, 10, 10)).(*image.Gray)

	g := makeGrayImage(sub)
	test.That(t, g.Bounds(), test.ShouldResemble, image.Rect(0, 0, 6, 6))
	test.That(t, g.GrayAt(1, 2).Y, test.ShouldEqual, uint8(200))
}

func TestOtsuThreshold(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range g.Pix {
		if i%2 == 0 {
			g.Pix[i] = 30
		} else {
			g.Pix[i] = 200
		}
	}
	level := otsuThreshold(g)
	test.That(t, level, test.ShouldBeGreaterThanOrEqualTo, uint8(30))
	test.That(t, level, test.ShouldBeLessThan, uint8(200))
}

func TestDilateMask(t *testing.T) {
	m := image.NewGray(image.Rect(0, 0, 5, 5))
	m.SetGray(2, 2, color.Gray{255})
	d := dilateMask(m, 1)
	test.That(t, d.GrayAt(1, 1).Y, test.ShouldEqual, uint8(255))
	test.That(t, d.GrayAt(3, 3).Y, test.ShouldEqual, uint8(255))
	test.That(t, d.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
}

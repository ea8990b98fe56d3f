package lanefinder

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// degenerateEpsilon is the smallest triangle area (in px^2) accepted between
// any three correspondence points.
const degenerateEpsilon = 1e-6

// PerspectiveConfig describes the camera to rectified view mapping.
type PerspectiveConfig struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`

	// Source points are in the cropped camera view, Destination points in the
	// rectified view. Source[i] maps to Destination[i].
	Source      [4]Coord `json:"source" yaml:"source"`
	Destination [4]Coord `json:"destination" yaml:"destination"`

	// Offset is the number of rows skipped from the top of the camera image
	// before rectification.
	Offset int `json:"offset" yaml:"offset"`
}

// Validate checks sizes and that neither quad is degenerate.
func (cfg PerspectiveConfig) Validate() error {
	var err error
	if cfg.Width <= 0 || cfg.Height <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: rectified size %dx%d", ErrConfiguration, cfg.Width, cfg.Height))
	}
	if cfg.Offset < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: negative crop offset %d", ErrConfiguration, cfg.Offset))
	}
	if e := checkQuad("source", cfg.Source); e != nil {
		err = multierr.Append(err, e)
	}
	if e := checkQuad("destination", cfg.Destination); e != nil {
		err = multierr.Append(err, e)
	}
	return err
}

// checkQuad rejects duplicate points and collinear triples.
func checkQuad(name string, quad [4]Coord) error {
	for i := range 4 {
		for j := i + 1; j < 4; j++ {
			if quad[i].vec().Sub(quad[j].vec()).Norm() < degenerateEpsilon {
				return fmt.Errorf("%w: %s points %d and %d are duplicates", ErrConfiguration, name, i, j)
			}
			for k := j + 1; k < 4; k++ {
				a, b, c := quad[i].vec(), quad[j].vec(), quad[k].vec()
				if math.Abs(b.Sub(a).Cross(c.Sub(a))) < degenerateEpsilon {
					return fmt.Errorf("%w: %s points %d, %d and %d are collinear", ErrConfiguration, name, i, j, k)
				}
			}
		}
	}
	return nil
}

// homography is a row-major 3x3 projective matrix.
type homography [9]float64

func (h homography) apply(p r2.Point) (r2.Point, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if w == 0 {
		return r2.Point{}, false
	}
	return r2.Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// solveHomography computes H mapping src[i] -> dst[i], with h22 fixed to 1.
func solveHomography(src, dst [4]Coord) (homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := range 4 {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i
		// x' = (h00 X + h01 Y + h02)/(h20 X + h21 Y + 1)
		a.SetRow(r, []float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x})
		b.SetVec(r, x)
		// y' = (h10 X + h11 Y + h12)/(h20 X + h21 Y + 1)
		a.SetRow(r+1, []float64{0, 0, 0, X, Y, 1, -X * y, -Y * y})
		b.SetVec(r+1, y)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return homography{}, fmt.Errorf("%w: cannot solve perspective transform: %v", ErrConfiguration, err)
	}

	var out homography
	for i := range 8 {
		out[i] = h.AtVec(i)
	}
	out[8] = 1
	return out, nil
}

// PerspectiveMapper maps between the camera view and the rectified view.
// It is immutable after construction and safe for concurrent use.
type PerspectiveMapper struct {
	cfg     PerspectiveConfig
	forward homography // camera crop -> rectified
	inverse homography // rectified -> camera crop
}

// NewPerspectiveMapper derives the forward and inverse homographies from cfg.
func NewPerspectiveMapper(cfg PerspectiveConfig) (*PerspectiveMapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	forward, err := solveHomography(cfg.Source, cfg.Destination)
	if err != nil {
		return nil, err
	}
	inverse, err := solveHomography(cfg.Destination, cfg.Source)
	if err != nil {
		return nil, err
	}

	return &PerspectiveMapper{cfg: cfg, forward: forward, inverse: inverse}, nil
}

// Config returns the configuration the mapper was built from.
func (pm *PerspectiveMapper) Config() PerspectiveConfig {
	return pm.cfg
}

// Offset is the vertical crop offset in camera pixels.
func (pm *PerspectiveMapper) Offset() int {
	return pm.cfg.Offset
}

// Size is the rectified output size.
func (pm *PerspectiveMapper) Size() image.Point {
	return image.Pt(pm.cfg.Width, pm.cfg.Height)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// crop cuts rows [offset, offset+height) and columns [0, width) out of img.
func (pm *PerspectiveMapper) crop(img image.Image) (image.Image, error) {
	b := img.Bounds()
	r := image.Rect(b.Min.X, b.Min.Y+pm.cfg.Offset, b.Min.X+pm.cfg.Width, b.Min.Y+pm.cfg.Offset+pm.cfg.Height)
	if !r.In(b) {
		return nil, fmt.Errorf("%w: crop %v outside image %v", ErrBounds, r, b)
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r), nil
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := range r.Dy() {
		for x := range r.Dx() {
			out.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out, nil
}

// Rectify warps img into the rectified view. With useOffset the image is
// first cropped to rows [offset, offset+height).
func (pm *PerspectiveMapper) Rectify(img image.Image, useOffset bool) (image.Image, error) {
	if isNilImage(img) {
		return nil, fmt.Errorf("%w: nil image", ErrBounds)
	}
	src := img
	if useOffset {
		var err error
		src, err = pm.crop(img)
		if err != nil {
			return nil, err
		}
	}
	// every destination pixel is pulled back through the inverse mapping
	return warp(src, pm.inverse, pm.cfg.Width, pm.cfg.Height), nil
}

// RectifyInverse warps a rectified image back into the (cropped) camera view.
// The crop offset is not re-applied.
func (pm *PerspectiveMapper) RectifyInverse(img image.Image) (image.Image, error) {
	if isNilImage(img) {
		return nil, fmt.Errorf("%w: nil image", ErrBounds)
	}
	return warp(img, pm.forward, pm.cfg.Width, pm.cfg.Height), nil
}

// RectifyPoint maps a full-frame camera point into the rectified view.
// Points outside the crop, columns [0, width) by rows
// [offset, offset+height), are rejected.
func (pm *PerspectiveMapper) RectifyPoint(p CameraPoint) (RectifiedPoint, error) {
	c := pm.Crop(p)
	if c.X < 0 || c.Y < 0 || c.X >= float64(pm.cfg.Width) || c.Y >= float64(pm.cfg.Height) {
		return RectifiedPoint{}, fmt.Errorf("%w: point %v is outside the %dx%d crop at offset %d",
			ErrBounds, r2.Point(p), pm.cfg.Width, pm.cfg.Height, pm.cfg.Offset)
	}
	return pm.RectifyCropPoint(c)
}

// RectifyCropPoint maps a crop-relative camera point into the rectified view.
// It does no bounds check, so quad corners on the crop edge can be mapped.
func (pm *PerspectiveMapper) RectifyCropPoint(p CropPoint) (RectifiedPoint, error) {
	out, ok := pm.forward.apply(r2.Point(p))
	if !ok {
		return RectifiedPoint{}, fmt.Errorf("%w: point %v maps to infinity", ErrBounds, r2.Point(p))
	}
	return RectifiedPoint(out), nil
}

// UnrectifyPoints maps rectified points back into the camera view without
// re-adding the crop offset. Points on the horizon line map to NaN.
func (pm *PerspectiveMapper) UnrectifyPoints(points []RectifiedPoint) []CropPoint {
	out := make([]CropPoint, len(points))
	for i, p := range points {
		q, ok := pm.inverse.apply(r2.Point(p))
		if !ok {
			q = r2.Point{X: math.NaN(), Y: math.NaN()}
		}
		out[i] = CropPoint(q)
	}
	return out
}

// Crop removes the crop offset from a full-frame point.
func (pm *PerspectiveMapper) Crop(p CameraPoint) CropPoint {
	return CropPoint{X: p.X, Y: p.Y - float64(pm.cfg.Offset)}
}

// Uncrop re-adds the crop offset.
func (pm *PerspectiveMapper) Uncrop(p CropPoint) CameraPoint {
	return CameraPoint{X: p.X, Y: p.Y + float64(pm.cfg.Offset)}
}

// ProjectToCamera maps rectified points all the way into the full camera frame.
func (pm *PerspectiveMapper) ProjectToCamera(points []RectifiedPoint) []CameraPoint {
	crop := pm.UnrectifyPoints(points)
	out := make([]CameraPoint, len(crop))
	for i, p := range crop {
		out[i] = pm.Uncrop(p)
	}
	return out
}

// warp builds a width x height image where pixel (u, v) is sampled from src at
// back(u, v). Gray sources are sampled bilinearly, others nearest-neighbour.
// Samples outside src are zero.
func warp(src image.Image, back homography, width, height int) image.Image {
	if g, ok := src.(*image.Gray); ok {
		dst := image.NewGray(image.Rect(0, 0, width, height))
		for v := range height {
			for u := range width {
				s, ok := back.apply(r2.Point{X: float64(u), Y: float64(v)})
				if !ok {
					continue
				}
				dst.Pix[v*dst.Stride+u] = sampleGray(g, s.X, s.Y)
			}
		}
		return dst
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for v := range height {
		for u := range width {
			s, ok := back.apply(r2.Point{X: float64(u), Y: float64(v)})
			if !ok {
				continue
			}
			x, y := int(math.Round(s.X)), int(math.Round(s.Y))
			if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
				dst.Set(u, v, color.Black)
				continue
			}
			dst.Set(u, v, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// isNilImage also catches typed nils such as (*image.Gray)(nil).
func isNilImage(img image.Image) bool {
	switch v := img.(type) {
	case nil:
		return true
	case *image.Gray:
		return v == nil
	case *image.RGBA:
		return v == nil
	}
	return false
}

// sampleGray interpolates g at (x, y) relative to its bounds origin.
func sampleGray(g *image.Gray, x, y float64) uint8 {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0
	}
	b := g.Bounds()
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	if x0 < -1 || y0 < -1 || x0 >= b.Dx() || y0 >= b.Dy() {
		return 0
	}
	fx, fy := x-float64(x0), y-float64(y0)

	at := func(px, py int) float64 {
		if px < 0 || py < 0 || px >= b.Dx() || py >= b.Dy() {
			return 0
		}
		return float64(g.GrayAt(b.Min.X+px, b.Min.Y+py).Y)
	}

	v := at(x0, y0)*(1-fx)*(1-fy) +
		at(x0+1, y0)*fx*(1-fy) +
		at(x0, y0+1)*(1-fx)*fy +
		at(x0+1, y0+1)*fx*fy
	return uint8(math.Min(255, math.Round(v)))
}

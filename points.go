package lanefinder

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// RectifiedPoint is a pixel position in the top-down rectified view.
type RectifiedPoint r2.Point

// CropPoint is a camera-view position relative to the rectification crop.
// The vertical crop offset has not been added back; see PerspectiveMapper.Uncrop.
type CropPoint r2.Point

// CameraPoint is a position in the full camera frame.
type CameraPoint r2.Point

// Coord is a plain x/y pair used in configuration files.
type Coord struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (c Coord) vec() r2.Point {
	return r2.Point{X: c.X, Y: c.Y}
}

// Rectified interprets the coordinate as a rectified-space point.
func (c Coord) Rectified() RectifiedPoint {
	return RectifiedPoint(c.vec())
}

// ImagePoint rounds the point to the nearest pixel.
func (p CameraPoint) ImagePoint() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// ImagePoint rounds the point to the nearest pixel.
func (p RectifiedPoint) ImagePoint() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

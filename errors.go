package lanefinder

import "errors"

var (
	// ErrConfiguration marks invalid construction parameters: degenerate
	// correspondences, empty scan regions and the like.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInsufficientData marks fits that do not have enough points.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrBounds marks scan windows or crops that leave the image.
	ErrBounds = errors.New("out of bounds")
)

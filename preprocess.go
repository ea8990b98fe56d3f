package lanefinder

import (
	"fmt"
	"image"
	"math"
)

// Preprocessor turns a camera frame into a single-channel binary mask where
// lane boundary pixels are 255.
type Preprocessor interface {
	Mask(img image.Image) (*image.Gray, error)
}

// NewPreprocessor returns the preprocessor registered under name. The empty
// name selects the edge filter.
func NewPreprocessor(name string) (Preprocessor, error) {
	switch name {
	case "", "edges":
		return DefaultEdgeFilter(), nil
	case "binary":
		return BinaryThreshold{Level: 127}, nil
	}
	return nil, fmt.Errorf("%w: unknown preprocessor %q", ErrConfiguration, name)
}

// BinaryThreshold is for frames that are already masks: pixels brighter than
// Level become 255, everything else 0.
type BinaryThreshold struct {
	Level uint8
}

// Mask implements Preprocessor.
func (bt BinaryThreshold) Mask(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrBounds)
	}
	gray := makeGrayImage(img)
	for i, v := range gray.Pix {
		if v > bt.Level {
			gray.Pix[i] = 255
		} else {
			gray.Pix[i] = 0
		}
	}
	return gray, nil
}

// EdgeFilter keeps pixels that are both strong edges and strong horizontal
// gradients, so near-vertical lane markings survive while texture does not.
type EdgeFilter struct {
	// EdgeThreshold is the minimum Sobel magnitude of an edge pixel.
	EdgeThreshold int
	// DilateRadius grows the final mask to close small gaps.
	DilateRadius int
}

// DefaultEdgeFilter returns the filter used when none is configured.
func DefaultEdgeFilter() EdgeFilter {
	return EdgeFilter{EdgeThreshold: 50, DilateRadius: 1}
}

// Mask implements Preprocessor.
func (ef EdgeFilter) Mask(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrBounds)
	}
	gray := makeGrayImage(img)
	width, height := gray.Rect.Dx(), gray.Rect.Dy()

	magnitude, gx := sobelEdgeDetection(gray, width, height)
	level := otsuThreshold(gx)

	mask := image.NewGray(image.Rect(0, 0, width, height))
	for i := range mask.Pix {
		if int(magnitude.Pix[i]) > ef.EdgeThreshold && gx.Pix[i] > level {
			mask.Pix[i] = 255
		}
	}
	if ef.DilateRadius > 0 {
		mask = dilateMask(mask, ef.DilateRadius)
	}
	return mask, nil
}

// makeGrayImage converts img to a zero-origin gray image.
func makeGrayImage(img image.Image) *image.Gray {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	gray := image.NewGray(image.Rect(0, 0, width, height))
	if g, ok := img.(*image.Gray); ok {
		for y := range height {
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+width], g.Pix[g.PixOffset(bounds.Min.X, bounds.Min.Y+y):])
		}
		return gray
	}

	for y := range height {
		for x := range width {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray.Pix[y*gray.Stride+x] = uint8((int(r>>8) + int(g>>8) + int(b>>8)) / 3)
		}
	}
	return gray
}

// sobelEdgeDetection returns the Sobel gradient magnitude and the absolute
// horizontal gradient, both clipped to 255. Border pixels are zero.
func sobelEdgeDetection(gray *image.Gray, width, height int) (*image.Gray, *image.Gray) {
	magnitude := image.NewGray(image.Rect(0, 0, width, height))
	horizontal := image.NewGray(image.Rect(0, 0, width, height))
	at := func(x, y int) int {
		return int(gray.Pix[y*gray.Stride+x])
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			// Sobel X kernel
			gx := -at(x-1, y-1) + at(x+1, y-1) +
				-2*at(x-1, y) + 2*at(x+1, y) +
				-at(x-1, y+1) + at(x+1, y+1)

			// Sobel Y kernel
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)

			mag := min(int(math.Sqrt(float64(gx*gx+gy*gy))), 255)
			magnitude.Pix[y*magnitude.Stride+x] = uint8(mag)
			horizontal.Pix[y*horizontal.Stride+x] = uint8(min(abs(gx), 255))
		}
	}

	return magnitude, horizontal
}

// otsuThreshold picks the level that maximises between-class variance.
func otsuThreshold(g *image.Gray) uint8 {
	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}
	total := len(g.Pix)
	if total == 0 {
		return 0
	}

	sum := 0.0
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, best float64
	var weightB int
	level := uint8(0)
	for i, c := range hist {
		weightB += c
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(i * c)
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			level = uint8(i)
		}
	}
	return level
}

func dilateMask(mask *image.Gray, radius int) *image.Gray {
	width, height := mask.Rect.Dx(), mask.Rect.Dy()
	result := image.NewGray(mask.Rect)

	for y := range height {
		for x := range width {
			anySet := false
			for dy := -radius; dy <= radius && !anySet; dy++ {
				for dx := -radius; dx <= radius && !anySet; dx++ {
					px, py := x+dx, y+dy
					if px < 0 || py < 0 || px >= width || py >= height {
						continue
					}
					if mask.Pix[py*mask.Stride+px] != 0 {
						anySet = true
					}
				}
			}
			if anySet {
				result.Pix[y*result.Stride+x] = 255
			}
		}
	}

	return result
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

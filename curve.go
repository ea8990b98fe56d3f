package lanefinder

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Polynomial holds coefficients, highest degree first.
type Polynomial []float64

// Degree of the polynomial.
func (p Polynomial) Degree() int {
	return len(p) - 1
}

// Eval evaluates the polynomial at t.
func (p Polynomial) Eval(t float64) float64 {
	v := 0.0
	for _, c := range p {
		v = v*t + c
	}
	return v
}

// FittedCurve is a lane boundary x = f(y) in rectified space, plus its
// resampled points. It is not modified after Fit returns it.
type FittedCurve struct {
	Poly   Polynomial
	Points []RectifiedPoint
}

// CurveFitter fits x = f(y) polynomials to candidate points.
type CurveFitter struct {
	maxDegree int
}

// NewCurveFitter builds a fitter using polynomials up to maxDegree.
func NewCurveFitter(maxDegree int) (*CurveFitter, error) {
	if maxDegree < 0 {
		return nil, fmt.Errorf("%w: polynomial degree %d is negative", ErrConfiguration, maxDegree)
	}
	return &CurveFitter{maxDegree: maxDegree}, nil
}

// MaxDegree is the configured maximum polynomial degree.
func (cf *CurveFitter) MaxDegree() int {
	return cf.maxDegree
}

// Fit fits points with y as the independent variable and resamples the result
// at count evenly spaced y values from start to stop inclusive.
//
// Without selectBestDegree the configured maximum degree is used. With it,
// degrees 0 up to (not including) the maximum are tried and the one whose
// residual y - f(x) has the smallest spread wins.
func (cf *CurveFitter) Fit(points []RectifiedPoint, start, stop float64, count int, selectBestDegree bool) (FittedCurve, error) {
	if len(points) < 2 {
		return FittedCurve{}, fmt.Errorf("%w: need at least 2 points to fit, got %d", ErrInsufficientData, len(points))
	}
	if count < 1 {
		return FittedCurve{}, fmt.Errorf("%w: resample count %d must be positive", ErrConfiguration, count)
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}

	degree := cf.maxDegree
	if selectBestDegree {
		if d, ok := cf.bestDegree(xs, ys); ok {
			degree = d
		}
	}

	poly, err := fitPolynomial(ys, xs, degree)
	if err != nil {
		return FittedCurve{}, err
	}

	samples := make([]float64, count)
	if count == 1 {
		samples[0] = start
	} else {
		floats.Span(samples, start, stop)
	}

	out := make([]RectifiedPoint, count)
	for i, y := range samples {
		out[i] = RectifiedPoint{X: poly.Eval(y), Y: y}
	}
	return FittedCurve{Poly: poly, Points: out}, nil
}

// bestDegree scores each candidate degree by the population standard deviation
// of y - f(x), i.e. y against the model evaluated at x, not the x residual.
func (cf *CurveFitter) bestDegree(xs, ys []float64) (int, bool) {
	best, bestSpread := -1, math.Inf(1)
	residuals := make([]float64, len(ys))
	for d := 0; d < cf.maxDegree; d++ {
		if len(ys) < d+1 {
			continue
		}
		poly, err := fitPolynomial(ys, xs, d)
		if err != nil {
			continue
		}
		for i := range ys {
			residuals[i] = ys[i] - poly.Eval(xs[i])
		}
		_, spread := stat.PopMeanStdDev(residuals, nil)
		if math.IsNaN(spread) {
			continue
		}
		if spread < bestSpread {
			best, bestSpread = d, spread
		}
	}
	return best, best >= 0
}

// fitPolynomial solves the least squares Vandermonde system for v = f(t).
func fitPolynomial(t, v []float64, degree int) (Polynomial, error) {
	n := len(t)
	if n < degree+1 {
		return nil, fmt.Errorf("%w: degree %d needs %d points, got %d", ErrInsufficientData, degree, degree+1, n)
	}

	a := mat.NewDense(n, degree+1, nil)
	for i, ti := range t {
		p := 1.0
		for j := degree; j >= 0; j-- {
			a.Set(i, j, p)
			p *= ti
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), v...))

	var c mat.VecDense
	if err := c.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("%w: degree %d fit is degenerate: %v", ErrInsufficientData, degree, err)
	}

	poly := make(Polynomial, degree+1)
	for i := range poly {
		poly[i] = c.AtVec(i)
	}
	return poly, nil
}

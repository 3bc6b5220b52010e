package anomaly

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Trend is an ordinary least squares fit of values against their index.
type Trend struct {
	Slope     float64
	Intercept float64
	PValue    float64
	N         int
}

// LinearTrend regresses y on 0..n-1 and returns a two-sided p-value for the
// slope. At least three points are required.
func LinearTrend(y []float64) (Trend, error) {
	n := len(y)
	if n < 3 {
		return Trend{}, ErrInsufficientData
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)

	xMean := stat.Mean(x, nil)
	var sxx, sse, syy float64
	yMean := stat.Mean(y, nil)
	for i := range y {
		dx := x[i] - xMean
		sxx += dx * dx
		r := y[i] - (alpha + beta*x[i])
		sse += r * r
		dy := y[i] - yMean
		syy += dy * dy
	}

	t := Trend{Slope: beta, Intercept: alpha, N: n, PValue: 1}
	if syy == 0 {
		return t, nil
	}

	se := math.Sqrt(sse / float64(n-2) / sxx)
	if se == 0 {
		t.PValue = 0
		return t, nil
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	t.PValue = 2 * (1 - dist.CDF(math.Abs(beta/se)))
	return t, nil
}

// Mean is the arithmetic mean; it is NaN for empty input.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

// CoefficientOfVariation is the sample standard deviation over the mean.
// It is NaN when fewer than two values are given or the mean is zero.
func CoefficientOfVariation(x []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	mean, std := stat.MeanStdDev(x, nil)
	if mean == 0 {
		return math.NaN()
	}
	return std / mean
}

// RollingVariance returns the sample variance of each trailing window.
// Positions before the first full window are NaN.
func RollingVariance(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		if window < 2 || i+1 < window {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.Variance(x[i+1-window:i+1], nil)
	}
	return out
}

// ImbalancePercent is 100 * (max - min) / max over the given values.
// It returns 0 when the maximum is not positive.
func ImbalancePercent(values ...float64) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi <= 0 {
		return 0
	}
	return 100 * (hi - lo) / hi
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

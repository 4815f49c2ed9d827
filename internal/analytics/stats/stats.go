// Package stats provides the statistics primitives shared by the threshold optimizer,
// the pattern analyzer and the accuracy engine.
//
// Every function is pure and total: empty or degenerate input yields a neutral value
// (usually 0) instead of NaN or a panic.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MADScale converts a median absolute deviation into the modified z-score scale.
const MADScale = 0.6745

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// StandardDeviation returns the population standard deviation of values around mean.
func StandardDeviation(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// Variance returns the population variance.
func Variance(values []float64) float64 {
	sd := StandardDeviation(values, Mean(values))
	return sd * sd
}

// Sorted returns an ascending copy of values.
func Sorted(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// Median returns the middle of an ascending slice: the exact middle element for odd
// lengths, the average of the two middle elements for even lengths.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Percentile linearly interpolates between adjacent order statistics of an ascending slice
// at rank p·(n−1). p is clamped to [0, 1].
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 || math.IsNaN(p) {
		return sorted[0]
	}
	p = math.Max(0, math.Min(1, p))

	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Quartiles returns Q1 and Q3 of an ascending slice.
func Quartiles(sorted []float64) (q1, q3 float64) {
	return Percentile(sorted, 0.25), Percentile(sorted, 0.75)
}

// MedianAbsoluteDeviation returns the median of |x − median(values)|.
func MedianAbsoluteDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	med := Median(Sorted(values))
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	sort.Float64s(deviations)
	return Median(deviations)
}

// PearsonCorrelation returns the correlation coefficient of x and y. It is 0 when the
// lengths differ, fewer than two pairs exist, or either series is constant.
func PearsonCorrelation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	if Variance(x) == 0 || Variance(y) == 0 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	// Guard against rounding pushing |r| past 1.
	return math.Max(-1, math.Min(1, r))
}

// LinearRegressionSlope returns the ordinary least squares slope of y on x, 0 when the
// lengths differ or x is constant.
func LinearRegressionSlope(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	if Variance(x) == 0 {
		return 0
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0
	}
	return beta
}

// IndexSlope regresses values on their index 0..n−1.
func IndexSlope(values []float64) float64 {
	x := make([]float64, len(values))
	for i := range x {
		x[i] = float64(i)
	}
	return LinearRegressionSlope(x, values)
}

// Autocorrelation returns the sample autocorrelation at the given lag, 0 when the lag is
// out of range or the series is constant.
func Autocorrelation(values []float64, lag int) float64 {
	n := len(values)
	if lag < 0 || lag >= n {
		return 0
	}
	mean := Mean(values)

	var denom float64
	for _, v := range values {
		denom += (v - mean) * (v - mean)
	}
	if denom == 0 {
		return 0
	}

	var num float64
	for i := 0; i < n-lag; i++ {
		num += (values[i] - mean) * (values[i+lag] - mean)
	}
	return num / denom
}

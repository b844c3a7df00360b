package growth

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// madToSigma converts a median absolute deviation to a normal-equivalent
// standard deviation
const madToSigma = 1.4826

// median returns the median of values. Returns NaN for an empty slice.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

// trimmedMean computes a symmetric trimmed mean, dropping floor(n*frac)
// values from each tail. When two or fewer values survive trimming, the
// median of the untrimmed data is used instead (robust for tiny bins).
func trimmedMean(values []float64, frac float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	trimN := int(float64(n) * frac)
	if n-2*trimN <= 2 {
		return median(values)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Mean(sorted[trimN:n-trimN], nil)
}

// mad returns the median absolute deviation around the median
func mad(values []float64) float64 {
	m := median(values)
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - m)
	}
	return median(devs)
}

// percentile computes the p-th percentile (0-100) by linear interpolation at
// rank p/100*(n-1). This is numpy's default convention, which the tail-start
// and clip-bound constants were tuned against; gonum's Quantile interpolates
// at a different rank and drifts slightly off those constants.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	frac := rank - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

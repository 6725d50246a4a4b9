package gv

import "math"

// welford maintains running statistics for mean and variance using Welford's
// algorithm. It stays numerically stable over the millions of spectrogram
// values a full validation pass produces.
type welford struct {
	count int64
	mean  float64
	m2    float64
}

func (w *welford) Add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

func (w *welford) Count() int64 {
	return w.count
}

// Mean returns the current running mean, or 0 if no values have been added.
func (w *welford) Mean() float64 {
	return w.mean
}

// SampleVariance returns the sample variance (M2/(n-1)). Returns 0 if fewer
// than 2 values have been added.
func (w *welford) SampleVariance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count-1)
}

func (w *welford) SampleStandardDeviation() float64 {
	return math.Sqrt(w.SampleVariance())
}

// Package scoring computes how closely a contribution tracks the workspace's
// reference strategy.
package scoring

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different lengths are
// compared. Callers should treat it as a programming error.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// A zero-magnitude vector has no direction; the similarity is 0 in that case.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, aSq, bSq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		aSq += x * x
		bSq += y * y
	}
	if aSq == 0 || bSq == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(aSq) * math.Sqrt(bSq))
	// Float error can push |sim| a hair past 1 for parallel vectors.
	return clamp(sim, -1, 1), nil
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round2 rounds v to two decimal places. Use it only where a value leaves the
// system (storage of display fields, API responses), never inside a running fold.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

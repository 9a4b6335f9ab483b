package facematch

import "math"

// normTolerance is how far a squared norm may drift from 1 and still count as normalized.
const normTolerance = 1e-4

// NormalizeVector returns an L2-normalized copy of v.
// A zero or empty vector is returned unchanged (as a copy).
func NormalizeVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}

	norm := math.Sqrt(sum)
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}

// IsNormalized reports whether v has unit length within tolerance.
func IsNormalized(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Abs(sum-1) <= normTolerance
}

// EnsureNormalized returns v untouched when it already has unit length, otherwise a normalized copy.
func EnsureNormalized(v []float32) []float32 {
	if IsNormalized(v) {
		return v
	}
	return NormalizeVector(v)
}

// Dot returns the dot product of a and b, or 0 when the lengths differ.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineSimilarity is the dot product of two pre-normalized vectors, clamped to [-1, 1].
func CosineSimilarity(a, b []float32) float64 {
	s := Dot(a, b)
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

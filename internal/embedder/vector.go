package embedder

import (
	"math"

	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

const unitTolerance = 1e-6

// Normalize returns v scaled to unit L2 norm. A zero vector is returned
// unchanged, and a vector already within 1e-6 of unit length is copied as
// is, so Normalize(Normalize(v)) equals Normalize(v) exactly.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.Abs(norm-1) <= unitTolerance {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Validate rejects vectors of the wrong dimension or with NaN or infinite
// components. A dimension of zero or less skips the length check.
func Validate(v []float32, dimension int) error {
	if dimension > 0 && len(v) != dimension {
		return apperrors.ValidationFailure("embedding has dimension %d, want %d", len(v), dimension)
	}
	if len(v) == 0 {
		return apperrors.ValidationFailure("embedding is empty")
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return apperrors.ValidationFailure("embedding component %d is %v", i, x)
		}
	}
	return nil
}

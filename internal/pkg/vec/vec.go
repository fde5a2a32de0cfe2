// Package vec holds the small amount of embedding math the enrollment and
// verification flows need: cosine similarity, averaging and validation.
package vec

import (
	"fmt"
	"math"
)

// Validate checks that an embedding is usable as biometric evidence:
// non-empty, every component finite, and not the zero vector.
func Validate(v []float64) error {
	if len(v) == 0 {
		return fmt.Errorf("empty embedding")
	}
	norm := 0.0
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("embedding component %d is not finite", i)
		}
		norm += x * x
	}
	if norm == 0 {
		return fmt.Errorf("zero embedding")
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, clamped to [0, 1].
// Mismatched lengths or zero vectors yield 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Mean averages the given embeddings component-wise. All inputs must share
// one length.
func Mean(vs [][]float64) ([]float64, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("no embeddings to average")
	}
	dim := len(vs[0])
	out := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding dimension mismatch: %d != %d", len(v), dim)
		}
		for i, x := range v {
			out[i] += x
		}
	}
	n := float64(len(vs))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// Normalize scales v to unit length in place and returns it.
// The zero vector is returned unchanged.
func Normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

// Package vector holds the embedding math used by enrollment and recognition.
package vector

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrDimensionMismatch is returned when vectors of different length are combined.
var ErrDimensionMismatch = errors.New("embedding dimensions differ")

// CosineSimilarity computes the cosine similarity between two embedding vectors.
// Returns a value between -1 and 1, where 1 means identical.
// Mismatched, empty, or zero vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := floats.Dot(a, b) / (normA * normB)
	// Clamp to [-1, 1] to handle floating point errors
	return math.Max(-1, math.Min(1, similarity))
}

// Mean returns the element-wise mean of the given vectors.
func Mean(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, errors.New("no vectors to average")
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, errors.New("empty vector")
	}

	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		floats.Add(sum, v)
	}
	floats.Scale(1/float64(len(vectors)), sum)
	return sum, nil
}

// FromFloat32 widens a float32 embedding.
func FromFloat32(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// ToFloat32 narrows an embedding for storage backends that keep float32 vectors.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

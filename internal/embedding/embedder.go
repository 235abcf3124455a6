// Package embedding turns text into vectors via an OpenAI-compatible
// embeddings endpoint, with an optional Redis cache in front.
package embedding

import (
	"context"
	"math"
)

// Embedder produces a vector for a piece of text. Implementations must
// return vectors of exactly Dimensions() length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// Normalize scales v to unit length in place and returns it. Zero vectors
// are returned unchanged so similarity against them stays zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Dot returns the inner product of two equal-length vectors. For unit
// vectors this equals cosine similarity.
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

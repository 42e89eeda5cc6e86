// Package embedding computes text embeddings for semantic chunking and
// retrieval. The local provider works offline; the OpenAI provider
// calls the hosted embeddings API.
package embedding

import (
	"context"
	"math"
)

// Provider turns texts into fixed-dimension vectors. Implementations
// must return one vector per input, in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Cosine returns the cosine similarity of two vectors. Mismatched or
// zero-length vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const localDims = 384

// Local is a deterministic offline embedder using hashed token
// features. It captures token overlap, not meaning, which is enough
// for grouping near-identical decoded frames and for tests; for real
// semantic retrieval configure the OpenAI provider.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (Local) Dimensions() int { return localDims }

func (l Local) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = l.embedOne(t)
	}
	return out, nil
}

func (Local) embedOne(text string) []float32 {
	vec := make([]float32, localDims)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % localDims)
		// One hash bit picks the sign so collisions partially cancel.
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var n float64
	for _, v := range vec {
		n += float64(v) * float64(v)
	}
	if n > 0 {
		inv := float32(1 / math.Sqrt(n))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func tokenize(text string) []string {
	text = norm.NFC.String(strings.ToLower(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

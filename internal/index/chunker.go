package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/capclaw/internal/embedding"
)

// Chunk is a group of adjacent frames whose decoded text embeds
// similarly. FrameFirst/FrameLast are 1-based frame ordinals.
type Chunk struct {
	Seq        int
	Text       string
	FrameFirst int
	FrameLast  int
	Vector     []float32
}

// Chunker groups adjacent source units into chunks by embedding
// distance. A split happens wherever the distance between neighboring
// units exceeds the configured percentile of all adjacent distances.
type Chunker struct {
	embedder   Embedder
	percentile float64
}

// Embedder is the slice of embedding.Provider the chunker needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewChunker builds a chunker. percentile is the breakpoint threshold
// (95 reproduces the common semantic-chunking default).
func NewChunker(embedder Embedder, percentile float64) *Chunker {
	if percentile <= 0 || percentile > 100 {
		percentile = 95
	}
	return &Chunker{embedder: embedder, percentile: percentile}
}

// Chunk splits units into semantic chunks. Units must be in frame
// order; at least one unit is required.
func (c *Chunker) Chunk(ctx context.Context, units []string) ([]Chunk, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units to chunk")
	}

	vecs, err := c.embedder.Embed(ctx, units)
	if err != nil {
		return nil, fmt.Errorf("embed units: %w", err)
	}
	if len(vecs) != len(units) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d units", len(vecs), len(units))
	}

	breaks := c.breakpoints(vecs)

	var chunks []Chunk
	start := 0
	flush := func(end int) {
		texts := units[start : end+1]
		chunks = append(chunks, Chunk{
			Seq:        len(chunks),
			Text:       strings.Join(texts, "\n\n"),
			FrameFirst: start + 1,
			FrameLast:  end + 1,
		})
		start = end + 1
	}
	for i := 0; i < len(units)-1; i++ {
		if breaks[i] {
			flush(i)
		}
	}
	flush(len(units) - 1)

	chunkTexts := make([]string, len(chunks))
	for i, ch := range chunks {
		chunkTexts[i] = ch.Text
	}
	chunkVecs, err := c.embedder.Embed(ctx, chunkTexts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Vector = chunkVecs[i]
	}
	return chunks, nil
}

// breakpoints returns, for each adjacent pair, whether to split after
// the left unit.
func (c *Chunker) breakpoints(vecs [][]float32) []bool {
	n := len(vecs)
	breaks := make([]bool, max(0, n-1))
	if n < 2 {
		return breaks
	}

	dists := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		dists[i] = 1 - embedding.Cosine(vecs[i], vecs[i+1])
	}

	sorted := append([]float64(nil), dists...)
	sort.Float64s(sorted)
	threshold := percentile(sorted, c.percentile)

	for i, d := range dists {
		if d > threshold {
			breaks[i] = true
		}
	}
	return breaks
}

// percentile computes the p-th percentile of sorted values with linear
// interpolation between ranks.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

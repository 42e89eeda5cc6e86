package embedding

import (
	"context"
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps a provider with an LRU vector cache. Decoded captures
// repeat near-identical frames, so indexing the same session twice or
// asking repeated questions skips most provider calls.
type Cached struct {
	inner Provider
	cache *lru.Cache[[32]byte, []float32]
}

// NewCached wraps inner with a cache of the given size.
func NewCached(inner Provider, size int) (*Cached, error) {
	c, err := lru.New[[32]byte, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([][32]byte, len(texts))
	missPos := make(map[[32]byte]int)
	var missTexts []string

	for i, t := range texts {
		keys[i] = sha256.Sum256([]byte(t))
		if v, ok := c.cache.Get(keys[i]); ok {
			out[i] = v
			continue
		}
		// Repeated texts within one batch go to the provider once.
		if _, seen := missPos[keys[i]]; !seen {
			missPos[keys[i]] = len(missTexts)
			missTexts = append(missTexts, t)
		}
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for i := range texts {
			if out[i] != nil {
				continue
			}
			v := vecs[missPos[keys[i]]]
			out[i] = v
			c.cache.Add(keys[i], v)
		}
	}
	return out, nil
}

// Len reports the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Len() }

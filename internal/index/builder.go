package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/capclaw/internal/capture"
)

// Meta keys persisted alongside the chunks.
const (
	MetaFrameCount = "frame_count"
	MetaChunkCount = "chunk_count"
	MetaSample     = "sample"
)

// BuildOptions configures an index build.
type BuildOptions struct {
	JSONPath     string
	IndexDir     string
	Embedder     Embedder
	Percentile   float64
	PrimingUnits int
	DecryptKey   string
}

// Result summarizes a completed build.
type Result struct {
	ChunkCount int
	FrameCount int
	// Sample is the first few source units joined, used to ground the
	// assistant's system instructions.
	Sample string
}

// Build loads scrubbed decoded JSON, chunks it semantically and writes
// a fresh index under IndexDir. An empty capture is an error: there is
// nothing to index.
func Build(ctx context.Context, opts BuildOptions) (*Result, error) {
	start := time.Now()

	data, err := capture.ReadArtifact(opts.JSONPath, opts.DecryptKey)
	if err != nil {
		return nil, &IndexError{Msg: "read decoded JSON", Err: err}
	}

	frames, err := capture.ParseFrames(data)
	if err != nil {
		return nil, &IndexError{Err: err}
	}
	if len(frames) == 0 {
		return nil, &IndexError{Msg: "No documents generated from the PCAP JSON."}
	}

	units := make([]string, 0, len(frames))
	for _, f := range frames {
		text, err := f.UnitText()
		if err != nil {
			return nil, &IndexError{Err: err}
		}
		units = append(units, text)
	}

	n := opts.PrimingUnits
	if n <= 0 {
		n = 5
	}
	sample := strings.Join(units[:min(n, len(units))], " ")

	chunker := NewChunker(opts.Embedder, opts.Percentile)
	chunks, err := chunker.Chunk(ctx, units)
	if err != nil {
		return nil, &IndexError{Err: err}
	}
	if len(chunks) == 0 {
		return nil, &IndexError{Msg: "No documents generated from the PCAP JSON."}
	}

	store, err := Create(opts.IndexDir)
	if err != nil {
		return nil, &IndexError{Err: err}
	}
	defer store.Close()

	if err := store.AddChunks(ctx, chunks); err != nil {
		return nil, &IndexError{Msg: "persist chunks", Err: err}
	}
	for k, v := range map[string]string{
		MetaFrameCount: fmt.Sprintf("%d", len(frames)),
		MetaChunkCount: fmt.Sprintf("%d", len(chunks)),
		MetaSample:     sample,
	} {
		if err := store.SetMeta(ctx, k, v); err != nil {
			return nil, &IndexError{Msg: "persist index meta", Err: err}
		}
	}

	slog.Info("index built",
		"frames", len(frames),
		"chunks", len(chunks),
		"duration", time.Since(start).Round(time.Millisecond))

	return &Result{
		ChunkCount: len(chunks),
		FrameCount: len(frames),
		Sample:     sample,
	}, nil
}

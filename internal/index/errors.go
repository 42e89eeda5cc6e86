// Package index builds and queries the per-session chunk index:
// semantic chunking of decoded frames, embeddings, and hybrid
// vector + keyword retrieval over a persisted sqlite file.
package index

// IndexError wraps any failure of the indexing stage: missing or
// unparsable decoded JSON, empty captures, storage errors.
type IndexError struct {
	Msg string
	Err error
}

func (e *IndexError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return "index failed"
}

func (e *IndexError) Unwrap() error { return e.Err }

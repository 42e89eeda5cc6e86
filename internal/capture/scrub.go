package capture

import (
	"encoding/json"
	"fmt"
)

// Scrubber removes sensitive byte-payload fields from decoded capture
// JSON. The built-in policy keys off the layer kind; deployments can
// add exact field names and CEL rules on top. Scrubbing runs on every
// decode, and absent fields are not an error, so re-scrubbing already
// scrubbed output is a no-op.
type Scrubber struct {
	extraFields map[string]bool
	rules       *RuleSet
}

// NewScrubber builds a scrubber with extra exact-match field names and
// compiled redaction rules. Both may be empty.
func NewScrubber(extraFields []string, rules *RuleSet) *Scrubber {
	s := &Scrubber{rules: rules}
	if len(extraFields) > 0 {
		s.extraFields = make(map[string]bool, len(extraFields))
		for _, f := range extraFields {
			s.extraFields[f] = true
		}
	}
	return s
}

// Scrub parses decoded JSON, removes sensitive fields from every
// frame's layers, and re-serializes with two-space indentation. The
// output is deterministic: scrubbing twice yields identical bytes.
func (s *Scrubber) Scrub(data []byte) ([]byte, int, error) {
	var frames []map[string]any
	if err := json.Unmarshal(data, &frames); err != nil {
		return nil, 0, fmt.Errorf("parse decoder output: %w", err)
	}

	removed := 0
	for _, pkt := range frames {
		layers := frameLayers(pkt)
		for name, v := range layers {
			fields, ok := v.(map[string]any)
			if !ok {
				// Duplicate layers decode as arrays; leave them.
				continue
			}
			removed += s.scrubLayer(name, fields)
		}
	}

	out, err := json.MarshalIndent(frames, "", "  ")
	if err != nil {
		return nil, 0, fmt.Errorf("serialize scrubbed JSON: %w", err)
	}
	return out, removed, nil
}

func (s *Scrubber) scrubLayer(name string, fields map[string]any) int {
	removed := 0
	for _, f := range sensitiveFields(KindOf(name), name) {
		if _, ok := fields[f]; ok {
			delete(fields, f)
			removed++
		}
	}
	for f := range s.extraFields {
		if _, ok := fields[f]; ok {
			delete(fields, f)
			removed++
		}
	}
	if s.rules != nil {
		for f := range fields {
			if s.rules.Redact(name, f) {
				delete(fields, f)
				removed++
			}
		}
	}
	return removed
}

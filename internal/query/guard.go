package query

import (
	"fmt"
	"regexp"
)

// Guard actions, configurable via ask.guard_action:
//   - "off":   disable scanning entirely
//   - "log":   info-level logging (quiet)
//   - "warn":  warning-level logging (default)
//   - "block": reject the question with an error
const (
	GuardOff   = "off"
	GuardLog   = "log"
	GuardWarn  = "warn"
	GuardBlock = "block"
)

// guardPattern pairs a human-readable name with a compiled regex.
type guardPattern struct {
	name    string
	pattern *regexp.Regexp
}

// QuestionGuard scans questions for attempts to recover payload bytes
// that were stripped before indexing. Such questions cannot be answered
// from the index and tend to produce hallucinated octet strings.
type QuestionGuard struct {
	patterns []guardPattern
}

// NewQuestionGuard creates a QuestionGuard with the default set of
// payload-recovery detection patterns.
func NewQuestionGuard() *QuestionGuard {
	return &QuestionGuard{
		patterns: defaultGuardPatterns(),
	}
}

// Scan checks a question against all known recovery patterns.
// Returns the names of matched patterns (empty slice = no matches).
func (g *QuestionGuard) Scan(question string) []string {
	if question == "" {
		return nil
	}
	var matches []string
	for _, gp := range g.patterns {
		if gp.pattern.MatchString(question) {
			matches = append(matches, gp.name)
		}
	}
	return matches
}

// defaultGuardPatterns returns the built-in detection set. These target
// requests for raw payload/segment content while leaving ordinary
// protocol questions ("which TCP ports were used?") unmatched.
func defaultGuardPatterns() []guardPattern {
	return []guardPattern{
		{
			name:    "raw_payload_request",
			pattern: regexp.MustCompile(`(?i)(show|give|print|dump|display|extract|recover|reveal)\s+(me\s+)?(the\s+)?(raw|full|complete|original|actual)?\s*(tcp|udp|tls)?\s*(payload|segment\s+data|packet\s+bytes)`),
		},
		{
			name:    "payload_content",
			pattern: regexp.MustCompile(`(?i)(content|bytes|data)\s+(of|inside|in)\s+the\s+(tcp|udp|tls)?\s*(payload|segments?|reassembled)`),
		},
		{
			name:    "hex_reconstruction",
			pattern: regexp.MustCompile(`(?i)(reconstruct|reassemble|rebuild|decode)\s+(the\s+)?(payload|stream|hex|segment)`),
		},
		{
			name:    "credential_recovery",
			pattern: regexp.MustCompile(`(?i)(password|credential|secret|token|cookie)s?\s+(in|from|inside)\s+the\s+(capture|pcap|payload|traffic|packets?)`),
		},
	}
}

// HasPatterns returns true if the guard has any patterns configured.
func (g *QuestionGuard) HasPatterns() bool {
	return len(g.patterns) > 0
}

// PatternNames returns the names of all configured patterns.
func (g *QuestionGuard) PatternNames() []string {
	names := make([]string, len(g.patterns))
	for i, gp := range g.patterns {
		names[i] = gp.name
	}
	return names
}

// GuardedError is returned when action is "block" and the question
// matched one or more patterns.
type GuardedError struct {
	Matches []string
}

func (e *GuardedError) Error() string {
	return fmt.Sprintf("question asks for scrubbed payload content (matched: %v); payload bytes are removed before indexing", e.Matches)
}

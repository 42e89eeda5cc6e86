package capture

import (
	"strings"
	"testing"
)

func TestCompileRulesEmpty(t *testing.T) {
	rs, err := CompileRules(nil)
	if err != nil {
		t.Fatalf("CompileRules(nil): %v", err)
	}
	if rs != nil {
		t.Fatal("expected nil RuleSet for no rules")
	}
	// A nil RuleSet never redacts.
	if rs.Redact("tcp", "tcp.payload") {
		t.Fatal("nil RuleSet matched")
	}
}

func TestCompileRulesBadSyntax(t *testing.T) {
	_, err := CompileRules([]string{`layer == `})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !strings.Contains(err.Error(), "layer == ") {
		t.Errorf("error should name the rule, got %q", err)
	}
}

func TestCompileRulesNonBool(t *testing.T) {
	if _, err := CompileRules([]string{`layer + field`}); err == nil {
		t.Fatal("expected error for non-bool rule")
	}
}

func TestRedact(t *testing.T) {
	rs, err := CompileRules([]string{
		`layer == "http" && field == "http.authorization"`,
		`field.endsWith(".password")`,
	})
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}

	cases := []struct {
		layer, field string
		want         bool
	}{
		{"http", "http.authorization", true},
		{"http", "http.host", false},
		{"radius", "radius.password", true},
		{"tcp", "tcp.srcport", false},
	}
	for _, tc := range cases {
		if got := rs.Redact(tc.layer, tc.field); got != tc.want {
			t.Errorf("Redact(%q, %q) = %v, want %v", tc.layer, tc.field, got, tc.want)
		}
	}
}

package capture

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// RuleSet is a compiled set of redaction rules. Each rule is a CEL
// expression over two string variables, `layer` and `field`, returning
// a bool; a true result removes the field from the decoded output.
//
//	layer == "http" && field == "http.authorization"
//	field.endsWith(".password")
type RuleSet struct {
	programs []cel.Program
}

// CompileRules compiles redaction expressions. Compilation errors name
// the offending expression so config mistakes surface at startup, not
// mid-decode.
func CompileRules(exprs []string) (*RuleSet, error) {
	if len(exprs) == 0 {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("layer", cel.StringType),
		cel.Variable("field", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("build rule env: %w", err)
	}

	rs := &RuleSet{programs: make([]cel.Program, 0, len(exprs))}
	for _, expr := range exprs {
		ast, iss := env.Compile(expr)
		if iss.Err() != nil {
			return nil, fmt.Errorf("redaction rule %q: %w", expr, iss.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("redaction rule %q: must evaluate to bool, got %s", expr, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("redaction rule %q: %w", expr, err)
		}
		rs.programs = append(rs.programs, prg)
	}
	return rs, nil
}

// Redact reports whether any rule matches the (layer, field) pair.
// Evaluation errors count as no match.
func (rs *RuleSet) Redact(layer, field string) bool {
	if rs == nil {
		return false
	}
	vars := map[string]any{"layer": layer, "field": field}
	for _, prg := range rs.programs {
		out, _, err := prg.Eval(vars)
		if err != nil {
			continue
		}
		if b, ok := out.Value().(bool); ok && b {
			return true
		}
	}
	return false
}

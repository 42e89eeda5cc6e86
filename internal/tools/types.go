// Package tools defines the callable capabilities capclaw exposes over
// MCP and HTTP: the capture-session pipeline and the topology config
// generator. A Registry holds them behind one execution path with
// shared rate limiting and output scrubbing.
package tools

import "context"

// Tool is one callable capability.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema object for the tool's arguments.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// stringArg extracts a string argument; absent or mistyped yields "".
func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

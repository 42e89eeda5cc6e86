// Package mcp hosts the tool registry as a Model Context Protocol server,
// over stdio for local agents and over streamable HTTP for remote ones.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/capclaw/internal/tools"
)

const serverName = "capclaw"

// DefaultEndpoint is the HTTP path the streamable transport is mounted on.
const DefaultEndpoint = "/mcp"

// Server wraps an MCP server populated from a tool registry.
type Server struct {
	registry *tools.Registry
	mcp      *server.MCPServer
	logger   *slog.Logger
}

// NewServer builds an MCP server exposing every tool currently in the
// registry. Tools registered afterwards are not picked up.
func NewServer(registry *tools.Registry, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: registry,
		logger:   logger,
	}
	s.mcp = server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, tool := range registry.List() {
		s.addTool(tool)
	}
	return s
}

func (s *Server) addTool(tool tools.Tool) {
	schema, err := json.Marshal(tool.Parameters())
	if err != nil {
		s.logger.Error("tool schema not serializable, skipping", "tool", tool.Name(), "error", err)
		return
	}
	def := mcpgo.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcp.AddTool(def, s.handler(tool.Name()))
}

// handler routes a tool call through the registry so rate limiting and
// credential scrubbing apply to MCP callers too.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args := req.GetArguments()
		res := s.registry.ExecuteForSession(ctx, name, sessionKey(args), args)
		if res.IsError {
			return mcpgo.NewToolResultError(res.Text), nil
		}
		return mcpgo.NewToolResultText(res.Text), nil
	}
}

// sessionKey extracts the rate-limit key from tool arguments. Tools
// without a session_id argument are not per-session limited.
func sessionKey(args map[string]interface{}) string {
	if v, ok := args["session_id"].(string); ok {
		return v
	}
	return ""
}

// ServeStdio runs the server on stdin/stdout until EOF or error.
// This is the transport MCP-native clients spawn the binary with.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// HTTPHandler returns the streamable-HTTP transport for mounting into
// an existing mux at endpoint (DefaultEndpoint when empty).
func (s *Server) HTTPHandler(endpoint string) http.Handler {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(endpoint),
	)
}

// Package server exposes the chainer's three fixed tools — mcp_chain,
// chainable_tools, and discover_tools — to the upstream MCP client over
// stdio, using the official MCP Go SDK. The surface is deliberately thin:
// all real work happens in the registry and the chain executor.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/localSummer/mcp-tool-chainer/internal/chain"
	"github.com/localSummer/mcp-tool-chainer/internal/config"
	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
	"github.com/localSummer/mcp-tool-chainer/internal/registry"
)

// chainArgsSchema describes mcp_chain's input. Downstream argument objects
// are deliberately unvalidated beyond JSON-ness; the schema only pins the
// path structure.
var chainArgsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "mcpPath": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "toolName": {"type": "string", "description": "Registered tool alias to invoke."},
          "toolArgs": {"type": "string", "description": "JSON template for the tool arguments; CHAIN_RESULT is replaced by the previous step's output."},
          "inputPath": {"type": "string", "description": "Optional JSONPath applied to the carried value before substitution."},
          "outputPath": {"type": "string", "description": "Optional JSONPath applied to the step's text result."}
        },
        "required": ["toolName", "toolArgs"]
      }
    }
  },
  "required": ["mcpPath"]
}`)

// emptySchema is the input schema for the parameter-less tools.
var emptySchema = json.RawMessage(`{"type": "object", "properties": {}}`)

// chainParams is the decoded mcp_chain argument object.
type chainParams struct {
	MCPPath []chain.Step `json:"mcpPath"`
}

// Server is the upstream MCP surface.
type Server struct {
	reg     *registry.Registry
	exec    *chain.Executor
	servers map[string]config.Server
	timeout time.Duration
	log     *slog.Logger
}

// New creates the upstream server. servers is the config table handed to
// discover_tools for rebuilds; timeout bounds one tool invocation end to
// end (zero for the 120 s default).
func New(reg *registry.Registry, exec *chain.Executor, servers map[string]config.Server, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Server{
		reg:     reg,
		exec:    exec,
		servers: servers,
		timeout: timeout,
		log:     slog.With("component", "server"),
	}
}

// upstreamTool pairs one tool definition with its handler.
type upstreamTool struct {
	def     *mcpsdk.Tool
	handler mcpsdk.ToolHandler
}

// tools returns the fixed upstream surface: exactly three tools.
func (s *Server) tools() []upstreamTool {
	return []upstreamTool{
		{
			def: &mcpsdk.Tool{
				Name:        "mcp_chain",
				Description: "Chain together multiple MCP servers: each step's output replaces CHAIN_RESULT in the next step's arguments.",
				InputSchema: chainArgsSchema,
			},
			handler: s.handleChain,
		},
		{
			def: &mcpsdk.Tool{
				Name:        "chainable_tools",
				Description: "List the tools discovered from all MCP servers so they can be used with mcp_chain.",
				InputSchema: emptySchema,
			},
			handler: s.handleChainableTools,
		},
		{
			def: &mcpsdk.Tool{
				Name:        "discover_tools",
				Description: "Rediscover tools from all MCP servers and return the refreshed list.",
				InputSchema: emptySchema,
			},
			handler: s.handleDiscoverTools,
		},
	}
}

// Run serves the upstream connection on stdio until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    mcp.HostName,
		Version: mcp.Version,
	}, nil)

	tools := s.tools()
	for _, t := range tools {
		srv.AddTool(t.def, t.handler)
	}

	s.log.Info("upstream server ready", "tools", len(tools))
	if err := srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server: upstream transport: %w", err)
	}
	return nil
}

// handleChain runs one chain under the invocation timeout.
func (s *Server) handleChain(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var params chainParams
	if err := decodeArguments(req, &params); err != nil {
		return nil, fmt.Errorf("invalid mcp_chain arguments: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.exec.Run(ctx, params.MCPPath)
	if err != nil {
		s.log.Warn("chain failed", "steps", len(params.MCPPath), "elapsed", time.Since(start), "err", err)
		return nil, err
	}
	s.log.Info("chain complete", "steps", len(params.MCPPath), "elapsed", time.Since(start))
	return textResult(text), nil
}

// handleChainableTools returns the current primary aliases without touching
// the downstream fleet.
func (s *Server) handleChainableTools(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	return textResult(strings.Join(s.reg.Primaries(), ", ")), nil
}

// handleDiscoverTools rebuilds the registry and returns the refreshed list.
func (s *Server) handleDiscoverTools(ctx context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	aliases := s.reg.Discover(ctx, s.servers)
	return textResult(strings.Join(aliases, ", ")), nil
}

// decodeArguments re-decodes the request's raw argument JSON into v.
func decodeArguments(req *mcpsdk.CallToolRequest, v any) error {
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// textResult wraps text in the single-content-block result shape.
func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

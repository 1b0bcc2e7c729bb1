// Package mcp holds the wire-level types shared by the downstream client
// fleet: JSON-RPC 2.0 frames, the MCP handshake and tool structures, and the
// error taxonomy surfaced by the chainer core.
package mcp

import "encoding/json"

// Version is the version this process reports as clientInfo during the
// downstream handshake and as serverInfo on the upstream connection.
const Version = "1.0.1"

// HostName is the identity name of this process. A downstream whose
// serverInfo matches [HostIdentity] is a misconfigured self-reference and is
// dropped during discovery.
const HostName = "mcp_tool_chainer"

// ReservedServerKey is the config key reserved for this process itself.
// A config entry under this key is never a discovery target.
const ReservedServerKey = "mcp_tool_chainer"

// ProtocolVersion is the protocol version string advertised in initialize.
// The upstream project ships the literal "latest"; servers are expected to
// echo what the client advertised.
const ProtocolVersion = "latest"

// Implementation identifies one side of an MCP connection.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HostIdentity returns this process's own identity.
func HostIdentity() Implementation {
	return Implementation{Name: HostName, Version: Version}
}

// Request is an outgoing JSON-RPC 2.0 request frame. ID is omitted for
// notifications.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an incoming JSON-RPC 2.0 response frame. The ID is kept raw:
// real-world servers have been observed echoing string ids.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the JSON-RPC 2.0 error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// InitializeParams is the params object of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// ClientCapabilities advertises what this client supports. The chainer only
// consumes tools.
type ClientCapabilities struct {
	Tools struct{} `json:"tools"`
}

// InitializeResult is the result object of the initialize response.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// Tool describes one tool reported by a downstream server via tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result object of a tools/list response.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams is the params object of a tools/call request.
type CallToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// CallToolResult is the result object of a tools/call response.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one content block of a tool result. The conventional payload
// field for chaining is the Text of the first block.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// FirstText returns the text of the first content block, or ("", false) when
// the content is empty or the first block carries no text type.
func (r *CallToolResult) FirstText() (string, bool) {
	if r == nil || len(r.Content) == 0 {
		return "", false
	}
	c := r.Content[0]
	if c.Type != "text" {
		return "", false
	}
	return c.Text, true
}

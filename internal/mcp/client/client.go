// Package client implements the MCP client side of one downstream
// connection: the initialize handshake, tool listing, and tool calls, on top
// of a line-delimited transport.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
	"github.com/localSummer/mcp-tool-chainer/internal/mcp/transport"
	"github.com/localSummer/mcp-tool-chainer/internal/observe"
)

// ErrSelf is returned by [Client.Connect] when the downstream identifies
// itself as this very process. The registry skips such servers: chaining
// into ourselves would recurse forever.
var ErrSelf = errors.New("downstream identifies as this process")

// Client drives one downstream MCP server. Create with [New], perform the
// handshake with [Connect]. Safe for concurrent CallTool use after Connect.
type Client struct {
	serverKey string
	tp        *transport.Transport
	log       *slog.Logger
	metrics   *observe.Metrics

	identity mcp.Implementation
	protocol string
	tools    []mcp.Tool
}

// New creates a Client for the downstream described by the transport
// options. The child process is not spawned until [Client.Connect].
func New(opts transport.Options) *Client {
	return &Client{
		serverKey: opts.Key,
		tp:        transport.New(opts),
		log:       slog.With("server", opts.Key),
		metrics:   observe.DefaultMetrics(),
	}
}

// Connect spawns the child and performs the MCP handshake: initialize with
// protocolVersion "latest" and tools-only capabilities, the initialized
// notification, then tools/list. If the server reports this process's own
// identity, the client closes itself and returns [ErrSelf].
func (c *Client) Connect(ctx context.Context) error {
	if err := c.tp.Start(ctx); err != nil {
		return err
	}

	params := mcp.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		ClientInfo:      mcp.HostIdentity(),
	}
	raw, err := c.tp.Request(ctx, "initialize", params, 0)
	if err != nil {
		c.Close()
		return err
	}

	var init mcp.InitializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		c.Close()
		return mcp.WrapErr(mcp.KindTransport, "decode initialize result", err)
	}
	if init.ServerInfo == mcp.HostIdentity() {
		c.Close()
		return ErrSelf
	}
	c.identity = init.ServerInfo
	c.protocol = init.ProtocolVersion

	if err := c.tp.Notify("notifications/initialized", nil); err != nil {
		c.log.Debug("initialized notification failed", "err", err)
	}

	raw, err = c.tp.Request(ctx, "tools/list", struct{}{}, 0)
	if err != nil {
		c.Close()
		return err
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(raw, &list); err != nil {
		c.Close()
		return mcp.WrapErr(mcp.KindTransport, "decode tools/list result", err)
	}
	c.tools = list.Tools

	c.log.Debug("downstream connected",
		"name", c.identity.Name,
		"version", c.identity.Version,
		"protocol", c.protocol,
		"tools", len(c.tools),
	)
	return nil
}

// CallTool issues tools/call for name with the given argument value and
// returns the raw result envelope. The conventional chaining payload is the
// text of the first content block.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	start := time.Now()
	raw, err := c.tp.Request(ctx, "tools/call", mcp.CallToolParams{Name: name, Arguments: args}, 0)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.RecordToolCall(ctx, c.serverKey, name, "error", elapsed)
		return nil, err
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.metrics.RecordToolCall(ctx, c.serverKey, name, "error", elapsed)
		return nil, mcp.WrapErr(mcp.KindTransport, "decode tools/call result", err)
	}
	c.metrics.RecordToolCall(ctx, c.serverKey, name, "ok", elapsed)
	return &result, nil
}

// ServerKey returns the config key this client was created for.
func (c *Client) ServerKey() string { return c.serverKey }

// Identity returns the serverInfo learned during the handshake.
func (c *Client) Identity() mcp.Implementation { return c.identity }

// Tools returns the tool list cached at handshake time.
func (c *Client) Tools() []mcp.Tool { return c.tools }

// Connected reports whether the underlying transport still accepts requests.
func (c *Client) Connected() bool { return c.tp.Connected() }

// Close tears down the transport and the child process. Idempotent.
func (c *Client) Close() error { return c.tp.Close() }

// Package registry maintains the process-wide map from agent-visible tool
// aliases to downstream tool records. The registry is rebuilt wholesale by
// [Registry.Discover] and read under a shared read lock in the hot path of
// chain execution.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localSummer/mcp-tool-chainer/internal/config"
	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
	"github.com/localSummer/mcp-tool-chainer/internal/mcp/client"
	"github.com/localSummer/mcp-tool-chainer/internal/mcp/transport"
	"github.com/localSummer/mcp-tool-chainer/internal/observe"
)

// discoverConcurrency bounds how many downstream handshakes run at once.
// The per-server recover contract is unaffected: each server fails or
// succeeds on its own.
const discoverConcurrency = 4

// ToolClient is the downstream client behavior the registry depends on.
// Satisfied by [client.Client]; tests substitute fakes.
type ToolClient interface {
	Connect(ctx context.Context) error
	CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error)
	Identity() mcp.Implementation
	Tools() []mcp.Tool
	Connected() bool
	Close() error
}

// Dialer creates an unconnected client for one config entry.
type Dialer func(key string, srv config.Server) ToolClient

// DefaultDialer returns a Dialer that spawns real child processes over the
// line-delimited stdio transport. requestTimeout bounds each JSON-RPC
// request (zero for the transport default).
func DefaultDialer(requestTimeout time.Duration) Dialer {
	return func(key string, srv config.Server) ToolClient {
		return client.New(transport.Options{
			Key:            key,
			Command:        srv.Command,
			Args:           srv.Args,
			Env:            srv.Env,
			RequestTimeout: requestTimeout,
		})
	}
}

// Record is one registered downstream tool. Immutable once inserted; a
// rediscovery replaces records wholesale.
type Record struct {
	ServerKey     string
	ServerName    string
	ServerVersion string
	Tool          mcp.Tool
	Client        ToolClient
}

// ServerStatus is a point-in-time view of one connected downstream, used by
// health checks and logs.
type ServerStatus struct {
	Name      string
	Version   string
	Tools     int
	Connected bool
}

// Registry maps tool aliases to records. Each tool is inserted under three
// aliases: serverName-qualified, serverKey-qualified, and the bare tool
// name (last-writer-wins on collision). Lookups are exact-match.
type Registry struct {
	dial    Dialer
	log     *slog.Logger
	metrics *observe.Metrics

	mu        sync.RWMutex
	records   map[string]*Record
	clients   []ToolClient
	primaries []string
}

// New creates an empty Registry that connects downstreams via dial.
func New(dial Dialer) *Registry {
	return &Registry{
		dial:    dial,
		log:     slog.With("component", "registry"),
		metrics: observe.DefaultMetrics(),
		records: make(map[string]*Record),
	}
}

// Discover rebuilds the registry from servers. It is total over the config:
// every non-reserved entry is attempted, individual failures are logged and
// skipped, and the registry always ends up fully rebuilt from the servers
// that answered. Existing clients are closed first, so chains in flight
// across a rediscovery fail with their transports.
//
// Returns the deduplicated primary aliases (serverName-qualified) in stable
// key order.
func (r *Registry) Discover(ctx context.Context, servers map[string]config.Server) []string {
	start := time.Now()

	r.mu.Lock()
	old := r.clients
	r.records = make(map[string]*Record)
	r.clients = nil
	r.primaries = nil
	r.mu.Unlock()

	for _, c := range old {
		if err := c.Close(); err != nil {
			r.log.Debug("close previous downstream", "err", err)
		}
	}

	keys := make([]string, 0, len(servers))
	for key := range servers {
		if key == mcp.ReservedServerKey {
			r.log.Debug("skipping reserved self key")
			continue
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)

	connected := make([]ToolClient, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoverConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			c := r.dial(key, servers[key])
			if err := c.Connect(gctx); err != nil {
				switch {
				case errors.Is(err, client.ErrSelf):
					r.log.Info("skipping self-referencing downstream", "key", key)
				default:
					r.log.Warn("downstream discovery failed", "key", key, "err", err)
				}
				return nil
			}
			connected[i] = c
			return nil
		})
	}
	// Goroutines only return nil: per-server failures are recovered, the
	// overall discovery always succeeds.
	_ = g.Wait()

	records := make(map[string]*Record)
	var clients []ToolClient
	var primaries []string
	seen := make(map[string]struct{})

	for i, key := range keys {
		c := connected[i]
		if c == nil {
			continue
		}
		clients = append(clients, c)
		identity := c.Identity()
		for _, tool := range c.Tools() {
			rec := &Record{
				ServerKey:     key,
				ServerName:    identity.Name,
				ServerVersion: identity.Version,
				Tool:          tool,
				Client:        c,
			}
			primary := Normalize(identity.Name) + "_" + tool.Name
			records[primary] = rec
			records[Normalize(key)+"_"+tool.Name] = rec
			records[tool.Name] = rec

			if _, dup := seen[primary]; !dup {
				seen[primary] = struct{}{}
				primaries = append(primaries, primary)
			}
		}
		r.log.Info("downstream registered",
			"key", key,
			"name", identity.Name,
			"version", identity.Version,
			"tools", len(c.Tools()),
		)
	}

	r.mu.Lock()
	r.records = records
	r.clients = clients
	r.primaries = primaries
	r.mu.Unlock()

	r.metrics.RecordDiscoveryDuration(ctx, time.Since(start).Seconds())
	r.log.Info("discovery complete",
		"servers", len(clients),
		"aliases", len(records),
		"elapsed", time.Since(start),
	)
	return primaries
}

// Find resolves an alias to its record by exact match.
func (r *Registry) Find(alias string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[alias]
	return rec, ok
}

// Primaries returns the primary aliases from the last discovery.
func (r *Registry) Primaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.primaries)
}

// Snapshot returns a per-server view of the registry for health checks.
func (r *Registry) Snapshot() map[string]ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Count each tool once via its serverKey-qualified alias, which is
	// unique per server; the bare alias may have been overwritten.
	statuses := make(map[string]ServerStatus)
	for alias, rec := range r.records {
		if alias != Normalize(rec.ServerKey)+"_"+rec.Tool.Name {
			continue
		}
		s := statuses[rec.ServerKey]
		s.Name = rec.ServerName
		s.Version = rec.ServerVersion
		s.Connected = rec.Client.Connected()
		s.Tools++
		statuses[rec.ServerKey] = s
	}
	return statuses
}

// CloseAll closes every connected downstream and clears the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.records = make(map[string]*Record)
	r.clients = nil
	r.primaries = nil
	r.mu.Unlock()

	for _, c := range clients {
		if err := c.Close(); err != nil {
			r.log.Debug("close downstream", "err", err)
		}
	}
}

// Normalize rewrites a server name or key into alias form: every hyphen
// becomes an underscore.
func Normalize(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

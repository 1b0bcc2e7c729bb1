package registry_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/localSummer/mcp-tool-chainer/internal/config"
	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
	"github.com/localSummer/mcp-tool-chainer/internal/mcp/client"
	"github.com/localSummer/mcp-tool-chainer/internal/registry"
)

// fakeClient is an in-memory ToolClient.
type fakeClient struct {
	identity   mcp.Implementation
	tools      []mcp.Tool
	connectErr error
	connected  bool
	closed     int
	callText   string
}

func (f *fakeClient) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) CallTool(context.Context, string, any) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{{Type: "text", Text: f.callText}}}, nil
}

func (f *fakeClient) Identity() mcp.Implementation { return f.identity }
func (f *fakeClient) Tools() []mcp.Tool            { return f.tools }
func (f *fakeClient) Connected() bool              { return f.connected }
func (f *fakeClient) Close() error {
	f.closed++
	f.connected = false
	return nil
}

// fakeDialer returns canned clients keyed by server key. Unknown keys fail
// to connect.
func fakeDialer(clients map[string]*fakeClient) registry.Dialer {
	return func(key string, _ config.Server) registry.ToolClient {
		if c, ok := clients[key]; ok {
			return c
		}
		return &fakeClient{connectErr: errors.New("no such downstream")}
	}
}

func servers(keys ...string) map[string]config.Server {
	m := make(map[string]config.Server, len(keys))
	for _, k := range keys {
		m[k] = config.Server{Command: "/bin/true"}
	}
	return m
}

func TestDiscover_InsertsThreeAliases(t *testing.T) {
	t.Parallel()
	clients := map[string]*fakeClient{
		"browser-mcp": {
			identity: mcp.Implementation{Name: "browser-server", Version: "1.0"},
			tools:    []mcp.Tool{{Name: "fetch"}},
		},
	}
	reg := registry.New(fakeDialer(clients))

	primaries := reg.Discover(context.Background(), servers("browser-mcp"))

	want := []string{"browser_server_fetch"}
	if !slices.Equal(primaries, want) {
		t.Errorf("primaries = %v, want %v", primaries, want)
	}

	// Hyphens normalize to underscores in both qualified aliases.
	for _, alias := range []string{"browser_server_fetch", "browser_mcp_fetch", "fetch"} {
		rec, ok := reg.Find(alias)
		if !ok {
			t.Errorf("alias %q not found", alias)
			continue
		}
		if rec.ServerKey != "browser-mcp" || rec.Tool.Name != "fetch" {
			t.Errorf("alias %q resolved to %+v", alias, rec)
		}
	}

	if _, ok := reg.Find("browser-server_fetch"); ok {
		t.Error("unnormalized alias must not resolve")
	}
}

func TestDiscover_BareNameLastWriterWins(t *testing.T) {
	t.Parallel()
	clients := map[string]*fakeClient{
		"alpha": {identity: mcp.Implementation{Name: "alpha-srv"}, tools: []mcp.Tool{{Name: "search"}}},
		"beta":  {identity: mcp.Implementation{Name: "beta-srv"}, tools: []mcp.Tool{{Name: "search"}}},
	}
	reg := registry.New(fakeDialer(clients))
	reg.Discover(context.Background(), servers("alpha", "beta"))

	// Keys are processed in sorted order, so beta writes the bare alias last.
	rec, ok := reg.Find("search")
	if !ok {
		t.Fatal("bare alias missing")
	}
	if rec.ServerKey != "beta" {
		t.Errorf("bare alias owned by %q, want beta (last writer)", rec.ServerKey)
	}

	// Qualified aliases remain the stable way to address each tool.
	if rec, ok := reg.Find("alpha_srv_search"); !ok || rec.ServerKey != "alpha" {
		t.Error("alpha's qualified alias lost")
	}
	if rec, ok := reg.Find("beta_srv_search"); !ok || rec.ServerKey != "beta" {
		t.Error("beta's qualified alias lost")
	}
}

func TestDiscover_SkipsReservedSelfKey(t *testing.T) {
	t.Parallel()
	dialed := 0
	dial := func(key string, _ config.Server) registry.ToolClient {
		dialed++
		return &fakeClient{identity: mcp.Implementation{Name: key}}
	}
	reg := registry.New(dial)

	srvs := servers("real")
	srvs[mcp.ReservedServerKey] = config.Server{Command: "/bin/true"}
	reg.Discover(context.Background(), srvs)

	if dialed != 1 {
		t.Errorf("dialed %d servers, want 1 (reserved key skipped)", dialed)
	}
}

func TestDiscover_SkipsSelfIdentity(t *testing.T) {
	t.Parallel()
	clients := map[string]*fakeClient{
		"sneaky": {connectErr: client.ErrSelf},
		"honest": {identity: mcp.Implementation{Name: "honest"}, tools: []mcp.Tool{{Name: "work"}}},
	}
	reg := registry.New(fakeDialer(clients))

	primaries := reg.Discover(context.Background(), servers("sneaky", "honest"))
	if !slices.Equal(primaries, []string{"honest_work"}) {
		t.Errorf("primaries = %v, want [honest_work]", primaries)
	}
	if _, ok := reg.Find("sneaky_work"); ok {
		t.Error("self-identified downstream must not register")
	}
}

func TestDiscover_RecoversPerServerFailures(t *testing.T) {
	t.Parallel()
	clients := map[string]*fakeClient{
		"broken": {connectErr: errors.New("spawn failed")},
		"works":  {identity: mcp.Implementation{Name: "works"}, tools: []mcp.Tool{{Name: "go"}}},
	}
	reg := registry.New(fakeDialer(clients))

	primaries := reg.Discover(context.Background(), servers("broken", "works"))
	if !slices.Equal(primaries, []string{"works_go"}) {
		t.Errorf("discovery must continue past failures; primaries = %v", primaries)
	}
}

func TestDiscover_Idempotent(t *testing.T) {
	t.Parallel()
	clients := map[string]*fakeClient{
		"a": {identity: mcp.Implementation{Name: "a-srv"}, tools: []mcp.Tool{{Name: "one"}, {Name: "two"}}},
		"b": {identity: mcp.Implementation{Name: "b-srv"}, tools: []mcp.Tool{{Name: "three"}}},
	}
	reg := registry.New(fakeDialer(clients))

	first := reg.Discover(context.Background(), servers("a", "b"))
	second := reg.Discover(context.Background(), servers("a", "b"))
	if !slices.Equal(first, second) {
		t.Errorf("discovery not idempotent: %v vs %v", first, second)
	}
}

func TestDiscover_ClosesPreviousClients(t *testing.T) {
	t.Parallel()
	c := &fakeClient{identity: mcp.Implementation{Name: "a"}, tools: []mcp.Tool{{Name: "t"}}}
	reg := registry.New(fakeDialer(map[string]*fakeClient{"a": c}))

	reg.Discover(context.Background(), servers("a"))
	reg.Discover(context.Background(), servers("a"))

	if c.closed == 0 {
		t.Error("rediscovery must close the previous client generation")
	}
}

func TestCloseAll_EmptiesRegistry(t *testing.T) {
	t.Parallel()
	c := &fakeClient{identity: mcp.Implementation{Name: "a"}, tools: []mcp.Tool{{Name: "t"}}}
	reg := registry.New(fakeDialer(map[string]*fakeClient{"a": c}))
	reg.Discover(context.Background(), servers("a"))

	reg.CloseAll()
	if c.closed == 0 {
		t.Error("CloseAll must close clients")
	}
	if _, ok := reg.Find("a_t"); ok {
		t.Error("registry must be empty after CloseAll")
	}
	if len(reg.Primaries()) != 0 {
		t.Error("primaries must be empty after CloseAll")
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	clients := map[string]*fakeClient{
		"a": {identity: mcp.Implementation{Name: "a-srv", Version: "1.2"}, tools: []mcp.Tool{{Name: "one"}, {Name: "two"}}},
	}
	reg := registry.New(fakeDialer(clients))
	reg.Discover(context.Background(), servers("a"))

	snap := reg.Snapshot()
	s, ok := snap["a"]
	if !ok {
		t.Fatal("snapshot missing server a")
	}
	if s.Name != "a-srv" || s.Version != "1.2" || s.Tools != 2 || !s.Connected {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"browser-mcp":   "browser_mcp",
		"no_hyphens":    "no_hyphens",
		"a-b-c":         "a_b_c",
		"already_clean": "already_clean",
	}
	for in, want := range cases {
		if got := registry.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

// Package app wires the chainer subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects all subsystems and
// runs the initial discovery, Run serves the upstream connection (plus the
// optional metrics listener), and Shutdown tears everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/localSummer/mcp-tool-chainer/internal/chain"
	"github.com/localSummer/mcp-tool-chainer/internal/config"
	"github.com/localSummer/mcp-tool-chainer/internal/health"
	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
	"github.com/localSummer/mcp-tool-chainer/internal/observe"
	"github.com/localSummer/mcp-tool-chainer/internal/registry"
	"github.com/localSummer/mcp-tool-chainer/internal/server"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg  *config.Config
	reg  *registry.Registry
	exec *chain.Executor
	srv  *server.Server

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a registry instead of building one from config.
func WithRegistry(r *registry.Registry) Option {
	return func(a *App) { a.reg = r }
}

// New creates an App by wiring config → metrics → registry → executor →
// upstream server, then runs the initial discovery. A nil cfg starts the
// degraded mode: the upstream protocol is fully responsive but the registry
// stays empty, since discover_tools has no configured servers to rebuild from.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics provider ─────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: mcp.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init metrics provider: %w", err)
	}
	a.closers = append(a.closers, shutdownMetrics)

	// ── 2. Registry + initial discovery ─────────────────────────────────
	if a.reg == nil {
		a.reg = registry.New(registry.DefaultDialer(cfg.Settings.RequestTimeout()))
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.reg.CloseAll()
		return nil
	})

	if len(cfg.MCPServers) > 0 {
		aliases := a.reg.Discover(ctx, cfg.MCPServers)
		slog.Info("initial discovery complete", "tools", len(aliases))
	} else {
		slog.Warn("no downstream servers configured; running with an empty registry")
	}

	// ── 3. Chain executor + upstream surface ────────────────────────────
	a.exec = chain.New(a.reg)
	a.srv = server.New(a.reg, a.exec, cfg.MCPServers, cfg.Settings.InvocationTimeout())

	return a, nil
}

// Registry returns the tool registry.
func (a *App) Registry() *registry.Registry { return a.reg }

// Run serves the upstream stdio connection and, when configured, the
// metrics/health listener. It blocks until ctx is cancelled or the upstream
// client disconnects.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Run(gctx)
	})

	if addr := a.cfg.Settings.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(a.reg.Snapshot).Register(mux)

		httpSrv := &http.Server{Addr: addr, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics listener ready", "addr", addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

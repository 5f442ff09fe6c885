package mcp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/gizmo/internal/config"
)

// ServerStatus summarizes one configured server.
type ServerStatus struct {
	Name  string
	State State
	Tools int
	Err   error
}

// Available reports whether the server's tools are routable.
func (s ServerStatus) Available() bool { return s.Err == nil }

// Registry owns one Bridge per enabled server and routes tool calls by name.
//
// The routing table is built once by Initialize and only read afterwards.
type Registry struct {
	cfg        *config.Config
	newSession SessionFactory
	log        *slog.Logger

	bridges     map[string]*Bridge
	routes      map[string]*Bridge
	catalog     []Tool
	unavailable map[string]error
}

// Option configures a Registry.
type Option func(*Registry)

// WithSessionFactory replaces the factory that builds sessions.
func WithSessionFactory(f SessionFactory) Option {
	return func(r *Registry) { r.newSession = f }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates a registry for the servers in cfg.
func NewRegistry(cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:         cfg,
		newSession:  NewSessionFactory(cfg),
		log:         slog.New(slog.DiscardHandler),
		bridges:     map[string]*Bridge{},
		routes:      map[string]*Bridge{},
		unavailable: map[string]error{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsEnabled reports whether the named MCP server is enabled.
func (r *Registry) IsEnabled(name string) bool {
	return !slices.Contains(r.cfg.MCPDisable, "*") &&
		!slices.Contains(r.cfg.MCPDisable, name)
}

// EnabledServers iterates enabled MCP servers in stable order.
func (r *Registry) EnabledServers() iter.Seq2[string, config.MCPServerConfig] {
	return func(yield func(string, config.MCPServerConfig) bool) {
		for _, name := range slices.Sorted(maps.Keys(r.cfg.MCPServers)) {
			if !r.IsEnabled(name) {
				continue
			}
			if !yield(name, r.cfg.MCPServers[name]) {
				return
			}
		}
	}
}

// Initialize starts a bridge per enabled server, waits for all of them
// concurrently, and merges the catalogs of those that became ready. Servers
// that fail are recorded as unavailable; they never hold up the others.
//
// Tool names must be unique: the server that sorts first keeps a contested
// name.
func (r *Registry) Initialize(ctx context.Context) error {
	opts := BridgeOptions{
		ReadyTimeout:    r.cfg.MCPTimeout,
		CallTimeout:     r.cfg.MCPCallTimeout,
		ShutdownTimeout: r.cfg.MCPShutdownTimeout,
		Logger:          r.log,
	}

	var names []string
	for name, server := range r.EnabledServers() {
		names = append(names, name)
		session, err := r.newSession(name, server)
		if err != nil {
			r.unavailable[name] = err
			r.log.Warn("mcp server skipped", "server", name, "err", err)
			continue
		}
		r.bridges[name] = NewBridge(name, session, opts)
	}

	var mu sync.Mutex
	var g errgroup.Group
	for name, b := range r.bridges {
		g.Go(func() error {
			if err := b.WaitReady(ctx); err != nil {
				mu.Lock()
				r.unavailable[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, name := range names {
		if err, ok := r.unavailable[name]; ok {
			r.log.Warn("mcp server unavailable", "server", name, "err", err)
			if b, ok := r.bridges[name]; ok {
				if err := b.Shutdown(); err != nil {
					r.log.Debug("mcp shutdown after failed start", "server", name, "err", err)
				}
			}
			continue
		}
		b := r.bridges[name]
		for _, tool := range b.Tools() {
			if owner, taken := r.routes[tool.Name]; taken {
				r.log.Warn("duplicate tool name ignored", "tool", tool.Name, "server", name, "owner", owner.Name())
				continue
			}
			r.routes[tool.Name] = b
			r.catalog = append(r.catalog, tool)
		}
	}
	slices.SortFunc(r.catalog, func(a, b Tool) int { return cmp.Compare(a.Name, b.Name) })

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}
	return nil
}

// Tools returns the merged catalog sorted by name.
func (r *Registry) Tools() []Tool {
	return slices.Clone(r.catalog)
}

// Servers returns the status of every enabled server in name order.
func (r *Registry) Servers() []ServerStatus {
	var out []ServerStatus
	for name := range r.EnabledServers() {
		st := ServerStatus{Name: name, State: StateStopped, Err: r.unavailable[name]}
		if b, ok := r.bridges[name]; ok {
			st.State = b.State()
			for _, tool := range b.Tools() {
				if r.routes[tool.Name] == b {
					st.Tools++
				}
			}
		}
		out = append(out, st)
	}
	return out
}

// CallTool routes a call to the server that owns name. It fails immediately
// with ErrToolNotFound for unknown names; every other failure comes back as
// a *ToolError from the owning bridge.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	b, ok := r.routes[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return b.CallTool(ctx, name, args)
}

// ShutdownAll stops every bridge, including those that never became ready,
// and reports all failures together.
func (r *Registry) ShutdownAll() error {
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(r.bridges)) {
		if err := r.bridges[name].Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

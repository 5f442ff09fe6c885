package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/gizmo/internal/config"
)

func testRegistry(t *testing.T, sessions map[string]*fakeSession, disable ...string) *Registry {
	t.Helper()
	cfg := &config.Config{}
	cfg.MCPServers = map[string]config.MCPServerConfig{}
	for name := range sessions {
		cfg.MCPServers[name] = config.MCPServerConfig{Command: name}
	}
	cfg.MCPDisable = disable
	cfg.MCPTimeout = 200 * time.Millisecond
	cfg.MCPShutdownTimeout = time.Second

	r := NewRegistry(cfg, WithSessionFactory(func(name string, _ config.MCPServerConfig) (Session, error) {
		s := sessions[name]
		if s == nil {
			return nil, fmt.Errorf("%w: no such server", ErrConnection)
		}
		s.name = name
		return s, nil
	}))
	t.Cleanup(func() { _ = r.ShutdownAll() })
	return r
}

func TestRegistryInitialize(t *testing.T) {
	weather := &fakeSession{tools: toolsNamed("lookup_weather", "search")}
	files := &fakeSession{tools: toolsNamed("read_file", "search")}
	broken := &fakeSession{initErr: fmt.Errorf("%w: handshake", ErrProtocol)}
	stuck := &fakeSession{initHold: make(chan struct{})}

	r := testRegistry(t, map[string]*fakeSession{
		"weather": weather,
		"files":   files,
		"broken":  broken,
		"stuck":   stuck,
	})

	start := time.Now()
	require.NoError(t, r.Initialize(context.Background()))
	require.Less(t, time.Since(start), time.Second)

	var names []string
	for _, tool := range r.Tools() {
		names = append(names, tool.Name+"@"+tool.Server)
	}
	// "files" sorts before "weather" and keeps the contested name.
	require.Equal(t, []string{"lookup_weather@weather", "read_file@files", "search@files"}, names)

	statuses := map[string]ServerStatus{}
	for _, st := range r.Servers() {
		statuses[st.Name] = st
	}
	require.Len(t, statuses, 4)
	require.True(t, statuses["weather"].Available())
	require.Equal(t, 1, statuses["weather"].Tools)
	require.Equal(t, 2, statuses["files"].Tools)
	require.ErrorIs(t, statuses["broken"].Err, ErrProtocol)
	require.ErrorIs(t, statuses["stuck"].Err, ErrTimeout)
	require.Equal(t, StateStopped, statuses["stuck"].State)

	out, err := r.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)
	require.Equal(t, "search", out)
	require.EqualValues(t, 1, files.invokes.Load())
	require.Zero(t, weather.invokes.Load())
}

func TestRegistryToolNotFound(t *testing.T) {
	r := testRegistry(t, map[string]*fakeSession{"weather": {tools: toolsNamed("lookup_weather")}})
	require.NoError(t, r.Initialize(context.Background()))

	start := time.Now()
	_, err := r.CallTool(context.Background(), "lookup_stocks", nil)
	require.ErrorIs(t, err, ErrToolNotFound)
	require.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestRegistryDisabledServers(t *testing.T) {
	t.Run("by name", func(t *testing.T) {
		a := &fakeSession{tools: toolsNamed("a")}
		b := &fakeSession{tools: toolsNamed("b")}
		r := testRegistry(t, map[string]*fakeSession{"a": a, "b": b}, "b")
		require.NoError(t, r.Initialize(context.Background()))
		require.Len(t, r.Tools(), 1)
		require.Len(t, r.Servers(), 1)
		require.False(t, r.IsEnabled("b"))
	})

	t.Run("wildcard", func(t *testing.T) {
		r := testRegistry(t, map[string]*fakeSession{"a": {tools: toolsNamed("a")}}, "*")
		require.NoError(t, r.Initialize(context.Background()))
		require.Empty(t, r.Tools())
		require.Empty(t, r.Servers())
	})
}

func TestRegistryFactoryFailure(t *testing.T) {
	r := testRegistry(t, map[string]*fakeSession{"ok": {tools: toolsNamed("ping")}})
	r.cfg.MCPServers["ghost"] = config.MCPServerConfig{Command: "ghost"}

	require.NoError(t, r.Initialize(context.Background()))
	require.Len(t, r.Tools(), 1)

	for _, st := range r.Servers() {
		if st.Name == "ghost" {
			require.ErrorIs(t, st.Err, ErrConnection)
			require.Equal(t, StateStopped, st.State)
		}
	}
}

func TestRegistryShutdownAll(t *testing.T) {
	a := &fakeSession{closeErr: errors.New("a refused")}
	b := &fakeSession{}
	c := &fakeSession{closeErr: errors.New("c refused")}
	r := testRegistry(t, map[string]*fakeSession{"a": a, "b": b, "c": c})
	require.NoError(t, r.Initialize(context.Background()))

	err := r.ShutdownAll()
	require.ErrorContains(t, err, "a refused")
	require.ErrorContains(t, err, "c refused")
	for _, s := range []*fakeSession{a, b, c} {
		require.EqualValues(t, 1, s.closes.Load())
	}

	_, err = r.CallTool(context.Background(), "anything", nil)
	require.ErrorIs(t, err, ErrToolNotFound)
}

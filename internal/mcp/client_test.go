package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
)

func weatherServer() *server.MCPServer {
	srv := server.NewMCPServer("weather", "1.0.0")
	srv.AddTool(
		mcp.NewTool("lookup_weather",
			mcp.WithDescription("Current temperature for a city"),
			mcp.WithString("city", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if req.GetArguments()["city"] != "Rome" {
				return mcp.NewToolResultError("unknown city"), nil
			}
			return mcp.NewToolResultText(`{"tempC":21}`), nil
		},
	)
	return srv
}

func inProcessSession(srv *server.MCPServer) *clientSession {
	return &clientSession{
		name: "weather",
		dial: func() (*client.Client, error) { return client.NewInProcessClient(srv) },
	}
}

func TestClientSession(t *testing.T) {
	ctx := context.Background()
	s := inProcessSession(weatherServer())
	require.NoError(t, s.Initialize(ctx))
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	tools, err := s.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "lookup_weather", tools[0].Name)
	require.Equal(t, "weather", tools[0].Server)
	require.Equal(t, "object", tools[0].InputSchema["type"])
	require.Equal(t, []string{"city"}, tools[0].InputSchema["required"])

	out, err := s.Invoke(ctx, "lookup_weather", map[string]any{"city": "Rome"})
	require.NoError(t, err)
	require.JSONEq(t, `{"tempC":21}`, out)

	_, err = s.Invoke(ctx, "lookup_weather", map[string]any{})
	require.ErrorIs(t, err, ErrToolFailed)
	require.ErrorContains(t, err, "unknown city")
}

func TestClientSessionNotInitialized(t *testing.T) {
	s := inProcessSession(weatherServer())
	_, err := s.ListTools(context.Background())
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Invoke(context.Background(), "lookup_weather", nil)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.NoError(t, s.Close())
}

func TestBridgeOverClientSession(t *testing.T) {
	b := NewBridge("weather", inProcessSession(weatherServer()), BridgeOptions{ReadyTimeout: 5 * time.Second})
	t.Cleanup(func() { require.NoError(t, b.Shutdown()) })

	out, err := b.CallTool(context.Background(), "lookup_weather", map[string]any{"city": "Rome"})
	require.NoError(t, err)
	require.JSONEq(t, `{"tempC":21}`, out)

	_, err = b.CallTool(context.Background(), "lookup_weather", map[string]any{"city": "Oslo"})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "lookup_weather", te.Tool)
	require.ErrorIs(t, err, ErrToolFailed)
}

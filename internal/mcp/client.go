package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dotcommander/gizmo/internal/config"
)

// clientSession speaks MCP through mark3labs/mcp-go.
type clientSession struct {
	name string
	dial func() (*client.Client, error)
	cli  *client.Client
}

func newClientSession(name string, server config.MCPServerConfig, env []string) *clientSession {
	return &clientSession{
		name: name,
		dial: func() (*client.Client, error) {
			switch server.Type {
			case "sse":
				return client.NewSSEMCPClient(server.URL)
			case "http":
				return client.NewStreamableHttpClient(server.URL)
			default:
				return client.NewStdioMCPClient(server.Command, env, server.Args...)
			}
		},
	}
}

func (s *clientSession) Initialize(ctx context.Context) error {
	cli, err := s.dial()
	if err != nil {
		return fmt.Errorf("%w: create %s client: %w", ErrConnection, s.name, err)
	}
	if err := cli.Start(ctx); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return fmt.Errorf("%w: start %s: %w", ErrConnection, s.name, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := cli.Initialize(ctx, req); err != nil {
		cli.Close() //nolint:errcheck,gosec
		return fmt.Errorf("%w: initialize %s: %w", ErrProtocol, s.name, err)
	}
	s.cli = cli
	return nil
}

func (s *clientSession) ListTools(ctx context.Context) ([]Tool, error) {
	if s.cli == nil {
		return nil, ErrSessionClosed
	}
	res, err := s.cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", s.name, classify(err))
	}
	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema := map[string]any{"type": "object", "properties": t.InputSchema.Properties}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
			Server:      s.name,
		})
	}
	return tools, nil
}

func (s *clientSession) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if s.cli == nil {
		return "", ErrSessionClosed
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.cli.CallTool(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	out := joinContent(res.Content, func(c mcp.Content) (string, bool) {
		switch c := c.(type) {
		case mcp.TextContent:
			return c.Text, true
		case *mcp.TextContent:
			return c.Text, true
		}
		return "", false
	})
	if res.IsError {
		return "", fmt.Errorf("%w: %s", ErrToolFailed, out)
	}
	return out, nil
}

func (s *clientSession) Close() error {
	if s.cli == nil {
		return nil
	}
	err := s.cli.Close()
	s.cli = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.name, err)
	}
	return nil
}

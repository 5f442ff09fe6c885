package mcp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dotcommander/gizmo/internal/config"
)

// sdkSession speaks MCP through the official go-sdk client. It is the driver
// that can start stdio servers in a working directory.
type sdkSession struct {
	name      string
	transport func() sdk.Transport
	session   *sdk.ClientSession
}

func newSDKSession(name string, server config.MCPServerConfig, env []string) *sdkSession {
	return &sdkSession{name: name, transport: func() sdk.Transport { return sdkTransport(server, env) }}
}

func sdkTransport(server config.MCPServerConfig, env []string) sdk.Transport {
	switch server.Type {
	case "sse":
		return &sdk.SSEClientTransport{Endpoint: server.URL}
	case "http":
		return &sdk.StreamableClientTransport{Endpoint: server.URL}
	}
	// #nosec G204 -- servers are configured by the local user.
	cmd := exec.Command(server.Command, server.Args...)
	cmd.Dir = server.Cwd
	cmd.Env = env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	return &sdk.CommandTransport{Command: cmd}
}

func (s *sdkSession) Initialize(ctx context.Context) error {
	cli := sdk.NewClient(&sdk.Implementation{Name: clientName, Version: clientVersion}, nil)
	session, err := cli.Connect(ctx, s.transport(), nil)
	if err != nil {
		// Spawn failures and handshake failures come back from the same call.
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("%w: start %s: %w", ErrConnection, s.name, err)
		}
		if c := classify(err); !errors.Is(c, ErrProtocol) {
			return fmt.Errorf("connect %s: %w", s.name, c)
		}
		return fmt.Errorf("%w: connect %s: %w", ErrProtocol, s.name, err)
	}
	s.session = session
	return nil
}

func (s *sdkSession) ListTools(ctx context.Context) ([]Tool, error) {
	if s.session == nil {
		return nil, ErrSessionClosed
	}
	res, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", s.name, classify(err))
	}
	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, _ := t.InputSchema.(map[string]any)
		if schema == nil {
			schema = map[string]any{"type": "object"}
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

func (s *sdkSession) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if s.session == nil {
		return "", ErrSessionClosed
	}
	res, err := s.session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", classify(err)
	}
	out := joinContent(res.Content, func(c sdk.Content) (string, bool) {
		if t, ok := c.(*sdk.TextContent); ok {
			return t.Text, true
		}
		return "", false
	})
	if res.IsError {
		return "", fmt.Errorf("%w: %s", ErrToolFailed, out)
	}
	return out, nil
}

func (s *sdkSession) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.name, err)
	}
	return nil
}

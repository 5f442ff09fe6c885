package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dotcommander/gizmo/internal/config"
)

const (
	clientName    = "gizmo"
	clientVersion = "dev"
)

// Tool describes one tool offered by a server.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Server      string
}

// Session owns one connection to a tool provider.
//
// Sessions are not safe for concurrent use; a Bridge serializes access.
type Session interface {
	// Initialize establishes the transport and performs the handshake. It
	// fails with ErrConnection or ErrProtocol.
	Initialize(ctx context.Context) error
	// ListTools returns the server's catalog.
	ListTools(ctx context.Context) ([]Tool, error)
	// Invoke runs a tool and returns its output as text.
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
	// Close releases the transport.
	Close() error
}

// SessionFactory builds the session for a configured server.
type SessionFactory func(name string, server config.MCPServerConfig) (Session, error)

// NewSessionFactory returns the factory used for real servers.
func NewSessionFactory(cfg *config.Config) SessionFactory {
	inherit := cfg == nil || !cfg.MCPNoInheritEnv
	return func(name string, server config.MCPServerConfig) (Session, error) {
		return NewSession(name, server, inherit)
	}
}

// NewSession picks the client driver for server.
//
// The go-sdk driver is used when asked for, and for stdio servers that need a
// working directory.
func NewSession(name string, server config.MCPServerConfig, inheritEnv bool) (Session, error) {
	switch server.Type {
	case "", "stdio":
		if server.Command == "" {
			return nil, fmt.Errorf("%w: server %q has no command", ErrConnection, name)
		}
	case "sse", "http":
		if server.URL == "" {
			return nil, fmt.Errorf("%w: server %q has no url", ErrConnection, name)
		}
	default:
		return nil, fmt.Errorf("unsupported MCP server type: %q, supported types are: stdio, sse, http", server.Type)
	}

	env := server.Env
	if inheritEnv {
		env = append(os.Environ(), server.Env...)
	}

	switch server.Driver {
	case "", "mcp-go":
		if server.Cwd != "" && server.Driver == "" {
			return newSDKSession(name, server, env), nil
		}
		return newClientSession(name, server, env), nil
	case "go-sdk":
		return newSDKSession(name, server, env), nil
	default:
		return nil, fmt.Errorf("unsupported MCP driver: %q, supported drivers are: mcp-go, go-sdk", server.Driver)
	}
}

// joinContent folds a tool's content blocks into one text payload. Text
// blocks are used as is and anything else is encoded as JSON.
func joinContent[T any](blocks []T, text func(T) (string, bool)) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if s, ok := text(block); ok {
			parts = append(parts, s)
			continue
		}
		bts, err := json.Marshal(block)
		if err != nil {
			parts = append(parts, "[non-text content]")
			continue
		}
		parts = append(parts, string(bts))
	}
	return strings.Join(parts, "\n")
}

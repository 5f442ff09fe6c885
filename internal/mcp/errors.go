package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrConnection means the transport to a server could not be established
	// or was lost.
	ErrConnection = errors.New("mcp connection error")
	// ErrProtocol means a server answered with something that is not valid
	// MCP, or the handshake was rejected.
	ErrProtocol = errors.New("mcp protocol error")
	// ErrTimeout means a server did not become ready, or a call did not
	// finish, within its bound.
	ErrTimeout = errors.New("mcp timeout")
	// ErrToolNotFound means no connected server offers the requested tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolFailed means the server ran the tool and reported a failure.
	ErrToolFailed = errors.New("tool reported an error")
	// ErrSessionClosed means the server's session has stopped and accepts no
	// more calls.
	ErrSessionClosed = errors.New("mcp session closed")
)

// ToolError is the failure outcome of a tool call. It is returned as a value
// and never escapes as a panic.
type ToolError struct {
	Server string
	Tool   string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Server, e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// classify maps a raw client error onto the package sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConnection), errors.Is(err, ErrProtocol),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrToolFailed):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, os.ErrClosed),
		isTransportMessage(err.Error()):
		return fmt.Errorf("%w: %w", ErrConnection, err)
	default:
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
}

func isTransportMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"broken pipe", "connection reset", "connection refused", "transport closed", "file already closed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Package stream defines the contract between the chat engine and a
// streaming generation backend.
package stream

import (
	"context"
	"errors"

	"github.com/dotcommander/gizmo/internal/proto"
)

// ErrNoContent is returned by Stream.Current when the latest event carried no
// text, for example a warning or a finish notice.
var ErrNoContent = errors.New("no content")

// Client starts generations.
type Client interface {
	Request(context.Context, proto.Request) Stream
}

// Stream is an in-flight generation.
//
// Callers loop on Next, read each event with Current, and check Err once Next
// returns false. Close may be called at any point to abandon the generation.
type Stream interface {
	Next() bool
	Current() (proto.Chunk, error)
	Err() error
	Close() error
	DrainWarnings() []string
}

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotcommander/gizmo/internal/proto"
	"github.com/dotcommander/gizmo/internal/storage/cache"
)

// ToolCall is one tool dispatch recorded in a turn.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Turn is one prompt and the visible answer it produced.
type Turn struct {
	At        time.Time  `json:"at"`
	Prompt    string     `json:"prompt"`
	Answer    string     `json:"answer"`
	Calls     []ToolCall `json:"calls,omitempty"`
	Sources   []string   `json:"sources,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
}

// Log is the transcript log: the session index plus the turns of each
// session.
type Log struct {
	index   *Index
	turns   *cache.Cache[Turn]
	cleanup string
}

// Open opens the log rooted at dir. The special value ":memory:" creates a
// throwaway log in a temporary directory that Close removes.
func Open(dir string) (*Log, error) {
	var cleanup string
	if dir == ":memory:" {
		tmp, err := os.MkdirTemp("", "gizmo-history-*")
		if err != nil {
			return nil, fmt.Errorf("could not create temporary history: %w", err)
		}
		dir, cleanup = tmp, tmp
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create history directory: %w", err)
	}
	index, err := openIndex(dir)
	if err != nil {
		return nil, err
	}
	turns, err := cache.New[Turn](filepath.Join(dir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("could not open transcripts: %w", err)
	}
	return &Log{index: index, turns: turns, cleanup: cleanup}, nil
}

// Close releases a temporary log.
func (l *Log) Close() error {
	if l.cleanup == "" {
		return nil
	}
	if err := os.RemoveAll(l.cleanup); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Index exposes the session index.
func (l *Log) Index() *Index { return l.index }

// Record appends a turn to session id, creating the session on its first
// turn. The first prompt becomes the session title.
func (l *Log) Record(id, api, model string, turn Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	if err := l.turns.Append(id, turn); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}

	s, ok := l.index.Get(id)
	if !ok {
		s = Session{ID: id, Title: title(turn.Prompt), StartedAt: turn.At}
	}
	s.API, s.Model = api, model
	s.Turns++
	s.UpdatedAt = turn.At
	if err := l.index.Put(s); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// Turns returns the turns of session id.
func (l *Log) Turns(id string) ([]Turn, error) {
	turns, err := l.turns.Read(id)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoMatches, id)
	}
	return turns, err //nolint:wrapcheck
}

// Conversation rebuilds the chat history of session id.
func (l *Log) Conversation(id string) (proto.Conversation, error) {
	turns, err := l.Turns(id)
	if err != nil {
		return nil, err
	}
	convo := make(proto.Conversation, 0, 2*len(turns))
	for _, t := range turns {
		convo = append(convo,
			proto.Message{Role: proto.RoleUser, Content: t.Prompt},
			proto.Message{Role: proto.RoleAssistant, Content: t.Answer},
		)
	}
	return convo, nil
}

// Delete removes a session and its turns.
func (l *Log) Delete(id string) error {
	if err := l.turns.Delete(id); err != nil {
		return fmt.Errorf("delete %s: %w", ShortID(id), err)
	}
	if err := l.index.Delete(id); err != nil {
		return fmt.Errorf("delete %s: %w", ShortID(id), err)
	}
	return nil
}

// Prune deletes every session not updated within d and returns them.
func (l *Log) Prune(d time.Duration) ([]Session, error) {
	stale := l.index.OlderThan(d)
	var errs []error
	for _, s := range stale {
		errs = append(errs, l.Delete(s.ID))
	}
	return stale, errors.Join(errs...)
}

const maxTitleLen = 60

func title(prompt string) string {
	t := strings.Join(strings.Fields(prompt), " ")
	if t == "" {
		return "(empty prompt)"
	}
	if r := []rune(t); len(r) > maxTitleLen {
		return string(r[:maxTitleLen-1]) + "…"
	}
	return t
}

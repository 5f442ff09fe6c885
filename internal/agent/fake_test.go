package agent

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dotcommander/gizmo/internal/mcp"
	"github.com/dotcommander/gizmo/internal/proto"
	"github.com/dotcommander/gizmo/internal/retrieval"
	"github.com/dotcommander/gizmo/internal/stream"
)

// script is one scripted generation: chunks, then an optional error.
type script struct {
	chunks []string
	err    error
}

// scriptedClient answers each request with the next script.
type scriptedClient struct {
	mu       sync.Mutex
	scripts  []script
	requests []proto.Request
	streams  []*scriptedStream
}

func (c *scriptedClient) Request(_ context.Context, req proto.Request) stream.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	st := &scriptedStream{pos: -1}
	if len(c.scripts) > 0 {
		st.script = c.scripts[0]
		c.scripts = c.scripts[1:]
	} else {
		st.script = script{err: errors.New("no more scripted generations")}
	}
	c.streams = append(c.streams, st)
	return st
}

// lastUser returns the user message of request i.
func (c *scriptedClient) lastUser(i int) string {
	msgs := c.requests[i].Messages
	return msgs[len(msgs)-1].Content
}

type scriptedStream struct {
	script script
	pos    int
	closed bool
}

func (s *scriptedStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.script.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptedStream) Current() (proto.Chunk, error) {
	if s.pos < 0 || s.pos >= len(s.script.chunks) {
		return proto.Chunk{}, stream.ErrNoContent
	}
	return proto.Chunk{Content: s.script.chunks[s.pos]}, nil
}

func (s *scriptedStream) Err() error              { return s.script.err }
func (s *scriptedStream) Close() error            { s.closed = true; return nil }
func (s *scriptedStream) DrainWarnings() []string { return nil }

// fakeTools is a tool registry double.
type fakeTools struct {
	tools []mcp.Tool
	call  func(name string, args map[string]any) (string, error)
	calls []string
}

func (f *fakeTools) Tools() []mcp.Tool { return f.tools }

func (f *fakeTools) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	return f.call(name, args)
}

type fakeRetriever struct {
	passages []retrieval.Passage
	err      error
	queries  []string
}

func (f *fakeRetriever) Search(_ context.Context, query string, _ int) ([]retrieval.Passage, error) {
	f.queries = append(f.queries, query)
	return f.passages, f.err
}

// screen is a sink that keeps what the user sees.
type screen struct {
	text     string
	retracts int
}

func (s *screen) Forward(chunk string) error {
	s.text += chunk
	return nil
}

func (s *screen) Retract(shown, visible string) error {
	if len(s.text) < len(shown) || s.text[len(s.text)-len(shown):] != shown {
		panic("retracting text that is not on screen")
	}
	s.retracts++
	s.text = s.text[:len(s.text)-len(shown)] + visible
	return nil
}

var csiRe = regexp.MustCompile(`^\x1b\[(\d*)([A-Za-z])`)

// terminal replays what a TerminalSink writes: printable runes, newlines,
// carriage returns and the cursor and erase sequences it emits.
type terminal struct {
	lines    [][]rune
	row, col int
}

func (t *terminal) Write(p []byte) (int, error) {
	s := string(p)
	for s != "" {
		if m := csiRe.FindStringSubmatch(s); m != nil {
			n := 1
			if m[1] != "" {
				n, _ = strconv.Atoi(m[1])
			}
			t.control(m[2], n)
			s = s[len(m[0]):]
			continue
		}
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		t.put(r)
	}
	return len(p), nil
}

func (t *terminal) control(op string, n int) {
	switch op {
	case "A":
		t.row = max(0, t.row-n)
	case "D":
		t.col = max(0, t.col-n)
	case "K":
		t.line()
		t.lines[t.row] = t.lines[t.row][:min(t.col, len(t.lines[t.row]))]
	case "J":
		t.line()
		t.lines[t.row] = t.lines[t.row][:min(t.col, len(t.lines[t.row]))]
		t.lines = t.lines[:t.row+1]
	default:
		panic("unexpected control sequence " + op)
	}
}

func (t *terminal) line() {
	for len(t.lines) <= t.row {
		t.lines = append(t.lines, nil)
	}
}

func (t *terminal) put(r rune) {
	switch r {
	case '\n':
		t.row++
		t.col = 0
		t.line()
		return
	case '\r':
		t.col = 0
		return
	}
	t.line()
	for len(t.lines[t.row]) < t.col {
		t.lines[t.row] = append(t.lines[t.row], ' ')
	}
	if t.col < len(t.lines[t.row]) {
		t.lines[t.row][t.col] = r
	} else {
		t.lines[t.row] = append(t.lines[t.row], r)
	}
	t.col++
}

// String is the screen content, one line per row.
func (t *terminal) String() string {
	rows := make([]string, len(t.lines))
	for i, l := range t.lines {
		rows[i] = string(l)
	}
	return strings.Join(rows, "\n")
}

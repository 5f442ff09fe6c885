package toolcall

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Mode tells whether chunks are being shown.
type Mode int

const (
	// Live forwards every chunk to the sink.
	Live Mode = iota
	// Suspended holds chunks back: a call is being written.
	Suspended
)

func (m Mode) String() string {
	if m == Suspended {
		return "suspended"
	}
	return "live"
}

// ErrCallTooLarge is returned by Feed once the text after the marker exceeds
// the configured cap.
var ErrCallTooLarge = errors.New("tool call exceeds size limit")

// State tracks one generation segment.
//
// A State belongs to a single turn and must not be fed from two goroutines.
type State struct {
	parser   *Parser
	sink     Sink
	maxBytes int

	mode     Mode
	buf      strings.Builder
	markerAt int
	visible  string
}

// NewState returns a live, empty state. A maxBytes of zero or less disables
// the cap on call text.
func NewState(parser *Parser, sink Sink, maxBytes int) *State {
	s := &State{parser: parser, sink: sink, maxBytes: maxBytes}
	s.Reset()
	return s
}

// Reset returns the state to live with an empty buffer.
func (s *State) Reset() {
	s.mode = Live
	s.buf.Reset()
	s.markerAt = -1
	s.visible = ""
}

// Mode returns the current mode.
func (s *State) Mode() Mode { return s.mode }

// Text returns everything fed since the last reset.
func (s *State) Text() string { return s.buf.String() }

// Visible returns the text the user sees for this segment: everything when
// live, or the text before the marker once suspended.
func (s *State) Visible() string {
	if s.mode == Suspended {
		return s.visible
	}
	return s.buf.String()
}

// Feed appends a chunk.
//
// While live the chunk is forwarded unchanged. The chunk that completes the
// marker switches the state to suspended, and the shown text is retracted to
// the prefix before the marker. Suspended chunks are only buffered.
func (s *State) Feed(chunk string) error {
	if s.mode == Suspended {
		s.buf.WriteString(chunk)
		if s.maxBytes > 0 && s.buf.Len()-s.markerAt > s.maxBytes {
			return fmt.Errorf("%w: %d bytes", ErrCallTooLarge, s.buf.Len()-s.markerAt)
		}
		return nil
	}

	marker := s.parser.Marker()
	shown := s.buf.Len()
	s.buf.WriteString(chunk)
	text := s.buf.String()

	// A marker split across chunks starts at most len(marker)-1 bytes back.
	from := max(0, shown-len(marker)+1)
	i := strings.Index(text[from:], marker)
	if i < 0 {
		return s.sink.Forward(chunk)
	}

	s.mode = Suspended
	s.markerAt = from + i
	s.visible = strings.TrimRightFunc(text[:s.markerAt], unicode.IsSpace)
	if err := s.sink.Retract(text[:shown], s.visible); err != nil {
		return err
	}
	if s.maxBytes > 0 && s.buf.Len()-s.markerAt > s.maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrCallTooLarge, s.buf.Len()-s.markerAt)
	}
	return nil
}

// Ready reports whether a complete call has been buffered, so the rest of
// the generation is not needed.
func (s *State) Ready() bool {
	if s.mode != Suspended {
		return false
	}
	_, ok := s.parser.complete(s.buf.String()[s.markerAt:])
	return ok
}

// Call extracts the call from the buffered text. It reports false when live,
// or when the marker is not followed by a call.
func (s *State) Call() (Call, bool) {
	if s.mode != Suspended {
		return Call{}, false
	}
	return s.parser.Parse(s.buf.String()[s.markerAt:])
}

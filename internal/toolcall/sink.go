package toolcall

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// Sink receives the visible side of a generation.
//
// A sink serves one turn. Segments of the turn follow each other on the
// same sink, so a retraction may land on a line an earlier segment began.
type Sink interface {
	// Forward shows a chunk as it arrives.
	Forward(chunk string) error
	// Retract replaces the text shown so far in this segment, shown, with
	// visible. It is called once per segment, when a call marker is detected.
	Retract(shown, visible string) error
}

// TerminalSink writes to a terminal and retracts with cursor movement.
type TerminalSink struct {
	w io.Writer
	// text is everything on screen for the turn.
	text string
}

// NewTerminalSink returns a sink writing to w.
func NewTerminalSink(w io.Writer) *TerminalSink {
	return &TerminalSink{w: w}
}

func (t *TerminalSink) Forward(chunk string) error {
	t.text += chunk
	_, err := io.WriteString(t.w, chunk)
	return err //nolint:wrapcheck
}

func (t *TerminalSink) Retract(shown, visible string) error {
	prior := before(t.text, shown)
	keep := commonPrefix(shown, visible)
	tail := shown[keep:]

	var sb strings.Builder
	if lines := strings.Count(tail, "\n"); lines > 0 {
		// Back to the start of the line where the tail began, then redraw
		// that line, including what earlier segments left on it.
		sb.WriteString(ansi.CursorUp(lines))
		sb.WriteString("\r")
		sb.WriteString(ansi.EraseScreenBelow)
		sb.WriteString(lastLine(prior + shown[:keep]))
	} else if w := ansi.StringWidth(tail); w > 0 {
		sb.WriteString(ansi.CursorBackward(w))
		sb.WriteString(ansi.EraseLineRight)
	}
	sb.WriteString(visible[keep:])
	t.text = prior + visible

	if _, err := io.WriteString(t.w, sb.String()); err != nil {
		return fmt.Errorf("retract: %w", err)
	}
	return nil
}

// PlainSink never retracts: it writes whole lines only and holds back the
// unterminated last line and any trailing whitespace, so a detected call's
// text can be dropped before it is written. It is used when output is not a
// terminal.
type PlainSink struct {
	w    io.Writer
	text string
	// written is how much of text has reached w.
	written int
}

// NewPlainSink returns a sink writing to w.
func NewPlainSink(w io.Writer) *PlainSink {
	return &PlainSink{w: w}
}

func (p *PlainSink) Forward(chunk string) error {
	p.text += chunk
	end := min(
		strings.LastIndexByte(p.text, '\n')+1,
		len(strings.TrimRightFunc(p.text, unicode.IsSpace)),
	)
	if end <= p.written {
		return nil
	}
	if _, err := io.WriteString(p.w, p.text[p.written:end]); err != nil {
		return err //nolint:wrapcheck
	}
	p.written = end
	return nil
}

func (p *PlainSink) Retract(shown, visible string) error {
	p.text = before(p.text, shown) + visible
	p.written = min(p.written, len(p.text))
	return nil
}

// Flush writes any held back text.
func (p *PlainSink) Flush() error {
	if p.written == len(p.text) {
		return nil
	}
	_, err := io.WriteString(p.w, p.text[p.written:])
	p.written = len(p.text)
	return err //nolint:wrapcheck
}

// before returns what was shown ahead of the segment text shown.
func before(text, shown string) string {
	if !strings.HasSuffix(text, shown) {
		return ""
	}
	return text[:len(text)-len(shown)]
}

func lastLine(s string) string {
	return s[strings.LastIndexByte(s, '\n')+1:]
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	// Never split a multi-byte rune.
	for i > 0 && i < len(a) && !isRuneStart(a[i]) {
		i--
	}
	return i
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

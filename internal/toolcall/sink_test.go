package toolcall

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/require"
)

// screen is a Sink that keeps what a user would be looking at.
type screen struct {
	text     string
	forwards []string
	retracts int
}

func (s *screen) Forward(chunk string) error {
	s.forwards = append(s.forwards, chunk)
	s.text += chunk
	return nil
}

func (s *screen) Retract(shown, visible string) error {
	if shown != s.text {
		panic("retract of text that was never shown: " + shown)
	}
	s.retracts++
	s.text = visible
	return nil
}

func TestTerminalSinkRetract(t *testing.T) {
	for name, tc := range map[string]struct {
		shown   string
		visible string
		want    string
	}{
		"partial marker on the same line": {
			shown:   "Let me check. [[",
			visible: "Let me check.",
			want:    ansi.CursorBackward(3) + ansi.EraseLineRight,
		},
		"wide runes are measured in cells": {
			shown:   "ok 天気",
			visible: "ok",
			want:    ansi.CursorBackward(5) + ansi.EraseLineRight,
		},
		"marker not yet shown": {
			shown:   "Let me",
			visible: "Let me check.",
			want:    " check.",
		},
		"tail spans lines": {
			shown:   "First line.\nSecond\n\n",
			visible: "First line.\nSecond",
			want:    ansi.CursorUp(2) + "\r" + ansi.EraseScreenBelow + "Second",
		},
		"whitespace held back": {
			shown:   "Sure.\n",
			visible: "Sure.",
			want:    ansi.CursorUp(1) + "\r" + ansi.EraseScreenBelow + "Sure.",
		},
		"nothing shown": {
			shown:   "",
			visible: "",
			want:    "",
		},
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewTerminalSink(&buf).Retract(tc.shown, tc.visible))
			require.Equal(t, tc.want, buf.String())
		})
	}
}

func TestPlainSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewPlainSink(&buf)

	require.NoError(t, sink.Forward("Sure.\nLet me "))
	require.Equal(t, "Sure.\n", buf.String())
	require.NoError(t, sink.Forward("check. ⚡"))
	require.NoError(t, sink.Retract("Sure.\nLet me check. ⚡", "Sure.\nLet me check."))
	require.NoError(t, sink.Flush())
	require.Equal(t, "Sure.\nLet me check.", buf.String())
	require.False(t, strings.Contains(buf.String(), "⚡"))
}

// One sink serves every segment of a turn, so a later segment retracts on
// a line an earlier segment started.
func TestSinkRetractAfterEarlierSegment(t *testing.T) {
	t.Run("terminal", func(t *testing.T) {
		var buf bytes.Buffer
		sink := NewTerminalSink(&buf)

		require.NoError(t, sink.Forward("Let me check."))
		require.NoError(t, sink.Forward(" Rome is 21°C.\n"))
		buf.Reset()
		require.NoError(t, sink.Retract(" Rome is 21°C.\n", " Rome is 21°C."))
		require.Equal(t, ansi.CursorUp(1)+"\r"+ansi.EraseScreenBelow+"Let me check. Rome is 21°C.", buf.String())

		buf.Reset()
		require.NoError(t, sink.Forward(" Done. [["))
		require.NoError(t, sink.Retract(" Done. [[", " Done."))
		require.Equal(t, " Done. [["+ansi.CursorBackward(3)+ansi.EraseLineRight, buf.String())
	})

	t.Run("plain", func(t *testing.T) {
		var buf bytes.Buffer
		sink := NewPlainSink(&buf)

		require.NoError(t, sink.Forward("Sure.\nLet me check. "))
		require.NoError(t, sink.Retract("Sure.\nLet me check. ", "Sure.\nLet me check."))
		require.NoError(t, sink.Forward(" Rome is 21°C.\n\n"))
		require.NoError(t, sink.Retract(" Rome is 21°C.\n\n", " Rome is 21°C."))
		require.NoError(t, sink.Forward(" Done."))
		require.NoError(t, sink.Flush())
		require.Equal(t, "Sure.\nLet me check. Rome is 21°C. Done.", buf.String())
	})
}

func TestCommonPrefix(t *testing.T) {
	require.Equal(t, 3, commonPrefix("abcd", "abx"))
	require.Equal(t, 0, commonPrefix("", "abc"))
	// "é" and "è" share their first byte.
	require.Equal(t, 1, commonPrefix("aé", "aè"))
}

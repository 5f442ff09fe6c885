// Package present renders gizmo's terminal output: styles, the banner,
// markdown transcripts and the tool spinner.
package present

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var isInputTTY = sync.OnceValue(func() bool { return IsTerminal(os.Stdin) })

// IsInputTTY reports whether stdin is a TTY.
func IsInputTTY() bool { return isInputTTY() }

var isOutputTTY = sync.OnceValue(func() bool { return IsTerminal(os.Stdout) })

// IsOutputTTY reports whether stdout is a TTY.
func IsOutputTTY() bool { return isOutputTTY() }

var stdoutStyles = sync.OnceValue(func() Styles {
	return MakeStyles(lipgloss.DefaultRenderer())
})

// StdoutStyles returns shared styles bound to stdout.
func StdoutStyles() Styles { return stdoutStyles() }

var stderrRenderer = sync.OnceValue(func() *lipgloss.Renderer {
	return lipgloss.NewRenderer(os.Stderr, termenv.WithColorCache(true))
})

var stderrStyles = sync.OnceValue(func() Styles {
	return MakeStyles(stderrRenderer())
})

// StderrStyles returns shared styles bound to stderr.
func StderrStyles() Styles { return stderrStyles() }

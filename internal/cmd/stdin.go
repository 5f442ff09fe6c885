package cmd

import (
	"io"
	"os"

	"github.com/dotcommander/gizmo/internal/present"
)

// drainStdin discards piped input so the writer side never blocks on a
// command that does not read it.
func drainStdin() {
	if present.IsInputTTY() {
		return
	}
	_, _ = io.Copy(io.Discard, os.Stdin)
}

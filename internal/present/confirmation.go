package present

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var outputHeader = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#F1F1F1")).
	Background(lipgloss.Color("#6C50FF")).
	Bold(true).
	Padding(0, 1).
	MarginRight(1)

// PrintConfirmation prints an action badge followed by content, e.g. after
// a document was added.
func PrintConfirmation(w io.Writer, action, content string) {
	header := outputHeader.Render(strings.ToUpper(action))
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Center, header, content))
}

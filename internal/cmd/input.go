package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/dotcommander/gizmo/internal/present"
)

// lineReader yields the user's next line. io.EOF ends the chat.
type lineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// scanReader reads newline separated prompts, e.g. from a pipe.
type scanReader struct {
	sc *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanReader{sc: sc}
}

func (s *scanReader) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err //nolint:wrapcheck
	}
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return "", io.EOF
}

// formReader asks for each line with a huh input and echoes it, since the
// form clears itself when submitted.
type formReader struct {
	theme  *huh.Theme
	out    io.Writer
	styles present.Styles
}

func (f *formReader) ReadLine(ctx context.Context) (string, error) {
	var line string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(userHeading).
			Placeholder("Ask anything, /help for commands").
			Value(&line),
	)).
		WithTheme(f.theme).
		WithShowHelp(false).
		RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	fmt.Fprintf(f.out, "\n%s\n%s\n", f.styles.Prompt.Render(userHeading), line)
	return line, nil
}

// pickDocument lets the user browse for a file to add.
func pickDocument(theme *huh.Theme) func() (string, error) {
	return func() (string, error) {
		var path string
		err := huh.NewForm(huh.NewGroup(
			huh.NewFilePicker().
				Title("📄 Pick a document").
				AllowedTypes(documentTypes).
				Picking(true).
				Value(&path),
		)).WithTheme(theme).Run()
		if err != nil {
			return "", fmt.Errorf("pick document: %w", err)
		}
		return path, nil
	}
}

var documentTypes = []string{
	".txt", ".md", ".csv", ".json", ".yaml", ".yml", ".xml", ".ini", ".log",
	".py", ".js", ".ts", ".java", ".c", ".cpp", ".cs", ".html", ".htm",
	".css", ".scss", ".go", ".rs", ".rb", ".php", ".sh", ".bat", ".toml",
}

func themeFrom(theme string) *huh.Theme {
	switch theme {
	case "dracula":
		return huh.ThemeDracula()
	case "catppuccin":
		return huh.ThemeCatppuccin()
	case "base16":
		return huh.ThemeBase16()
	default:
		return huh.ThemeCharm()
	}
}

package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	maxPromptBytes = 2 * 1024 * 1024
	promptTimeout  = 10 * time.Second
)

// ErrEmptyPrompt is returned when a system prompt source resolves to blank
// text.
var ErrEmptyPrompt = errors.New("system prompt is empty")

// ReadSystemPrompt resolves the system setting into prompt text.
//
// The setting is inline text, an http(s) URL or a file:// path; a leading ~
// in the path is expanded. Markdown sources, by extension or by content
// type, lose their YAML frontmatter. Text read from a source is trimmed and
// must not be blank.
func ReadSystemPrompt(ctx context.Context, setting string) (string, error) {
	var (
		src promptSource
		err error
	)
	switch {
	case strings.HasPrefix(setting, "https://"), strings.HasPrefix(setting, "http://"):
		src, err = fetchPrompt(ctx, setting)
	case strings.HasPrefix(setting, "file://"):
		src, err = readPromptFile(ExpandPath(strings.TrimPrefix(setting, "file://")))
	default:
		return setting, nil
	}
	if err != nil {
		return "", err
	}

	text := string(src.body)
	if src.markdown {
		if text, err = StripYAMLFrontmatter(text); err != nil {
			return "", fmt.Errorf("%s: %w", src.name, err)
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", src.name, ErrEmptyPrompt)
	}
	return text, nil
}

type promptSource struct {
	name     string
	body     []byte
	markdown bool
}

func fetchPrompt(ctx context.Context, rawURL string) (promptSource, error) {
	ctx, cancel := context.WithTimeout(ctx, promptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return promptSource{}, fmt.Errorf("fetch system prompt: %w", err)
	}
	req.Header.Set("Accept", "text/markdown, text/plain;q=0.9, */*;q=0.1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return promptSource{}, fmt.Errorf("fetch system prompt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bts, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return promptSource{}, fmt.Errorf("fetch system prompt: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(bts)))
	}
	body, err := readLimited(resp.Body)
	if err != nil {
		return promptSource{}, fmt.Errorf("fetch system prompt %s: %w", rawURL, err)
	}

	markdown := false
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		markdown = mt == "text/markdown"
	}
	if u, err := url.Parse(rawURL); err == nil {
		markdown = markdown || isMarkdown(path.Ext(u.Path))
	}
	return promptSource{name: rawURL, body: body, markdown: markdown}, nil
}

func readPromptFile(name string) (promptSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return promptSource{}, fmt.Errorf("read system prompt file: %w", err)
	}
	defer func() { _ = f.Close() }()
	body, err := readLimited(f)
	if err != nil {
		return promptSource{}, fmt.Errorf("read system prompt file %s: %w", name, err)
	}
	return promptSource{name: name, body: body, markdown: isMarkdown(filepath.Ext(name))}, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	bts, err := io.ReadAll(io.LimitReader(r, maxPromptBytes+1))
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if len(bts) > maxPromptBytes {
		return nil, fmt.Errorf("larger than %d bytes", maxPromptBytes)
	}
	return bts, nil
}

func isMarkdown(ext string) bool {
	return strings.EqualFold(ext, ".md") || strings.EqualFold(ext, ".markdown")
}

// StripYAMLFrontmatter removes a leading YAML frontmatter block from
// markdown. Content without one is returned as is.
func StripYAMLFrontmatter(content string) (string, error) {
	rest, ok := cutDelimiter(content)
	if !ok {
		return content, nil
	}
	var front bytes.Buffer
	for {
		line, next, found := strings.Cut(rest, "\n")
		if strings.TrimSpace(line) == "---" {
			var parsed map[string]any
			if err := yaml.Unmarshal(front.Bytes(), &parsed); err != nil {
				return "", fmt.Errorf("invalid markdown frontmatter: %w", err)
			}
			return strings.TrimLeft(next, "\r\n"), nil
		}
		if !found {
			return "", errors.New("invalid markdown frontmatter: missing closing delimiter")
		}
		front.WriteString(line)
		front.WriteByte('\n')
		rest = next
	}
}

// cutDelimiter reports whether content opens with a --- line and returns
// what follows it.
func cutDelimiter(content string) (string, bool) {
	first, rest, found := strings.Cut(strings.TrimPrefix(content, "\ufeff"), "\n")
	if !found || strings.TrimSpace(first) != "---" {
		return content, false
	}
	return rest, true
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(name string) string {
	rest, ok := strings.CutPrefix(name, "~")
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		return name
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, rest)
}

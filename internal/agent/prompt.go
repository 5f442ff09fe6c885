package agent

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/dotcommander/gizmo/internal/mcp"
	"github.com/dotcommander/gizmo/internal/retrieval"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"schema": func(v map[string]any) string {
		bts, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(bts)
	},
}).ParseFS(promptFS, "prompts/*.tmpl"))

const toolFailure = "The tool call failed with error: %s. Suggest alternatives."

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ToolPrompt tells the model which tools exist and how to call them. It is
// empty when there are no tools.
func ToolPrompt(marker string, tools []mcp.Tool) (string, error) {
	if len(tools) == 0 {
		return "", nil
	}
	return render("tools.tmpl", struct {
		Marker string
		Tools  []mcp.Tool
	}{marker, tools})
}

func continuationPrompt(question, partial, result string) (string, error) {
	return render("continuation.tmpl", struct {
		Question, Partial, Result string
	}{question, partial, result})
}

func contextPrompt(question string, passages []retrieval.Passage) (string, error) {
	return render("context.tmpl", struct {
		Question string
		Passages []retrieval.Passage
	}{question, passages})
}

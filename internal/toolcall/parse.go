// Package toolcall detects inline tool calls in streamed model output.
//
// A call is written as the marker immediately followed by
// name({...json arguments...}).
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Call is a tool invocation extracted from generated text.
type Call struct {
	Name string
	Args map[string]any
	// Raw is the matched call text including the marker.
	Raw string
}

// Parser extracts calls written with one marker.
type Parser struct {
	marker string
	full   *regexp.Regexp
	head   *regexp.Regexp
}

// NewParser returns a parser for marker.
func NewParser(marker string) *Parser {
	quoted := regexp.QuoteMeta(marker)
	return &Parser{
		marker: marker,
		full:   regexp.MustCompile(`(?s)` + quoted + `([a-zA-Z0-9_-]+)\s*\((\{.*?\})\)`),
		head:   regexp.MustCompile(quoted + `([a-zA-Z0-9_-]+)\s*\(`),
	}
}

// Marker returns the marker literal.
func (p *Parser) Marker() string { return p.marker }

// Parse returns the first call in text.
//
// Arguments that are not a valid JSON object come back empty. A call whose
// argument list never closes still yields its name with empty arguments.
func (p *Parser) Parse(text string) (Call, bool) {
	if call, ok := p.complete(text); ok {
		return call, true
	}
	m := p.head.FindStringSubmatch(text)
	if m == nil {
		return Call{}, false
	}
	return Call{Name: m[1], Args: map[string]any{}, Raw: text[strings.Index(text, m[0]):]}, true
}

// complete only matches calls whose argument object is closed.
func (p *Parser) complete(text string) (Call, bool) {
	m := p.full.FindStringSubmatch(text)
	if m == nil {
		return Call{}, false
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(m[2]), &args); err != nil || args == nil {
		args = map[string]any{}
	}
	return Call{Name: m[1], Args: args, Raw: m[0]}, true
}

// Strip removes every call, and any stray marker, from text.
func (p *Parser) Strip(text string) string {
	text = p.full.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, p.marker, "")
}

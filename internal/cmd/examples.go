package cmd

import (
	"math/rand/v2"
	"regexp"
	"slices"

	"github.com/dotcommander/gizmo/internal/present"
)

var examples = map[string]string{
	"Ask one question and let the model use your tools": `gizmo "what changed in the last three commits of ~/src/gizmo?"`,
	"Answer from your own notes":                        `gizmo docs add notes.md && gizmo --retrieval "when is the offsite?"`,
	"Talk it through, out loud":                         `gizmo --voice --no-intro`,
	"Reread yesterday's chat":                           `gizmo history show --last | glow`,
}

func randomExample() string {
	keys := make([]string, 0, len(examples))
	for k := range examples {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys[rand.IntN(len(keys))] //nolint:gosec
}

var (
	quotedRe   = regexp.MustCompile(`"([^"\\]|\\.)*"`)
	operatorRe = regexp.MustCompile(`\||&&`)
	flagRe     = regexp.MustCompile(`(^|\s)(--?[a-z][a-z-]*)`)
)

// highlightExample colors quoted strings, flags and shell operators.
func highlightExample(s present.Styles, code string) string {
	code = flagRe.ReplaceAllStringFunc(code, s.Flag.Render)
	code = quotedRe.ReplaceAllStringFunc(code, s.InlineCode.Render)
	return operatorRe.ReplaceAllStringFunc(code, s.Comment.Render)
}

package agent

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"charm.land/fantasy"
	"github.com/charmbracelet/x/exp/ordered"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
)

// StreamErrorAction describes how a failed generation should be handled.
type StreamErrorAction struct {
	Retry  bool
	Prompt string
	Err    errs.Error
}

// ActionForStreamError decides whether a provider error should be retried,
// and with which prompt.
func ActionForStreamError(err error, mod config.Model, prompt string) StreamErrorAction {
	var perr *fantasy.ProviderError
	if !errors.As(err, &perr) {
		return StreamErrorAction{Err: errs.Wrapf(err, "There was a problem with the %s API request.", mod.API)}
	}

	title := fantasy.ErrorTitleForStatusCode(perr.StatusCode)
	switch {
	case perr.StatusCode == http.StatusNotFound:
		return StreamErrorAction{Err: errs.Wrapf(perr, "Missing model '%s' for API '%s'.", mod.Name, mod.API)}
	case perr.StatusCode == http.StatusBadRequest && contextLengthExceeded(perr):
		return StreamErrorAction{
			Retry:  true,
			Prompt: cutPrompt(perr.Error(), prompt),
			Err:    errs.Wrap(perr, "Maximum prompt size exceeded."),
		}
	case perr.StatusCode != http.StatusBadRequest && perr.IsRetryable():
		return StreamErrorAction{
			Retry:  true,
			Prompt: prompt,
			Err:    errs.Wrap(perr, ordered.First(title, "Retryable API error.")),
		}
	}
	return StreamErrorAction{Err: errs.Wrap(perr, ordered.First(title, fmt.Sprintf("%s API request error.", mod.API)))}
}

func contextLengthExceeded(err *fantasy.ProviderError) bool {
	const code = "context_length_exceeded"
	return strings.Contains(strings.ToLower(err.Message), code) ||
		strings.Contains(strings.ToLower(string(err.ResponseBody)), code)
}

var tokenErrRe = regexp.MustCompile(`maximum context length is (\d+) tokens. However, your messages resulted in (\d+) tokens`)

// cutPrompt shortens prompt by the overflow the provider reported, at about
// four bytes per token plus a small margin. The cut never splits a rune.
func cutPrompt(msg, prompt string) string {
	m := tokenErrRe.FindStringSubmatch(msg)
	if len(m) != 3 { //nolint:mnd
		return prompt
	}
	limit, _ := strconv.Atoi(m[1])
	used, _ := strconv.Atoi(m[2])
	if limit > used {
		return prompt
	}

	over := 10 + (used-limit)*4 //nolint:mnd
	if len(prompt) <= over {
		return prompt
	}
	cut := len(prompt) - over
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut]
}

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/present"
)

func handleError(err error) {
	drainStdin()
	printError(os.Stderr, present.StderrStyles(), err)
}

func printError(w io.Writer, s present.Styles, err error) {
	format := "\n%s\n\n"

	var ferr flagParseError
	if errors.As(err, &ferr) {
		fmt.Fprintf(w, format+"%s\n\n",
			fmt.Sprintf("Check out %s %s", s.InlineCode.Render("gizmo -h"), s.Comment.Render("for help.")),
			fmt.Sprintf(ferr.ReasonFormat(), s.InlineCode.Render(ferr.Flag())),
		)
		return
	}

	var gerr errs.Error
	if errors.As(err, &gerr) {
		args := []any{s.ErrPadding.Render(s.ErrorHeader.String(), gerr.Reason)}
		if !errors.Is(gerr.Err, huh.ErrUserAborted) && gerr.Err != nil {
			format += "%s\n\n"
			args = append(args, s.ErrPadding.Render(s.ErrorDetails.Render(gerr.Err.Error())))
		}
		fmt.Fprintf(w, format, args...)
		return
	}

	fmt.Fprintf(w, format, s.ErrPadding.Render(s.ErrorDetails.Render(err.Error())))
}

// flagParseError is a cobra flag error rewritten for humans.
type flagParseError struct {
	err    error
	reason string
	flag   string
}

func (f flagParseError) Error() string        { return f.err.Error() }
func (f flagParseError) ReasonFormat() string { return f.reason }
func (f flagParseError) Flag() string         { return f.flag }

var (
	shorthandFlagRe   = regexp.MustCompile(`unknown shorthand flag: '.*' in (-\w)`)
	invalidArgumentRe = regexp.MustCompile(`invalid argument ".*" for "(.*)" flag: .*`)
)

func newFlagParseError(err error) flagParseError {
	msg := err.Error()
	fields := strings.Fields(msg)
	last := ""
	if len(fields) > 0 {
		last = fields[len(fields)-1]
	}

	var reason, flag string
	switch {
	case strings.HasPrefix(msg, "flag needs an argument:"):
		reason, flag = "Flag %s needs an argument.", last
	case strings.HasPrefix(msg, "unknown flag:"):
		reason, flag = "Flag %s is missing.", last
	case strings.HasPrefix(msg, "unknown shorthand flag:"):
		reason = "Short flag %s is missing."
		if m := shorthandFlagRe.FindStringSubmatch(msg); len(m) > 1 {
			flag = m[1]
		}
	case strings.HasPrefix(msg, "invalid argument"):
		reason = "Flag %s have an invalid argument."
		if m := invalidArgumentRe.FindStringSubmatch(msg); len(m) > 1 {
			flag = m[1]
		}
	default:
		reason = msg
	}
	return flagParseError{err: err, reason: reason, flag: flag}
}

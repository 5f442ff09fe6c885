package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/charmbracelet/x/ansi"
	xstrings "github.com/charmbracelet/x/exp/strings"

	"github.com/dotcommander/gizmo/internal/agent"
	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/present"
	"github.com/dotcommander/gizmo/internal/retrieval"
	"github.com/dotcommander/gizmo/internal/storage"
	"github.com/dotcommander/gizmo/internal/toolcall"
	"github.com/dotcommander/gizmo/internal/voice"
)

const (
	assistantHeading = "ʕ•ᴥ•ʔ Gizmo"
	userHeading      = "(•ᴗ•) You"
)

var chatHelp = [][2]string{
	{"/tools", "list the tools the model can call"},
	{"/file [path]", "add a document to answer from"},
	{"/copy", "copy the last answer"},
	{"/reset", "forget the conversation so far"},
	{"/exit", "leave (so do the exit words)"},
}

// chat is the interactive loop: it reads lines, runs turns and handles
// slash commands. Optional collaborators are nil when disabled.
type chat struct {
	cfg     *config.Config
	svc     *agent.Service
	tools   agent.Tools
	docs    *retrieval.Store
	history *storage.Log
	speaker *voice.Speaker
	log     *slog.Logger

	in     lineReader
	out    io.Writer
	status io.Writer
	styles present.Styles
	// tty is set when out is a terminal that understands cursor movement.
	tty bool
	// fancy allows the spinner on status.
	fancy bool

	pick  func() (string, error)
	clip  func(string) error
	spin  *present.Spinner
	sink  *trackingSink
	last  agent.TurnResult
	model string

	session string
}

// hooks connects the turn observers to the chat output.
func (c *chat) hooks() agent.Hooks {
	return agent.Hooks{
		ToolStart: c.toolStarted,
		ToolDone:  c.toolDone,
		Warning: func(msg string) {
			c.log.Warn("generation warning", "msg", msg)
		},
	}
}

func (c *chat) run(ctx context.Context, prompt string) error {
	if prompt != "" {
		return c.turn(ctx, prompt, false)
	}

	if !c.cfg.Quiet {
		fmt.Fprintln(c.out, present.Banner(c.styles))
	}
	if c.cfg.Intro && !c.cfg.NoIntro {
		if err := c.turn(ctx, "", true); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			printError(c.status, c.styles, err)
		}
	}

	for {
		line, err := c.in.ReadLine(ctx)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errs.Wrap(err, "Could not read your input.")
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case c.isExitWord(line):
			return nil
		case strings.HasPrefix(line, "/"):
			quit, err := c.command(ctx, line)
			if err != nil {
				printError(c.status, c.styles, err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := c.turn(ctx, line, false); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			printError(c.status, c.styles, err)
		}
	}
}

func (c *chat) isExitWord(line string) bool {
	return slices.ContainsFunc(c.cfg.ExitWords, func(w string) bool {
		return strings.EqualFold(strings.TrimSpace(w), line)
	})
}

func (c *chat) turn(ctx context.Context, prompt string, intro bool) error {
	if !c.cfg.Quiet {
		fmt.Fprintf(c.out, "\n%s\n", c.styles.AppName.Render(assistantHeading))
	}

	c.sink = newTrackingSink(c.out, c.tty)
	var (
		res agent.TurnResult
		err error
	)
	if intro {
		res, err = c.svc.Intro(ctx, c.sink)
	} else {
		res, err = c.svc.Turn(ctx, prompt, c.sink)
	}
	c.stopSpinner()
	if ferr := c.sink.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("write output: %w", ferr)
	}
	fmt.Fprintln(c.out)
	if err != nil {
		return err
	}

	if res.Truncated && !c.cfg.Quiet {
		fmt.Fprintln(c.status, c.styles.Comment.Render(
			fmt.Sprintf("Stopped after %d tool calls.", len(res.Calls))))
	}
	if len(res.Sources) > 0 {
		fmt.Fprintln(c.out, c.styles.Source.Render("Sources: "+strings.Join(res.Sources, ", ")))
	}
	c.last = res

	if c.speaker != nil {
		if err := c.speaker.Say(voice.Clean(res.Text, c.svc.Parser().Strip)); err != nil {
			c.log.Debug("speech skipped", "err", err)
		}
	}
	if !intro {
		c.record(res)
	}
	return nil
}

// resume continues a recorded session: its turns become the remembered
// conversation and new turns are appended to it. An empty in picks the
// latest session.
func (c *chat) resume(in string) error {
	if c.history == nil {
		return errs.Error{Reason: "Transcripts are unavailable, so there is nothing to continue."}
	}
	session, err := findSession(c.history, in)
	if err != nil {
		return errs.Wrap(err, "Could not find the session to continue.")
	}
	convo, err := c.history.Conversation(session.ID)
	if err != nil {
		return errs.Wrap(err, "Could not read the session to continue.")
	}
	c.svc.Restore(convo)
	c.session = session.ID
	c.cfg.NoIntro = true
	if !c.cfg.Quiet {
		fmt.Fprintln(c.status, c.styles.Comment.Render(
			fmt.Sprintf("Continuing %s (%d turns).", session.Title, session.Turns)))
	}
	return nil
}

func (c *chat) record(res agent.TurnResult) {
	if c.history == nil {
		return
	}
	turn := storage.Turn{
		Prompt:    res.Prompt,
		Answer:    res.Text,
		Sources:   res.Sources,
		Truncated: res.Truncated,
	}
	for _, call := range res.Calls {
		tc := storage.ToolCall{Name: call.Name, Args: call.Args, Result: call.Result}
		if call.Err != nil {
			tc.Error = call.Err.Error()
		}
		turn.Calls = append(turn.Calls, tc)
	}
	if err := c.history.Record(c.session, c.cfg.API, c.model, turn); err != nil {
		c.log.Warn("could not record turn", "err", err)
	}
}

func (c *chat) toolStarted(call toolcall.Call) {
	c.log.Debug("tool call", "tool", call.Name, "args", call.Args)
	if !c.fancy || c.cfg.Quiet {
		return
	}
	if c.tty {
		// The spinner gets its own line below the answer.
		fmt.Fprint(c.status, "\n")
	}
	c.spin = present.StartSpinner(c.status, call.Name, c.styles)
}

func (c *chat) toolDone(call agent.ToolCall) {
	if call.Err != nil {
		c.log.Warn("tool call failed", "tool", call.Name, "err", call.Err)
	}
	if c.spin == nil {
		return
	}
	c.stopSpinner()
	if c.tty && c.sink != nil {
		fmt.Fprint(c.status, ansi.CursorUp(1)+ansi.CursorForward(c.sink.Column()))
	}
}

func (c *chat) stopSpinner() {
	if c.spin != nil {
		c.spin.Stop()
		c.spin = nil
	}
}

func (c *chat) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "exit", "quit", "bye":
		return true, nil
	case "help", "?":
		for _, h := range chatHelp {
			fmt.Fprintf(c.out, "  %s %s\n", c.styles.Flag.Render(fmt.Sprintf("%-13s", h[0])), c.styles.FlagDesc.Render(h[1]))
		}
	case "tools":
		c.listTools()
	case "file":
		return false, c.addFile(ctx, arg)
	case "copy":
		return false, c.copyLast()
	case "reset":
		c.svc.Reset()
		c.session = storage.NewSessionID()
		fmt.Fprintln(c.status, c.styles.Comment.Render("Started a new conversation."))
	default:
		return false, errs.Wrap(
			errs.UserErrorf("Type %s to see what is available.", c.styles.InlineCode.Render("/help")),
			fmt.Sprintf("Unknown command /%s.", name),
		)
	}
	return false, nil
}

func (c *chat) listTools() {
	if c.tools == nil || len(c.tools.Tools()) == 0 {
		fmt.Fprintln(c.out, c.styles.Comment.Render("No tools are connected."))
		return
	}
	names := make([]string, 0, len(c.tools.Tools()))
	for _, t := range c.tools.Tools() {
		names = append(names, c.styles.Tool.Render(t.Name))
	}
	fmt.Fprintf(c.out, "I can use %s.\n", xstrings.EnglishJoin(names, true))
}

func (c *chat) addFile(ctx context.Context, path string) error {
	if c.docs == nil {
		return errs.Wrap(
			errs.UserErrorf("Start gizmo with %s or set retrieval: true.", c.styles.InlineCode.Render("--retrieval")),
			"Documents are turned off.",
		)
	}
	if path == "" && c.pick != nil {
		picked, err := c.pick()
		if err != nil {
			return errs.Wrap(err, "No document was picked.")
		}
		path = picked
	}
	if path == "" {
		return errs.Wrap(errs.UserErrorf("Usage: /file <path>"), "No document was given.")
	}
	n, err := c.docs.AddFile(ctx, config.ExpandPath(path))
	if err != nil {
		return errs.Wrapf(err, "Could not add %s.", path)
	}
	fmt.Fprintf(c.out, "%s I processed %s (%d passages).\n",
		c.styles.AppName.Render("ʕ•ᴥ•ʔ"), c.styles.Link.Render(path), n)
	return nil
}

func (c *chat) copyLast() error {
	if c.last.Text == "" {
		return errs.Error{Reason: "There is no answer to copy yet."}
	}
	if err := c.clip(c.last.Text); err != nil {
		return errs.Wrap(err, "Could not copy the answer.")
	}
	present.PrintConfirmation(c.status, "copied", c.styles.Comment.Render(ansi.Truncate(firstLine(c.last.Text), 48, "…")))
	return nil
}

// trackingSink forwards to the real sink and keeps what the turn shows, so
// the cursor can return to the end of it after the spinner.
type trackingSink struct {
	toolcall.Sink
	plain *toolcall.PlainSink
	text  string
}

func newTrackingSink(w io.Writer, tty bool) *trackingSink {
	if tty {
		return &trackingSink{Sink: toolcall.NewTerminalSink(w)}
	}
	plain := toolcall.NewPlainSink(w)
	return &trackingSink{Sink: plain, plain: plain}
}

func (t *trackingSink) Forward(chunk string) error {
	t.text += chunk
	return t.Sink.Forward(chunk) //nolint:wrapcheck
}

func (t *trackingSink) Retract(shown, visible string) error {
	t.text = strings.TrimSuffix(t.text, shown) + visible
	return t.Sink.Retract(shown, visible) //nolint:wrapcheck
}

// Flush writes text a plain sink still holds.
func (t *trackingSink) Flush() error {
	if t.plain == nil {
		return nil
	}
	return t.plain.Flush() //nolint:wrapcheck
}

// Column is the display width of the last output line.
func (t *trackingSink) Column() int { return ansi.StringWidth(lastLine(t.text)) }

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

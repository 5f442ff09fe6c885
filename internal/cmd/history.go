package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	timeago "github.com/caarlos0/timea.go"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/present"
	"github.com/dotcommander/gizmo/internal/storage"
)

func newHistoryCmd(rt *runtime) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Browse the transcripts of past chats",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			drainStdin()
			return rt.cfgErr
		},
	}

	historyCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHistory(&rt.cfg, func(l *storage.Log) error {
				return listSessions(cmd.OutOrStdout(), l)
			})
		},
	})

	var last bool
	showCmd := &cobra.Command{
		Use:   "show [id-or-title]",
		Short: "Show the transcript of a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(&rt.cfg, func(l *storage.Log) error {
				in := ""
				if len(args) == 1 && !last {
					in = args[0]
				}
				return showSession(cmd.OutOrStdout(), l, in, rt.cfg.WordWrap, present.IsOutputTTY())
			})
		},
		ValidArgsFunction: completeSessions(&rt.cfg),
	}
	showCmd.Flags().BoolVarP(&last, "last", "l", false, "Show the latest session")
	historyCmd.AddCommand(showCmd)

	historyCmd.AddCommand(&cobra.Command{
		Use:   "delete <id-or-title> [more...]",
		Short: "Delete sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(&rt.cfg, func(l *storage.Log) error {
				return deleteSessions(cmd.ErrOrStderr(), l, args, rt.cfg.Quiet)
			})
		},
		ValidArgsFunction: completeSessions(&rt.cfg),
	})

	var olderThan time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errs.Wrap(errs.UserErrorf("missing --older-than"), "Could not delete old sessions.")
			}
			return withHistory(&rt.cfg, func(l *storage.Log) error {
				return pruneSessions(cmd.OutOrStdout(), l, olderThan, rt.cfg.Quiet, confirmPrune)
			})
		},
	}
	pruneCmd.Flags().Var(newDurationFlag(0, &olderThan), "older-than", helpText["older-than"])
	historyCmd.AddCommand(pruneCmd)

	return historyCmd
}

func withHistory(cfg *config.Config, fn func(*storage.Log) error) error {
	l, err := storage.Open(cfg.HistoryPath)
	if err != nil {
		return errs.Wrap(err, "Could not open the history.")
	}
	defer l.Close() //nolint:errcheck
	return fn(l)
}

func completeSessions(cfg *config.Config) cobra.CompletionFunc {
	return func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if cfg.HistoryPath == "" {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		l, err := storage.Open(cfg.HistoryPath)
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		defer l.Close() //nolint:errcheck
		return l.Index().Completions(toComplete), cobra.ShellCompDirectiveNoFileComp
	}
}

func listSessions(w io.Writer, l *storage.Log) error {
	sessions := l.Index().List()
	if len(sessions) == 0 {
		fmt.Fprintln(os.Stderr, "No sessions found.")
		return nil
	}
	printSessions(w, sessions)
	return nil
}

func printSessions(w io.Writer, sessions []storage.Session) {
	s := present.StdoutStyles()
	for _, session := range sessions {
		model := ""
		if session.Model != "" {
			model = s.Comment.Render(fmt.Sprintf(" %s (%s)", session.Model, session.API))
		}
		fmt.Fprintf(w, "%s\t%s\t%s%s\n",
			s.SHA.Render(storage.ShortID(session.ID)),
			session.Title,
			s.Timeago.Render(fmt.Sprintf("%d turns, %s", session.Turns, timeago.Of(session.UpdatedAt))),
			model,
		)
	}
}

func findSession(l *storage.Log, in string) (storage.Session, error) {
	if in == "" {
		return l.Index().Latest() //nolint:wrapcheck
	}
	return l.Index().Find(in) //nolint:wrapcheck
}

func showSession(w io.Writer, l *storage.Log, in string, wordWrap int, tty bool) error {
	session, err := findSession(l, in)
	if err != nil {
		return errs.Wrap(err, "Could not find the session.")
	}
	turns, err := l.Turns(session.ID)
	if err != nil {
		return errs.Wrap(err, "Could not read the transcript.")
	}

	out := renderTranscript(turns)
	if tty {
		if formatted, err := present.RenderMarkdown(out, wordWrap); err == nil {
			out = formatted
		}
	}
	_, err = fmt.Fprint(w, out)
	return err //nolint:wrapcheck
}

// renderTranscript is the markdown form of a session: the conversation
// plus the tool calls each answer made.
func renderTranscript(turns []storage.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString("**Prompt**:\n")
		sb.WriteString(t.Prompt)
		sb.WriteString("\n\n")
		for _, c := range t.Calls {
			if c.Error != "" {
				fmt.Fprintf(&sb, "> `%s` failed: %s\n\n", c.Name, c.Error)
				continue
			}
			fmt.Fprintf(&sb, "> `%s` → %s\n\n", c.Name, oneLine(c.Result))
		}
		sb.WriteString("**Assistant**:\n")
		sb.WriteString(t.Answer)
		sb.WriteString("\n\n")
		if len(t.Sources) > 0 {
			fmt.Fprintf(&sb, "_Sources: %s_\n\n", strings.Join(t.Sources, ", "))
		}
	}
	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func deleteSessions(w io.Writer, l *storage.Log, targets []string, quiet bool) error {
	for _, target := range targets {
		session, err := l.Index().Find(target)
		if err != nil {
			return errs.Wrap(err, "Couldn't find the session to delete.")
		}
		if err := l.Delete(session.ID); err != nil {
			return errs.Wrap(err, "Couldn't delete the session.")
		}
		if !quiet {
			fmt.Fprintln(w, "Session deleted:", storage.ShortID(session.ID))
		}
	}
	return nil
}

func confirmPrune(olderThan time.Duration, n int) (bool, error) {
	if !present.IsOutputTTY() || !present.IsInputTTY() {
		//nolint:wrapcheck
		return false, errs.UserErrorf(
			"To delete the sessions above, run: %s",
			strings.Join(append(os.Args, "--quiet"), " "),
		)
	}
	var confirm bool
	err := huh.Run(
		huh.NewConfirm().
			Title(fmt.Sprintf("Delete sessions older than %s?", olderThan)).
			Description(fmt.Sprintf("This will delete all the %d sessions listed above.", n)).
			Value(&confirm),
	)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return confirm, err //nolint:wrapcheck
}

func pruneSessions(
	w io.Writer,
	l *storage.Log,
	olderThan time.Duration,
	quiet bool,
	confirm func(time.Duration, int) (bool, error),
) error {
	stale := l.Index().OlderThan(olderThan)
	if len(stale) == 0 {
		if !quiet {
			fmt.Fprintln(os.Stderr, "No sessions found.")
		}
		return nil
	}

	if !quiet {
		printSessions(w, stale)
		ok, err := confirm(olderThan, len(stale))
		if err != nil {
			return err
		}
		if !ok {
			//nolint:wrapcheck
			return errs.UserErrorf("Aborted by user")
		}
	}

	pruned, err := l.Prune(olderThan)
	if err != nil {
		return errs.Wrap(err, "Couldn't delete old sessions.")
	}
	if !quiet {
		fmt.Fprintf(w, "Deleted %d sessions.\n", len(pruned))
	}
	return nil
}

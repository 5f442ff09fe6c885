package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/dotcommander/gizmo/internal/present"
)

func useLine(cmd *cobra.Command, s present.Styles) string {
	path := cmd.CommandPath()
	if !cmd.HasParent() && lipgloss.DefaultRenderer().ColorProfile() == termenv.TrueColor {
		path = present.MakeGradientText(s.AppName, path)
	}
	args := "[OPTIONS] [PROMPT]"
	if cmd.HasParent() {
		args = strings.TrimSpace(strings.TrimPrefix(cmd.Use, cmd.Name()))
		if cmd.HasAvailableFlags() {
			args = strings.TrimSpace("[OPTIONS] " + args)
		}
	}
	return fmt.Sprintf("%s %s", path, s.Comment.Render(args))
}

func usageFunc(cmd *cobra.Command) error {
	writeUsage(cmd.OutOrStdout(), cmd, present.StdoutStyles())
	return nil
}

func writeUsage(w io.Writer, cmd *cobra.Command, s present.Styles) {
	fmt.Fprintf(w, "Usage:\n  %s\n", useLine(cmd, s))

	if subs := availableCommands(cmd); len(subs) > 0 {
		fmt.Fprintln(w, "\nCommands:")
		for _, sub := range subs {
			fmt.Fprintf(w, "  %-24s %s\n", s.Flag.Render(sub.Name()), s.FlagDesc.Render(sub.Short))
		}
	}

	if cmd.HasAvailableFlags() {
		fmt.Fprintln(w, "\nOptions:")
		cmd.Flags().VisitAll(func(f *flag.Flag) {
			if f.Hidden {
				return
			}
			if f.Shorthand == "" {
				fmt.Fprintf(w, "  %-44s %s\n", s.Flag.Render("--"+f.Name), s.FlagDesc.Render(f.Usage))
				return
			}
			fmt.Fprintf(w, "  %s, %-40s %s\n",
				s.Flag.Render("-"+f.Shorthand),
				s.Flag.Render("--"+f.Name),
				s.FlagDesc.Render(f.Usage),
			)
		})
	}

	if cmd.HasExample() {
		fmt.Fprintf(w, "\nExample:\n  %s\n  %s\n",
			s.Comment.Render("# "+cmd.Example),
			highlightExample(s, examples[cmd.Example]),
		)
	}
}

func availableCommands(cmd *cobra.Command) []*cobra.Command {
	var subs []*cobra.Command
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() {
			subs = append(subs, sub)
		}
	}
	return subs
}

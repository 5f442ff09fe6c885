package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/present"
)

func newConfigCmd(rt *runtime) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage settings",
		RunE: func(_ *cobra.Command, _ []string) error {
			// Editing must work even when the settings do not parse.
			return editSettings(&rt.cfg)
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Open settings in $EDITOR",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return editSettings(&rt.cfg)
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset settings to defaults",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return resetSettings(&rt.cfg)
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:       "dirs [config|history|docs]",
		Short:     "Print where settings and data live",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"config", "history", "docs"},
		RunE: func(cmd *cobra.Command, args []string) error {
			printDirs(cmd.OutOrStdout(), &rt.cfg, args)
			return nil
		},
	})

	return configCmd
}

func editSettings(cfg *config.Config) error {
	if err := config.WriteConfigFile(cfg.SettingsPath); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	c, err := editor.Cmd(filepath.Base(os.Args[0]), cfg.SettingsPath)
	if err != nil {
		return errs.Wrap(err, "Could not edit your settings file.")
	}
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return errs.Wrapf(err, "Missing %s.", present.StderrStyles().InlineCode.Render("$EDITOR"))
	}

	if !cfg.Quiet {
		fmt.Fprintln(os.Stderr, "Wrote config file to:", cfg.SettingsPath)
	}
	return nil
}

// resetSettings moves the current file to a .bak next to it and writes the
// defaults.
func resetSettings(cfg *config.Config) error {
	in, err := os.Open(cfg.SettingsPath)
	if err != nil {
		return errs.Wrap(err, "Couldn't open config file.")
	}
	defer in.Close() //nolint:errcheck

	backup := cfg.SettingsPath + ".bak"
	out, err := os.Create(backup)
	if err != nil {
		return errs.Wrap(err, "Couldn't backup config file.")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, in); err != nil {
		return errs.Wrap(err, "Couldn't write config file.")
	}
	if err := os.Remove(cfg.SettingsPath); err != nil {
		return errs.Wrap(err, "Couldn't remove config file.")
	}
	if err := config.WriteConfigFile(cfg.SettingsPath); err != nil {
		return errs.Wrap(err, "Couldn't write new config file.")
	}

	if !cfg.Quiet {
		fmt.Fprintln(os.Stderr, "\nSettings restored to defaults!")
		fmt.Fprintf(os.Stderr, "\n  %s %s\n\n",
			present.StderrStyles().Comment.Render("Your old settings have been saved to:"),
			present.StderrStyles().Link.Render(backup),
		)
	}
	return nil
}

func printDirs(w io.Writer, cfg *config.Config, args []string) {
	dirs := []struct{ name, label, path string }{
		{"config", "Configuration", filepath.Dir(cfg.SettingsPath)},
		{"history", "History", cfg.HistoryPath},
		{"docs", "Documents", cfg.RetrievalPath},
	}
	if len(args) > 0 {
		for _, d := range dirs {
			if d.name == args[0] {
				fmt.Fprintln(w, d.path)
				return
			}
		}
	}
	for _, d := range dirs {
		fmt.Fprintf(w, "%14s: %s\n", d.label, d.path)
	}
}

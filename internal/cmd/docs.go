package cmd

import (
	"fmt"

	timeago "github.com/caarlos0/timea.go"
	"github.com/spf13/cobra"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/present"
	"github.com/dotcommander/gizmo/internal/retrieval"
)

func newDocsCmd(rt *runtime) *cobra.Command {
	docsCmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage the documents gizmo answers from",
		Long: "Documents are split into passages and indexed for full text search. " +
			"With retrieval on, every question is answered from the best matching passages.",
		PersistentPreRunE: func(*cobra.Command, []string) error { return rt.cfgErr },
	}

	docsCmd.AddCommand(&cobra.Command{
		Use:   "add <file> [more...]",
		Short: "Add text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocs(&rt.cfg, func(s *retrieval.Store) error {
				for _, path := range args {
					n, err := s.AddFile(cmd.Context(), config.ExpandPath(path))
					if err != nil {
						return errs.Wrapf(err, "Could not add %s.", path)
					}
					present.PrintConfirmation(cmd.OutOrStdout(), "added", fmt.Sprintf("%s (%d passages)", path, n))
				}
				return nil
			})
		},
	})

	docsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List added documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDocs(&rt.cfg, func(s *retrieval.Store) error {
				return listDocs(cmd, s)
			})
		},
	})

	docsCmd.AddCommand(&cobra.Command{
		Use:   "remove <file> [more...]",
		Short: "Remove documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocs(&rt.cfg, func(s *retrieval.Store) error {
				for _, path := range args {
					if err := s.Remove(cmd.Context(), config.ExpandPath(path)); err != nil {
						return errs.Wrapf(err, "Could not remove %s.", path)
					}
				}
				return nil
			})
		},
	})

	docsCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDocs(&rt.cfg, func(s *retrieval.Store) error {
				if err := s.Clear(cmd.Context()); err != nil {
					return errs.Wrap(err, "Could not clear the documents.")
				}
				present.PrintConfirmation(cmd.OutOrStdout(), "cleared", rt.cfg.RetrievalPath)
				return nil
			})
		},
	})

	return docsCmd
}

func withDocs(cfg *config.Config, fn func(*retrieval.Store) error) error {
	s, err := retrieval.Open(cfg.RetrievalPath)
	if err != nil {
		return errs.Wrap(err, "Could not open the document store.")
	}
	defer s.Close() //nolint:errcheck
	return fn(s)
}

func listDocs(cmd *cobra.Command, s *retrieval.Store) error {
	sources, err := s.Sources(cmd.Context())
	if err != nil {
		return errs.Wrap(err, "Could not list the documents.")
	}
	if len(sources) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No documents added.")
		return nil
	}
	st := present.StdoutStyles()
	w := cmd.OutOrStdout()
	for _, src := range sources {
		fmt.Fprintf(w, "%s\t%s\n", src.Path, st.Timeago.Render(fmt.Sprintf("%d passages, %s", src.Passages, timeago.Of(src.AddedAt))))
	}
	return nil
}

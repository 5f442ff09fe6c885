package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	glamour "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/x/exp/ordered"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/dotcommander/gizmo/internal/agent"
	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/mcp"
	"github.com/dotcommander/gizmo/internal/present"
	"github.com/dotcommander/gizmo/internal/retrieval"
	"github.com/dotcommander/gizmo/internal/storage"
	"github.com/dotcommander/gizmo/internal/voice"
)

const speakerCloseWait = 3 * time.Second

type runtime struct {
	build  BuildInfo
	cfg    config.Config
	cfgErr error
}

// NewRootCmd constructs the Cobra root command.
func NewRootCmd(build BuildInfo, cfg config.Config, cfgErr error) *cobra.Command {
	// XXX: unset error styles in Glamour dark and light styles.
	glamour.DarkStyleConfig.CodeBlock.Chroma.Error.BackgroundColor = new(string)
	glamour.LightStyleConfig.CodeBlock.Chroma.Error.BackgroundColor = new(string)

	rt := &runtime{build: normalizeBuildInfo(build), cfg: cfg, cfgErr: cfgErr}

	rootCmd := &cobra.Command{
		Use:           "gizmo [prompt]",
		Short:         "A chat assistant that can call MCP tools while it answers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		Example:       randomExample(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.ShowHelp {
				return cmd.Usage()
			}
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.runChat(ctx, args)
		},
	}

	rootCmd.SetUsageFunc(usageFunc)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return newFlagParseError(err)
	})
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.Version = rt.build.Version
	rootCmd.SetVersionTemplate(versionTemplate(rt.build))

	initRootFlags(rootCmd, &rt.cfg)

	rootCmd.MarkFlagsMutuallyExclusive("continue", "continue-last")
	_ = rootCmd.RegisterFlagCompletionFunc("continue", completeSessions(&rt.cfg))

	rootCmd.AddCommand(
		newHistoryCmd(rt),
		newConfigCmd(rt),
		newMCPCmd(rt),
		newDocsCmd(rt),
		newManCmd(rootCmd),
	)
	rootCmd.InitDefaultCompletionCmd()

	return rootCmd
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Devmode {
		level = slog.LevelDebug
	}
	if cfg.Quiet && !cfg.Devmode {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (rt *runtime) runChat(ctx context.Context, args []string) error {
	cfg := &rt.cfg
	log := newLogger(cfg)
	prompt := ordered.First(strings.TrimSpace(cfg.Prompt), strings.TrimSpace(strings.Join(args, " ")))

	client, model, err := agent.Connect(ctx, cfg)
	if err != nil {
		return err
	}

	interactive := prompt == "" && present.IsInputTTY()
	c := &chat{
		cfg:     cfg,
		log:     log,
		out:     os.Stdout,
		status:  os.Stderr,
		styles:  present.StdoutStyles(),
		tty:     present.IsOutputTTY(),
		fancy:   present.IsTerminal(os.Stderr),
		clip:    copyToClipboard,
		model:   model.Name,
		session: storage.NewSessionID(),
	}
	if interactive {
		theme := themeFrom(cfg.Theme)
		c.in = &formReader{theme: theme, out: os.Stdout, styles: c.styles}
		c.pick = pickDocument(theme)
	} else {
		c.in = newScanReader(os.Stdin)
		cfg.NoIntro = true
	}

	opts := []agent.Option{agent.WithLogger(log), agent.WithHooks(c.hooks())}

	if !cfg.NoTools && len(cfg.MCPServers) > 0 {
		reg, err := startTools(ctx, cfg, log, c.fancy && !cfg.Quiet)
		if err != nil {
			return err
		}
		defer func() {
			if err := reg.ShutdownAll(); err != nil {
				log.Warn("mcp shutdown", "err", err)
			}
		}()
		c.tools = reg
		opts = append(opts, agent.WithTools(reg))
	}

	if cfg.Retrieval {
		docs, err := openDocs(ctx, cfg)
		if err != nil {
			return err
		}
		defer docs.Close() //nolint:errcheck
		c.docs = docs
		opts = append(opts, agent.WithRetriever(docs))
	}

	history, err := storage.Open(cfg.HistoryPath)
	if err != nil {
		log.Warn("transcripts disabled", "err", err)
	} else {
		defer history.Close() //nolint:errcheck
		c.history = history
	}

	if cfg.Voice {
		speaker, err := voice.NewSpeaker(cfg.VoiceCommand, nil, log)
		if err != nil {
			return errs.Wrap(err, "Could not set up the voice command.")
		}
		defer func() {
			if err := speaker.Close(speakerCloseWait); err != nil {
				log.Warn("voice shutdown", "err", err)
			}
		}()
		c.speaker = speaker
	}

	c.svc = agent.New(cfg, client, model, opts...)
	if cfg.Continue != "" || cfg.ContinueLast {
		if err := c.resume(cfg.Continue); err != nil {
			return err
		}
	}
	return c.run(ctx, prompt)
}

// startTools connects every enabled MCP server. Servers that fail are
// reported and left out; the chat goes on with the rest.
func startTools(ctx context.Context, cfg *config.Config, log *slog.Logger, spin bool) (*mcp.Registry, error) {
	reg := mcp.NewRegistry(cfg, mcp.WithLogger(log))

	var sp *present.Spinner
	if spin {
		sp = present.StartSpinner(os.Stderr, "Starting tools", present.StderrStyles())
	}
	err := reg.Initialize(ctx)
	if sp != nil {
		sp.Stop()
	}
	if err != nil {
		_ = reg.ShutdownAll()
		return nil, errs.Wrap(err, "Could not start the MCP servers.")
	}

	for _, st := range reg.Servers() {
		if !st.Available() && !cfg.Quiet {
			fmt.Fprintf(os.Stderr, "%s %s\n",
				present.StderrStyles().ToolFailed.Render("ʕ•ᴥ•ʔ "+st.Name+" is unavailable:"),
				present.StderrStyles().Comment.Render(st.Err.Error()))
		}
	}
	return reg, nil
}

func openDocs(ctx context.Context, cfg *config.Config) (*retrieval.Store, error) {
	docs, err := retrieval.Open(cfg.RetrievalPath)
	if err != nil {
		return nil, errs.Wrap(err, "Could not open the document store.")
	}
	if cfg.RetrievalClear {
		if err := docs.Clear(ctx); err != nil {
			_ = docs.Close()
			return nil, errs.Wrap(err, "Could not clear the document store.")
		}
	}
	return docs, nil
}

func copyToClipboard(text string) error {
	termenv.Copy(text)
	if err := clipboard.WriteAll(text); err != nil && clipboard.Unsupported {
		// OSC52 above already reached terminals that support it.
		return nil
	} else if err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	return nil
}

package cmd

import (
	"time"

	"github.com/caarlos0/duration"
	"github.com/charmbracelet/x/exp/ordered"
	"github.com/spf13/cobra"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/present"
)

var helpText = map[string]string{
	"api":                "Default API (openai, anthropic, ollama, hackclub, ...)",
	"model":              "Default model (gpt-4o, llama3.1, ...)",
	"http-proxy":         "HTTP proxy to use for API requests",
	"system":             "System prompt: text, file:// path or http(s) URL",
	"temp":               "Temperature (randomness) of results, from 0.0 to 2.0, -1 to disable",
	"topp":               "TopP, an alternative to temperature that narrows response, from 0.0 to 1.0, -1 to disable",
	"topk":               "TopK, only sample from the top K options for each subsequent token, -1 to disable",
	"max-tokens":         "Maximum number of tokens in response",
	"max-retries":        "Maximum number of times to retry a failed generation",
	"word-wrap":          "Wrap formatted output at specific width",
	"quiet":              "Quiet mode (hide the banner, spinner and notices)",
	"devmode":            "Log engine internals to stderr",
	"theme":              "Theme to use in the forms; valid choices are charm, catppuccin, dracula, and base16",
	"help":               "Show help and exit",
	"version":            "Show version and exit",
	"prompt":             "Answer a single prompt and exit",
	"no-intro":           "Skip the greeting turn",
	"no-tools":           "Start without MCP servers",
	"marker":             "Marker that starts a tool call in the model output",
	"max-tool-calls":     "Maximum number of tool calls in one answer",
	"voice":              "Speak answers with the voice command",
	"retrieval":          "Answer from the documents added with /file or gizmo docs add",
	"mcp-disable":        "Disable specific MCP servers (or * for all)",
	"mcp-timeout":        "How long to wait for MCP servers to become ready",
	"mcp-no-inherit-env": "Do not pass the environment to stdio MCP servers",
	"older-than":         "Delete sessions not used for this long; e.g. 24h, 7d",
	"continue":           "Continue a recorded session, by ID or title",
	"continue-last":      "Continue the latest recorded session",
}

// durationFlag is a pflag.Value accepting day and week units.
type durationFlag time.Duration

func newDurationFlag(val time.Duration, p *time.Duration) *durationFlag {
	*p = val
	return (*durationFlag)(p)
}

func (d *durationFlag) Set(s string) error {
	v, err := duration.Parse(s)
	*d = durationFlag(v)
	//nolint:wrapcheck
	return err
}

func (d *durationFlag) String() string { return time.Duration(*d).String() }

func (*durationFlag) Type() string { return "duration" }

func initRootFlags(cmd *cobra.Command, cfg *config.Config) {
	desc := func(name string) string { return present.StdoutStyles().FlagDesc.Render(helpText[name]) }

	flags := cmd.Flags()
	flags.StringVarP(&cfg.Prompt, "prompt", "p", "", desc("prompt"))
	flags.StringVarP(&cfg.Model, "model", "m", cfg.Model, desc("model"))
	flags.StringVarP(&cfg.API, "api", "a", cfg.API, desc("api"))
	flags.StringVarP(&cfg.System, "system", "s", cfg.System, desc("system"))
	flags.StringVarP(&cfg.HTTPProxy, "http-proxy", "x", cfg.HTTPProxy, desc("http-proxy"))
	flags.StringVarP(&cfg.Continue, "continue", "c", "", desc("continue"))
	flags.BoolVarP(&cfg.ContinueLast, "continue-last", "C", false, desc("continue-last"))
	flags.BoolVar(&cfg.NoIntro, "no-intro", false, desc("no-intro"))
	flags.BoolVar(&cfg.NoTools, "no-tools", false, desc("no-tools"))
	flags.BoolVar(&cfg.Voice, "voice", cfg.Voice, desc("voice"))
	flags.BoolVar(&cfg.Retrieval, "retrieval", cfg.Retrieval, desc("retrieval"))
	flags.StringVar(&cfg.Marker, "marker", cfg.Marker, desc("marker"))
	flags.IntVar(&cfg.MaxToolCalls, "max-tool-calls", cfg.MaxToolCalls, desc("max-tool-calls"))
	flags.Float64Var(&cfg.Temperature, "temp", cfg.Temperature, desc("temp"))
	flags.Float64Var(&cfg.TopP, "topp", cfg.TopP, desc("topp"))
	flags.Int64Var(&cfg.TopK, "topk", cfg.TopK, desc("topk"))
	flags.Int64Var(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, desc("max-tokens"))
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, desc("max-retries"))
	flags.IntVar(&cfg.WordWrap, "word-wrap", cfg.WordWrap, desc("word-wrap"))
	flags.StringArrayVar(&cfg.MCPDisable, "mcp-disable", cfg.MCPDisable, desc("mcp-disable"))
	flags.Var(newDurationFlag(cfg.MCPTimeout, &cfg.MCPTimeout), "mcp-timeout", desc("mcp-timeout"))
	flags.BoolVar(&cfg.MCPNoInheritEnv, "mcp-no-inherit-env", cfg.MCPNoInheritEnv, desc("mcp-no-inherit-env"))
	flags.StringVar(&cfg.Theme, "theme", ordered.First(cfg.Theme, "charm"), desc("theme"))
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, desc("quiet"))
	flags.BoolVar(&cfg.Devmode, "devmode", cfg.Devmode, desc("devmode"))
	flags.BoolVarP(&cfg.ShowHelp, "help", "h", false, desc("help"))
	flags.BoolVarP(&cfg.Version, "version", "v", false, desc("version"))
	flags.SortFlags = false
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"
	"time"

	_ "embed"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	"github.com/dotcommander/gizmo/internal/errs"
)

//go:embed config_template.yml
var configTemplate string

// DefaultMarker is the literal that opens an inline tool call in generated text.
const DefaultMarker = "⚡️"

// Model represents the LLM model used in the API call.
type Model struct {
	Name    string
	API     string
	Aliases []string `yaml:"aliases"`
}

// API represents an API endpoint and its models.
type API struct {
	Name      string
	APIKey    string           `yaml:"api-key"`
	APIKeyEnv string           `yaml:"api-key-env"`
	APIKeyCmd string           `yaml:"api-key-cmd"`
	BaseURL   string           `yaml:"base-url"`
	Models    map[string]Model `yaml:"models"`
}

// APIs keeps the order in which APIs appear in the settings file.
type APIs []API

// UnmarshalYAML implements sorted API YAML decoding.
func (apis *APIs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("apis: expected a mapping, got line %d", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var api API
		if err := node.Content[i+1].Decode(&api); err != nil {
			return fmt.Errorf("apis.%s: %w", node.Content[i].Value, err)
		}
		api.Name = node.Content[i].Value
		*apis = append(*apis, api)
	}
	return nil
}

// MCPServerConfig describes how to reach one tool provider.
type MCPServerConfig struct {
	// Type is one of stdio (default), sse or http.
	Type string `yaml:"type" json:"type,omitempty"`
	// Driver selects the client library: mcp-go (default) or go-sdk.
	Driver  string   `yaml:"driver" json:"driver,omitempty"`
	Command string   `yaml:"command" json:"command,omitempty"`
	Args    []string `yaml:"args" json:"args,omitempty"`
	Env     []string `yaml:"env" json:"-"`
	Cwd     string   `yaml:"cwd" json:"cwd,omitempty"`
	URL     string   `yaml:"url" json:"url,omitempty"`
}

// Settings holds persisted configuration loaded from the YAML settings file
// and environment variables.
type Settings struct {
	API         string  `yaml:"default-api" env:"API"`
	Model       string  `yaml:"default-model" env:"MODEL"`
	APIs        APIs    `yaml:"apis"`
	System      string  `yaml:"system" env:"SYSTEM"`
	Temperature float64 `yaml:"temp" env:"TEMP"`
	TopP        float64 `yaml:"topp" env:"TOPP"`
	TopK        int64   `yaml:"topk" env:"TOPK"`
	MaxTokens   int64   `yaml:"max-tokens" env:"MAX_TOKENS"`
	MaxRetries  int     `yaml:"max-retries" env:"MAX_RETRIES"`
	User        string  `yaml:"user" env:"USER_ID"`
	HTTPProxy   string  `yaml:"http-proxy" env:"HTTP_PROXY"`
	WordWrap    int     `yaml:"word-wrap" env:"WORD_WRAP"`
	Theme       string  `yaml:"theme" env:"THEME"`
	Quiet       bool    `yaml:"quiet" env:"QUIET"`
	Devmode     bool    `yaml:"devmode" env:"DEVMODE"`

	Intro       bool     `yaml:"intro" env:"INTRO"`
	IntroPrompt string   `yaml:"intro-prompt" env:"INTRO_PROMPT"`
	ExitWords   []string `yaml:"exit-words" env:"EXIT_WORDS"`

	Marker       string `yaml:"marker" env:"MARKER"`
	MaxToolCalls int    `yaml:"max-tool-calls" env:"MAX_TOOL_CALLS"`
	MaxCallBytes int    `yaml:"max-call-bytes" env:"MAX_CALL_BYTES"`

	MCPServers         map[string]MCPServerConfig `yaml:"mcp-servers"`
	MCPConfig          string                     `yaml:"mcp-config" env:"MCP_CONFIG"`
	MCPDisable         []string                   `yaml:"mcp-disable" env:"MCP_DISABLE"`
	MCPTimeout         time.Duration              `yaml:"mcp-timeout" env:"MCP_TIMEOUT"`
	MCPCallTimeout     time.Duration              `yaml:"mcp-call-timeout" env:"MCP_CALL_TIMEOUT"`
	MCPShutdownTimeout time.Duration              `yaml:"mcp-shutdown-timeout" env:"MCP_SHUTDOWN_TIMEOUT"`
	MCPNoInheritEnv    bool                       `yaml:"mcp-no-inherit-env" env:"MCP_NO_INHERIT_ENV"`

	Voice        bool   `yaml:"voice" env:"VOICE"`
	VoiceCommand string `yaml:"voice-command" env:"VOICE_COMMAND"`

	Retrieval      bool   `yaml:"retrieval" env:"RETRIEVAL"`
	RetrievalPath  string `yaml:"retrieval-path" env:"RETRIEVAL_PATH"`
	RetrievalTopK  int    `yaml:"retrieval-top-k" env:"RETRIEVAL_TOP_K"`
	RetrievalClear bool   `yaml:"retrieval-clear" env:"RETRIEVAL_CLEAR"`

	HistoryPath string `yaml:"history-path" env:"HISTORY_PATH"`
}

// Runtime holds CLI/runtime-only options that should not be loaded from the
// settings file.
type Runtime struct {
	ShowHelp     bool
	Version      bool
	SettingsPath string
	NoIntro      bool
	NoTools      bool
	Prompt       string
	Continue     string
	ContinueLast bool
}

// Config is the application configuration (settings + runtime-only options).
type Config struct {
	Settings `yaml:",inline"`
	Runtime  `yaml:"-" env:"-"`
}

// Flat returns a flat key/value snapshot of the settings the chat engine
// consumes.
func (c Config) Flat() map[string]string {
	return map[string]string{
		"api":             c.API,
		"model":           c.Model,
		"marker":          c.Marker,
		"max-tool-calls":  strconv.Itoa(c.MaxToolCalls),
		"max-call-bytes":  strconv.Itoa(c.MaxCallBytes),
		"mcp-timeout":     c.MCPTimeout.String(),
		"devmode":         strconv.FormatBool(c.Devmode),
		"voice":           strconv.FormatBool(c.Voice),
		"retrieval":       strconv.FormatBool(c.Retrieval),
		"retrieval-top-k": strconv.Itoa(c.RetrievalTopK),
	}
}

// Ensure loads settings from disk and environment and applies defaults.
//
// It also creates the default settings file if it does not exist.
func Ensure() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errs.Error{Err: err, Reason: "Could not determine home directory."}
	}
	return Load(filepath.Join(home, ".config", "gizmo", "gizmo.yml"))
}

// Load reads the settings file at sp, creating it first when missing.
func Load(sp string) (Config, error) {
	var c Config
	c.SettingsPath = sp

	if err := os.MkdirAll(filepath.Dir(sp), 0o700); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not create config directory."}
	}
	if err := WriteConfigFile(sp); err != nil {
		return c, err
	}
	content, err := os.ReadFile(sp)
	if err != nil {
		return c, errs.Error{Err: err, Reason: "Could not read settings file."}
	}
	if err := yaml.Unmarshal(content, &c); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not parse settings file."}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "GIZMO_"}); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not parse environment into settings file."}
	}

	if err := c.mergeMCPFile(); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not load the MCP servers file."}
	}
	c.applyDefaults()

	for _, dir := range []string{c.HistoryPath, filepath.Dir(c.RetrievalPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return c, errs.Error{Err: err, Reason: "Could not create data directory."}
		}
	}
	return c, nil
}

func (c *Config) mergeMCPFile() error {
	if c.MCPConfig == "" {
		return nil
	}
	servers, err := LoadMCPFile(ExpandPath(c.MCPConfig))
	if err != nil {
		return err
	}
	if c.MCPServers == nil {
		c.MCPServers = map[string]MCPServerConfig{}
	}
	for name, server := range servers {
		if _, ok := c.MCPServers[name]; ok {
			continue
		}
		c.MCPServers[name] = server
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := Default()
	dataDir := filepath.Dir(c.SettingsPath)

	if c.WordWrap == 0 {
		c.WordWrap = def.WordWrap
	}
	if c.Marker == "" {
		c.Marker = def.Marker
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = def.MaxToolCalls
	}
	if c.MaxCallBytes <= 0 {
		c.MaxCallBytes = def.MaxCallBytes
	}
	if c.MCPTimeout == 0 {
		c.MCPTimeout = def.MCPTimeout
	}
	if c.MCPCallTimeout == 0 {
		c.MCPCallTimeout = def.MCPCallTimeout
	}
	if c.MCPShutdownTimeout == 0 {
		c.MCPShutdownTimeout = def.MCPShutdownTimeout
	}
	if len(c.ExitWords) == 0 {
		c.ExitWords = def.ExitWords
	}
	if c.IntroPrompt == "" {
		c.IntroPrompt = def.IntroPrompt
	}
	if c.VoiceCommand == "" {
		c.VoiceCommand = def.VoiceCommand
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = def.RetrievalTopK
	}
	if c.RetrievalPath == "" {
		c.RetrievalPath = filepath.Join(dataDir, "retrieval.db")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(dataDir, "history")
	}
	c.RetrievalPath = ExpandPath(c.RetrievalPath)
	c.HistoryPath = ExpandPath(c.HistoryPath)
	for name, server := range c.MCPServers {
		server.Cwd = ExpandPath(server.Cwd)
		c.MCPServers[name] = server
	}
}

// WriteConfigFile creates the config file at path if it does not exist.
func WriteConfigFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createConfigFile(path)
	} else if err != nil {
		return errs.Error{Err: err, Reason: "Could not stat path."}
	}
	return nil
}

func createConfigFile(path string) error {
	tmpl := template.Must(template.New("config").Parse(configTemplate))

	f, err := os.Create(path)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not create configuration file."}
	}
	defer func() { _ = f.Close() }()

	m := struct{ Config Config }{Config: Default()}
	if err := tmpl.Execute(f, m); err != nil {
		return errs.Error{Err: err, Reason: "Could not render template."}
	}
	return nil
}

// Default returns the default configuration values.
func Default() Config {
	return Config{
		Settings: Settings{
			API:                "ollama",
			Model:              "gizmo",
			WordWrap:           80,
			Intro:              true,
			IntroPrompt:        "I have no questions. introduce yourself. dont mention your skills at all. be breif.",
			ExitWords:          []string{"bye"},
			Marker:             DefaultMarker,
			MaxToolCalls:       5,
			MaxCallBytes:       64 * 1024,
			MCPTimeout:         30 * time.Second,
			MCPCallTimeout:     2 * time.Minute,
			MCPShutdownTimeout: 5 * time.Second,
			VoiceCommand:       "say",
			RetrievalTopK:      5,
			RetrievalClear:     true,
		},
	}
}

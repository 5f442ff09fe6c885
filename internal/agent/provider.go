package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/go-shellwords"

	"github.com/dotcommander/gizmo/internal/config"
	"github.com/dotcommander/gizmo/internal/errs"
	"github.com/dotcommander/gizmo/internal/fantasybridge"
	"github.com/dotcommander/gizmo/internal/stream"
)

// Connect resolves the configured model and builds the client that streams
// its generations.
func Connect(ctx context.Context, cfg *config.Config) (stream.Client, config.Model, error) {
	api, mod, err := resolveModel(cfg)
	if err != nil {
		return nil, config.Model{}, err
	}
	cfg.API = mod.API
	cfg.Model = mod.Name

	providerCfg, err := prepareProviderConfig(ctx, mod, api)
	if err != nil {
		return nil, config.Model{}, err
	}
	if err := ApplyProxyConfig(cfg.HTTPProxy, &providerCfg); err != nil {
		return nil, config.Model{}, err
	}
	client, err := NewFantasyClient(providerCfg)
	if err != nil {
		return nil, config.Model{}, err
	}
	return client, mod, nil
}

func resolveModel(cfg *config.Config) (config.API, config.Model, error) {
	for _, api := range cfg.APIs {
		if api.Name != cfg.API && cfg.API != "" {
			continue
		}
		for name, mod := range api.Models {
			if name == cfg.Model || slices.Contains(mod.Aliases, cfg.Model) {
				cfg.Model = name
				break
			}
		}
		mod, ok := api.Models[cfg.Model]
		if ok {
			mod.Name = cfg.Model
			mod.API = api.Name
			return api, mod, nil
		}
		if cfg.API != "" {
			available := make([]string, 0, len(api.Models))
			for name := range api.Models {
				available = append(available, name)
			}
			slices.Sort(available)
			return config.API{}, config.Model{}, errs.Error{
				Err:    errs.UserErrorf("Available models are: %s", strings.Join(available, ", ")),
				Reason: fmt.Sprintf("The API endpoint %s does not contain the model %s", cfg.API, cfg.Model),
			}
		}
	}

	return config.API{}, config.Model{}, errs.Error{
		Reason: fmt.Sprintf("Model %s is not in the settings file.", cfg.Model),
		Err:    errs.UserErrorf("Please specify an API endpoint with --api or configure the model in the settings: gizmo config edit"),
	}
}

// keyedAPIs maps APIs that need a key to the variable holding it and the
// page where one can be created.
var keyedAPIs = map[string]struct {
	env, docs, name string
}{
	"openai":     {"OPENAI_API_KEY", "https://platform.openai.com/account/api-keys", "OpenAI"},
	"anthropic":  {"ANTHROPIC_API_KEY", "https://console.anthropic.com/settings/keys", "Anthropic"},
	"google":     {"GOOGLE_API_KEY", "https://aistudio.google.com/app/apikey", "Google"},
	"openrouter": {"OPENROUTER_API_KEY", "https://openrouter.ai/keys", "OpenRouter"},
	"vercel":     {"VERCEL_API_KEY", "https://vercel.com/dashboard/tokens", "Vercel AI Gateway"},
	"azure":      {"AZURE_OPENAI_KEY", "https://aka.ms/oai/access", "Azure"},
}

func prepareProviderConfig(ctx context.Context, mod config.Model, api config.API) (fantasybridge.Config, error) {
	switch mod.API {
	case "ollama":
		baseURL := api.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return fantasybridge.Config{API: mod.API, BaseURL: baseURL}, nil
	case "hackclub":
		// Hack Club's endpoint is open; a key is sent only when configured.
		key, err := optionalKey(ctx, api)
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "Hack Club authentication failed"}
		}
		baseURL := api.BaseURL
		if baseURL == "" {
			baseURL = "https://ai.hackclub.com"
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: baseURL}, nil
	case "bedrock":
		key, err := optionalKey(ctx, api)
		if err != nil {
			return fantasybridge.Config{}, errs.Error{Err: err, Reason: "Bedrock authentication failed"}
		}
		return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
	}

	k, ok := keyedAPIs[mod.API]
	if !ok {
		k = keyedAPIs["openai"]
	}
	key, err := ensureKey(ctx, api, k.env, k.docs)
	if err != nil {
		return fantasybridge.Config{}, errs.Error{Err: err, Reason: k.name + " authentication failed"}
	}
	return fantasybridge.Config{API: mod.API, APIKey: key, BaseURL: api.BaseURL}, nil
}

// ApplyProxyConfig configures the provider HTTP client to use an HTTP proxy.
func ApplyProxyConfig(httpProxy string, providerCfg *fantasybridge.Config) error {
	if httpProxy == "" {
		return nil
	}
	proxyURL, err := url.Parse(httpProxy)
	if err != nil {
		return errs.Error{Err: err, Reason: "There was an error parsing your proxy URL."}
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return errs.Error{Err: fmt.Errorf("default transport is not *http.Transport"), Reason: "Could not configure proxy."}
	}
	tr := base.Clone()
	tr.Proxy = http.ProxyURL(proxyURL)
	tr.DialContext = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 30 * time.Second
	tr.IdleConnTimeout = 90 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second
	providerCfg.HTTPClient = &http.Client{Transport: tr}
	return nil
}

// NewFantasyClient creates the fantasy bridge client.
func NewFantasyClient(cfg fantasybridge.Config) (stream.Client, error) {
	if cfg.API == "" {
		return nil, errs.Error{Reason: "missing fantasy provider configuration"}
	}
	client, err := fantasybridge.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("new fantasy bridge client: %w", err)
	}
	return client, nil
}

func ensureKey(ctx context.Context, api config.API, defaultEnv, docsURL string) (string, error) {
	key, err := optionalKey(ctx, api)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = os.Getenv(defaultEnv)
	}
	if key != "" {
		return key, nil
	}
	return "", errs.Error{
		Reason: fmt.Sprintf("%s required; set %s or update gizmo.yml through gizmo config edit.", defaultEnv, defaultEnv),
		Err:    errs.UserErrorf("You can grab one at %s", docsURL),
	}
}

func optionalKey(ctx context.Context, api config.API) (string, error) {
	key := api.APIKey
	if key == "" && api.APIKeyEnv != "" && api.APIKeyCmd == "" {
		key = os.Getenv(api.APIKeyEnv)
	}
	if key == "" && api.APIKeyCmd != "" {
		args, err := shellwords.Parse(api.APIKeyCmd)
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Failed to parse api-key-cmd"}
		}
		if len(args) == 0 {
			return "", errs.Error{Reason: "api-key-cmd is empty"}
		}
		// #nosec G204 -- api-key-cmd is explicitly configured by the local user.
		out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Cannot exec api-key-cmd"}
		}
		key = strings.TrimSpace(string(out))
	}
	return key, nil
}

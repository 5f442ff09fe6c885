package fantasybridge

import (
	"fmt"
	"net/http"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/azure"
	"charm.land/fantasy/providers/bedrock"
	fgoogle "charm.land/fantasy/providers/google"
	fopenai "charm.land/fantasy/providers/openai"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"
	"charm.land/fantasy/providers/openrouter"
	"charm.land/fantasy/providers/vercel"
)

const (
	apiAnthropic  = "anthropic"
	apiGoogle     = "google"
	apiOpenAI     = "openai"
	apiAzure      = "azure"
	apiOpenRouter = "openrouter"
	apiVercel     = "vercel"
	apiBedrock    = "bedrock"
)

// Config represents provider configuration used by the fantasy bridge.
type Config struct {
	API        string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func newProvider(cfg Config) (fantasy.Provider, error) {
	var (
		provider fantasy.Provider
		err      error
	)
	switch cfg.API {
	case apiOpenAI:
		opts := []fopenai.Option{fopenai.WithAPIKey(cfg.APIKey)}
		opts = appendIf(opts, cfg.BaseURL != "", fopenai.WithBaseURL(cfg.BaseURL))
		opts = appendIf(opts, cfg.HTTPClient != nil, fopenai.WithHTTPClient(cfg.HTTPClient))
		provider, err = fopenai.New(opts...)
	case apiAnthropic:
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		opts = appendIf(opts, cfg.BaseURL != "", anthropic.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/v1")))
		opts = appendIf(opts, cfg.HTTPClient != nil, anthropic.WithHTTPClient(cfg.HTTPClient))
		provider, err = anthropic.New(opts...)
	case apiGoogle:
		opts := []fgoogle.Option{fgoogle.WithGeminiAPIKey(cfg.APIKey)}
		opts = appendIf(opts, cfg.BaseURL != "", fgoogle.WithBaseURL(cfg.BaseURL))
		opts = appendIf(opts, cfg.HTTPClient != nil, fgoogle.WithHTTPClient(cfg.HTTPClient))
		provider, err = fgoogle.New(opts...)
	case apiAzure:
		opts := []azure.Option{azure.WithAPIKey(cfg.APIKey), azure.WithBaseURL(cfg.BaseURL)}
		opts = appendIf(opts, cfg.HTTPClient != nil, azure.WithHTTPClient(cfg.HTTPClient))
		provider, err = azure.New(opts...)
	case apiOpenRouter:
		opts := []openrouter.Option{openrouter.WithAPIKey(cfg.APIKey)}
		opts = appendIf(opts, cfg.HTTPClient != nil, openrouter.WithHTTPClient(cfg.HTTPClient))
		provider, err = openrouter.New(opts...)
	case apiVercel:
		opts := []vercel.Option{vercel.WithAPIKey(cfg.APIKey)}
		opts = appendIf(opts, cfg.BaseURL != "", vercel.WithBaseURL(cfg.BaseURL))
		opts = appendIf(opts, cfg.HTTPClient != nil, vercel.WithHTTPClient(cfg.HTTPClient))
		provider, err = vercel.New(opts...)
	case apiBedrock:
		var opts []bedrock.Option
		opts = appendIf(opts, cfg.APIKey != "", bedrock.WithAPIKey(cfg.APIKey))
		opts = appendIf(opts, cfg.HTTPClient != nil, bedrock.WithHTTPClient(cfg.HTTPClient))
		provider, err = bedrock.New(opts...)
	default:
		// ollama, hackclub and anything else speaking the OpenAI wire format.
		opts := []fopenaicompat.Option{fopenaicompat.WithName(cfg.API)}
		opts = appendIf(opts, cfg.APIKey != "", fopenaicompat.WithAPIKey(cfg.APIKey))
		opts = appendIf(opts, cfg.BaseURL != "", fopenaicompat.WithBaseURL(cfg.BaseURL))
		opts = appendIf(opts, cfg.HTTPClient != nil, fopenaicompat.WithHTTPClient(cfg.HTTPClient))
		provider, err = fopenaicompat.New(opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("new fantasy %s provider: %w", cfg.API, err)
	}
	return provider, nil
}

func appendIf[T any](opts []T, ok bool, opt T) []T {
	if !ok {
		return opts
	}
	return append(opts, opt)
}

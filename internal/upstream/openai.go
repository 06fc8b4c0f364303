package upstream

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/resilience"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAICustom forwards OpenAI-native bodies to any OpenAI-compatible
// endpoint with a static bearer credential.
type OpenAICustom struct {
	caller  *caller
	apiKey  string
	baseURL string

	// OpenRouter attribution headers; sent when set or when the base URL
	// points at openrouter.ai.
	referer string
	title   string
}

// NewOpenAICustom builds the adapter from a static-key config.
func NewOpenAICustom(cfg config.OpenAIConfig, client *http.Client, retry resilience.RetryConfig) *OpenAICustom {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	return &OpenAICustom{
		caller:  newCaller(string(config.ProviderOpenAICustom), client, retry, nil),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		referer: cfg.SiteReferer,
		title:   cfg.SiteTitle,
	}
}

func (a *OpenAICustom) Provider() config.Provider { return config.ProviderOpenAICustom }
func (a *OpenAICustom) Family() converter.Family  { return converter.OpenAI }

func (a *OpenAICustom) openRouter() bool {
	return strings.Contains(a.baseURL, "openrouter.ai") || a.referer != "" || a.title != ""
}

func (a *OpenAICustom) build(method, url string, payload []byte, accept string) buildFunc {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		if a.openRouter() {
			if a.referer != "" {
				req.Header.Set("HTTP-Referer", a.referer)
			}
			if a.title != "" {
				req.Header.Set("X-Title", a.title)
			}
		}
		return req, nil
	}
}

func (a *OpenAICustom) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	return a.caller.Do(ctx, a.build(http.MethodPost, a.baseURL+"/chat/completions", body, "application/json"))
}

func (a *OpenAICustom) GenerateContentStream(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
	stream, done, err := a.caller.OpenStream(ctx, a.build(http.MethodPost, a.baseURL+"/chat/completions", body, "text/event-stream"))
	if err != nil {
		return nil, err
	}
	return a.caller.forwardSSE(ctx, stream, done, sseOptions{stopOnDone: true}), nil
}

func (a *OpenAICustom) ListModels(ctx context.Context) ([]converter.Model, error) {
	data, err := a.caller.Do(ctx, a.build(http.MethodGet, a.baseURL+"/models", nil, "application/json"))
	if err != nil {
		return nil, err
	}
	models, err := converter.ParseModels(converter.OpenAI, data)
	if err != nil {
		return nil, &ProtocolError{Provider: string(config.ProviderOpenAICustom), Err: err}
	}
	return models, nil
}

// RefreshTokenIfNearExpiry is a no-op: the credential is a static key.
func (a *OpenAICustom) RefreshTokenIfNearExpiry(ctx context.Context) {}

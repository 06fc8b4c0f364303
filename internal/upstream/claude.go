package upstream

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/resilience"
)

const (
	defaultClaudeBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion     = "2023-06-01"
)

// claudeModels is the static catalogue; the messages API has no public
// listing endpoint usable with plain API keys.
var claudeModels = []converter.Model{
	{ID: "claude-opus-4-20250514", DisplayName: "Claude Opus 4", Created: 1747180800},
	{ID: "claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4", Created: 1747180800},
	{ID: "claude-3-7-sonnet-20250219", DisplayName: "Claude 3.7 Sonnet", Created: 1740009600},
	{ID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet", Created: 1729555200},
	{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku", Created: 1729555200},
	{ID: "claude-3-opus-20240229", DisplayName: "Claude 3 Opus", Created: 1709164800},
	{ID: "claude-3-haiku-20240307", DisplayName: "Claude 3 Haiku", Created: 1709769600},
}

// ClaudeCustom forwards Claude-native bodies to an Anthropic-compatible
// messages endpoint with a static API key.
type ClaudeCustom struct {
	caller  *caller
	apiKey  string
	baseURL string
}

// NewClaudeCustom builds the adapter from a static-key config.
func NewClaudeCustom(cfg config.ClaudeConfig, client *http.Client, retry resilience.RetryConfig) *ClaudeCustom {
	base := cfg.BaseURL
	if base == "" {
		base = defaultClaudeBaseURL
	}
	return &ClaudeCustom{
		caller:  newCaller(string(config.ProviderClaudeCustom), client, retry, nil),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
	}
}

func (a *ClaudeCustom) Provider() config.Provider { return config.ProviderClaudeCustom }
func (a *ClaudeCustom) Family() converter.Family  { return converter.Claude }

func (a *ClaudeCustom) build(payload []byte, accept string) buildFunc {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
		return req, nil
	}
}

func (a *ClaudeCustom) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	payload, err := sjson.SetBytes(body, "stream", false)
	if err != nil {
		payload = body
	}
	return a.caller.Do(ctx, a.build(payload, "application/json"))
}

func (a *ClaudeCustom) GenerateContentStream(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
	payload, err := sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, err
	}
	stream, done, err := a.caller.OpenStream(ctx, a.build(payload, "text/event-stream"))
	if err != nil {
		return nil, err
	}
	return a.caller.forwardSSE(ctx, stream, done, sseOptions{
		terminal: func(payload []byte) bool {
			return gjson.GetBytes(payload, "type").String() == "message_stop"
		},
	}), nil
}

func (a *ClaudeCustom) ListModels(ctx context.Context) ([]converter.Model, error) {
	return append([]converter.Model(nil), claudeModels...), nil
}

// RefreshTokenIfNearExpiry is a no-op: the credential is a static key.
func (a *ClaudeCustom) RefreshTokenIfNearExpiry(ctx context.Context) {}

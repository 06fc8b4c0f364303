package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/singleflight"

	"github.com/aigate-dev/aigate/internal/auth/gemini"
	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/json"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/resilience"
)

const (
	codeAssistEndpoint = "https://cloudcode-pa.googleapis.com"
	codeAssistVersion  = "v1internal"

	// Headers the Code Assist backend expects from the gemini CLI.
	geminiCLIUserAgent = "google-api-nodejs-client/9.15.1"
	geminiCLIAPIClient = "gl-node/22.17.0"
	geminiCLIMetadata  = "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI"
)

// onboardPollInterval is the cadence for re-polling onboardUser while
// Google finishes provisioning the free-tier project.
var onboardPollInterval = 2 * time.Second

// geminiCLIModels is the fixed Code Assist catalogue; the backend has no
// listing endpoint for personal OAuth accounts.
var geminiCLIModels = []converter.Model{
	{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", Created: 1750118400},
	{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Created: 1750118400},
	{ID: "gemini-2.5-flash-lite", DisplayName: "Gemini 2.5 Flash-Lite", Created: 1753142400},
	{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", Created: 1738713600},
}

// GeminiCLI talks to Google Code Assist with the caller's personal OAuth
// credentials, wrapping Gemini-native bodies in the v1internal envelope.
type GeminiCLI struct {
	caller     *caller
	store      *gemini.Store
	baseURL    string
	nearWindow time.Duration

	configuredProject string
	projectID         string
	sfProject         singleflight.Group
}

// NewGeminiCLI builds the adapter. Project discovery is deferred to Init or
// the first call needing a project id.
func NewGeminiCLI(cfg config.GeminiCLIConfig, store *gemini.Store, client *http.Client, retry resilience.RetryConfig, nearWindow time.Duration) *GeminiCLI {
	base := cfg.BaseURL
	if base == "" {
		base = codeAssistEndpoint
	}
	return &GeminiCLI{
		caller:            newCaller(string(config.ProviderGeminiCLI), client, retry, store, http.StatusUnauthorized),
		store:             store,
		baseURL:           base,
		nearWindow:        nearWindow,
		configuredProject: cfg.ProjectID,
	}
}

func (a *GeminiCLI) Provider() config.Provider { return config.ProviderGeminiCLI }
func (a *GeminiCLI) Family() converter.Family  { return converter.Gemini }

// Init resolves the Code Assist project id, discovering one when the config
// does not pin it.
func (a *GeminiCLI) Init(ctx context.Context) error {
	_, err := a.project(ctx)
	return err
}

// ProjectID returns the resolved Code Assist project id; empty until Init or
// the first request discovers one.
func (a *GeminiCLI) ProjectID() string { return a.projectID }

func (a *GeminiCLI) project(ctx context.Context) (string, error) {
	if a.projectID != "" {
		return a.projectID, nil
	}
	id, err, _ := a.sfProject.Do("project", func() (any, error) {
		if a.projectID != "" {
			return a.projectID, nil
		}
		if a.configuredProject != "" {
			a.projectID = a.configuredProject
			return a.projectID, nil
		}
		discovered, err := a.discoverProject(ctx)
		if err != nil {
			return "", err
		}
		a.projectID = discovered
		log.Infof("gemini-cli: using discovered project %s", discovered)
		return discovered, nil
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

// discoverProject walks the Code Assist onboarding flow: loadCodeAssist
// first, then onboardUser polling until the operation completes.
func (a *GeminiCLI) discoverProject(ctx context.Context) (string, error) {
	loadResp, err := a.callInternal(ctx, "loadCodeAssist", []byte(`{"metadata":{"pluginType":"GEMINI"}}`))
	if err != nil {
		return "", fmt.Errorf("loadCodeAssist: %w", err)
	}

	if id := gjson.GetBytes(loadResp, "cloudaicompanionProject").String(); id != "" && id != "default" {
		return id, nil
	}

	tierID := "free-tier"
	gjson.GetBytes(loadResp, "allowedTiers").ForEach(func(_, tier gjson.Result) bool {
		if tier.Get("isDefault").Bool() {
			tierID = tier.Get("id").String()
			return false
		}
		return true
	})

	onboardReq, err := json.Marshal(map[string]any{
		"tierId":                  tierID,
		"metadata":                map[string]string{"pluginType": "GEMINI"},
		"cloudaicompanionProject": "default",
	})
	if err != nil {
		return "", err
	}

	for {
		resp, err := a.callInternal(ctx, "onboardUser", onboardReq)
		if err != nil {
			return "", fmt.Errorf("onboardUser: %w", err)
		}
		if gjson.GetBytes(resp, "done").Bool() {
			id := gjson.GetBytes(resp, "response.cloudaicompanionProject.id").String()
			if id == "" || id == "default" {
				return "", fmt.Errorf("onboarding finished without a usable project id")
			}
			return id, nil
		}
		if err := resilience.WaitWithContext(ctx, onboardPollInterval); err != nil {
			return "", err
		}
	}
}

// callInternal POSTs a raw v1internal method without the request envelope.
func (a *GeminiCLI) callInternal(ctx context.Context, method string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/%s:%s", a.baseURL, codeAssistVersion, method)
	return a.caller.Do(ctx, a.build(url, body, "application/json"))
}

// envelope wraps a Gemini-native body in {model, project, request}.
func (a *GeminiCLI) envelope(ctx context.Context, model string, body []byte) ([]byte, error) {
	project, err := a.project(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := sjson.SetBytes([]byte(`{}`), "model", model)
	if err != nil {
		return nil, err
	}
	payload, err = sjson.SetBytes(payload, "project", project)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(payload, "request", body)
}

// unwrapEnvelope strips the Code Assist {response: ...} wrapper when present.
func unwrapEnvelope(data []byte) []byte {
	inner := gjson.GetBytes(data, "response")
	if !inner.Exists() {
		return data
	}
	if inner.Index > 0 {
		return data[inner.Index : inner.Index+len(inner.Raw)]
	}
	return []byte(inner.Raw)
}

func (a *GeminiCLI) build(url string, payload []byte, accept string) buildFunc {
	return func(ctx context.Context) (*http.Request, error) {
		token, err := a.store.Token(ctx)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", geminiCLIUserAgent)
		req.Header.Set("X-Goog-Api-Client", geminiCLIAPIClient)
		req.Header.Set("Client-Metadata", geminiCLIMetadata)
		return req, nil
	}
}

func (a *GeminiCLI) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	payload, err := a.envelope(ctx, model, body)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s:generateContent", a.baseURL, codeAssistVersion)
	data, err := a.caller.Do(ctx, a.build(url, payload, "application/json"))
	if err != nil {
		return nil, err
	}
	return unwrapEnvelope(data), nil
}

func (a *GeminiCLI) GenerateContentStream(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
	payload, err := a.envelope(ctx, model, body)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", a.baseURL, codeAssistVersion)
	stream, done, err := a.caller.OpenStream(ctx, a.build(url, payload, "text/event-stream"))
	if err != nil {
		return nil, err
	}
	return a.caller.forwardSSE(ctx, stream, done, sseOptions{unwrap: unwrapEnvelope}), nil
}

func (a *GeminiCLI) ListModels(ctx context.Context) ([]converter.Model, error) {
	return append([]converter.Model(nil), geminiCLIModels...), nil
}

func (a *GeminiCLI) RefreshTokenIfNearExpiry(ctx context.Context) {
	if !a.store.ExpiryNear(a.nearWindow) {
		return
	}
	if err := a.store.ForceRefresh(ctx); err != nil {
		log.WithError(err).Warnf("gemini-cli: scheduled token refresh failed")
	}
}

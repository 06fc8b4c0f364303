// Package router decides where an inbound request goes and in what shape:
// it classifies paths onto protocol endpoints, resolves the upstream
// provider, applies the default-model policy, and runs the system-prompt
// side channels against raw bodies.
package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/sysprompt"
	"github.com/aigate-dev/aigate/internal/upstream"
)

// HeaderProvider is the request header that overrides the provider for one
// request. It is consumed here and stripped before anything is forwarded.
const HeaderProvider = "model-provider"

// Endpoint names one operation of the HTTP surface.
type Endpoint int

const (
	EndpointOpenAIChat Endpoint = iota
	EndpointOpenAIModels
	EndpointGeminiGenerate
	EndpointGeminiModels
	EndpointClaudeMessages
)

// Def declares one route of the protocol surface: the gin pattern, the HTTP
// method, the endpoint it classifies as, and the inbound protocol family.
// The server registers this table once at the root and once under each
// provider prefix.
type Def struct {
	Method   string
	Pattern  string
	Endpoint Endpoint
	Family   converter.Family
}

// Table is the complete protocol surface. Gemini generate and stream share
// one wildcard pattern because the model segment carries a colon action
// suffix (model:generateContent) that path parameters cannot split.
func Table() []Def {
	return []Def{
		{http.MethodPost, "/v1/chat/completions", EndpointOpenAIChat, converter.OpenAI},
		{http.MethodGet, "/v1/models", EndpointOpenAIModels, converter.OpenAI},
		{http.MethodGet, "/v1beta/models", EndpointGeminiModels, converter.Gemini},
		{http.MethodPost, "/v1beta/models/*action", EndpointGeminiGenerate, converter.Gemini},
		{http.MethodPost, "/v1/messages", EndpointClaudeMessages, converter.Claude},
	}
}

// SplitGeminiAction splits the wildcard tail of a Gemini generate call into
// the model name and the action verb, reporting streaming mode. The tail
// looks like "/gemini-2.5-pro:streamGenerateContent".
func SplitGeminiAction(tail string) (model string, stream bool, err error) {
	tail = strings.TrimPrefix(tail, "/")
	model, action, found := strings.Cut(tail, ":")
	if !found || model == "" {
		return "", false, fmt.Errorf("malformed model action %q", tail)
	}
	// Query-style suffixes (":streamGenerateContent?alt=sse") ride along in
	// some clients; gin keeps them out of the wildcard, but be tolerant.
	if i := strings.IndexByte(action, '?'); i >= 0 {
		action = action[:i]
	}
	switch action {
	case "generateContent":
		return model, false, nil
	case "streamGenerateContent":
		return model, true, nil
	}
	return "", false, fmt.Errorf("unknown action %q", action)
}

// Router owns per-request routing decisions. It is immutable after New and
// safe for concurrent use.
type Router struct {
	cfg     *config.Config
	prompts *sysprompt.Manager
}

// New builds a router over the startup configuration and the system-prompt
// manager.
func New(cfg *config.Config, prompts *sysprompt.Manager) *Router {
	return &Router{cfg: cfg, prompts: prompts}
}

// Resolve picks the provider for a request and returns its config snapshot.
// Priority: provider pinned by the URL prefix, then the model-provider
// header, then the configured default. The header is deleted so it never
// leaks upstream.
func (r *Router) Resolve(pinned config.Provider, header http.Header) config.Snapshot {
	if pinned != "" {
		header.Del(HeaderProvider)
		return r.cfg.Snapshot(pinned)
	}
	if raw := header.Get(HeaderProvider); raw != "" {
		header.Del(HeaderProvider)
		if p, ok := config.ParseProvider(raw); ok {
			return r.cfg.Snapshot(p)
		}
		log.Warnf("router: ignoring unknown %s header %q", HeaderProvider, raw)
	}
	return r.cfg.Snapshot("")
}

// RouteModel applies the default-model policy to the requested model and
// verifies the provider can serve the result at all.
func (r *Router) RouteModel(snap config.Snapshot, requested string) (string, error) {
	model := requested
	switch snap.DefaultModelMode() {
	case config.ModelModeForce:
		if snap.DefaultModel() != "" {
			model = snap.DefaultModel()
		}
	default:
		if model == "" {
			model = snap.DefaultModel()
		}
	}
	if model == "" {
		return "", fmt.Errorf("%w: no model requested and no default configured", upstream.ErrUnsupportedModel)
	}
	if !servable(snap.Provider(), model) {
		return "", fmt.Errorf("%w: %s cannot serve %q", upstream.ErrUnsupportedModel, snap.Provider(), model)
	}
	return model, nil
}

// servable is the fail-fast model check. Code Assist hosts only Gemini
// models and CodeWhisperer only its Claude catalogue; the static-key
// providers forward any model name and let the upstream judge it.
func servable(p config.Provider, model string) bool {
	name := strings.ToLower(model)
	switch p {
	case config.ProviderGeminiCLI:
		return strings.HasPrefix(name, "gemini")
	case config.ProviderKiroAPI:
		return strings.HasPrefix(name, "claude") || strings.HasPrefix(name, "amazonq")
	default:
		return true
	}
}

// ApplySystemPromptFromFile injects the configured prompt file into a body
// of the given family, honoring the overwrite/append mode. Called after the
// body is in its outbound shape. Injection trouble is logged and the body
// returned unchanged: a side channel must not fail the request.
func (r *Router) ApplySystemPromptFromFile(family converter.Family, body []byte) []byte {
	strat := StrategyFor(family)
	if strat == nil || r.prompts == nil {
		return body
	}
	merged, applied := r.prompts.Apply(strat.ExtractSystemText(body))
	if !applied {
		return body
	}
	out, err := strat.SetSystemText(body, merged)
	if err != nil {
		log.WithError(err).Warn("router: system prompt injection failed")
		return body
	}
	return out
}

// MirrorSystemPromptToFile records the system text of an inbound request
// into the mirror file. Best-effort by construction.
func (r *Router) MirrorSystemPromptToFile(family converter.Family, body []byte) {
	strat := StrategyFor(family)
	if strat == nil || r.prompts == nil {
		return
	}
	r.prompts.Mirror(strat.ExtractSystemText(body))
}

package upstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	kiroauth "github.com/aigate-dev/aigate/internal/auth/kiro"
	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/json"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/resilience"
	"github.com/aigate-dev/aigate/internal/usage"
)

const (
	// KiroRequestTimeout bounds the socket for CodeWhisperer calls; the
	// service assembles the whole response before answering.
	KiroRequestTimeout = 120 * time.Second

	defaultKiroProfileArn = "arn:aws:codewhisperer:us-east-1:699475941385:profile/EHGA3GRVQMUK"

	kiroAssistantPath = "/generateAssistantResponse"
	kiroAmazonQPath   = "/SendMessageStreaming"

	// pseudoStreamInterval spaces out synthesized chunks so a response
	// parsed in one piece still reads as a stream.
	pseudoStreamInterval = 20 * time.Millisecond
)

// kiroModels maps public claude model names onto CodeWhisperer ids.
var kiroModels = []converter.Model{
	{ID: "claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4 (Kiro)", Created: 1747180800},
	{ID: "claude-3-7-sonnet-20250219", DisplayName: "Claude 3.7 Sonnet (Kiro)", Created: 1740009600},
}

func kiroModelID(model string) (string, bool) {
	switch {
	case strings.HasPrefix(model, "amazonq"):
		return model, true
	case strings.HasPrefix(model, "claude-sonnet-4"):
		return "CLAUDE_SONNET_4_20250514_V1_0", true
	case strings.HasPrefix(model, "claude-3-7-sonnet"):
		return "CLAUDE_3_7_SONNET_20250219_V1_0", true
	}
	return "", false
}

// fingerprint identifies this process to CodeWhisperer: the hash of the
// first non-loopback MAC, stable across runs on the same machine.
var fingerprint = sync.OnceValue(func() string {
	seed := "unknown-host"
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			seed = iface.HardwareAddr.String()
			break
		}
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
})

// KiroAPI serves claude-family models through AWS CodeWhisperer. The
// upstream has no streaming mode for these models, so streaming responses
// are synthesized from the fully parsed result.
type KiroAPI struct {
	caller     *caller
	store      *kiroauth.Store
	baseURL    string
	nearWindow time.Duration
	pacer      *resilience.Pacer
}

// NewKiroAPI builds the adapter. The HTTP client should carry the longer
// Kiro socket timeout.
func NewKiroAPI(cfg config.KiroConfig, store *kiroauth.Store, client *http.Client, retry resilience.RetryConfig, nearWindow time.Duration) *KiroAPI {
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://codewhisperer.%s.amazonaws.com", store.Region())
	}
	return &KiroAPI{
		caller:     newCaller(string(config.ProviderKiroAPI), client, retry, store, http.StatusForbidden),
		store:      store,
		baseURL:    strings.TrimRight(base, "/"),
		nearWindow: nearWindow,
		pacer:      resilience.NewPacer(pseudoStreamInterval, 1),
	}
}

func (a *KiroAPI) Provider() config.Provider { return config.ProviderKiroAPI }

// Family is Claude: the adapter consumes and produces Claude-native payloads.
func (a *KiroAPI) Family() converter.Family { return converter.Claude }

func (a *KiroAPI) build(url string, payload []byte) buildFunc {
	return func(ctx context.Context) (*http.Request, error) {
		token, err := a.store.Token(ctx)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		fp := fingerprint()
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("x-amz-user-agent", "aws-sdk-js/1.0.7 KiroIDE-"+fp)
		req.Header.Set("User-Agent", "aws-sdk-js/1.0.7 ua/2.1 api/codewhispererstreaming#1.0.7 lang/js md/nodejs KiroIDE-"+fp)
		return req, nil
	}
}

// generate runs the full CodeWhisperer exchange and returns the canonical
// result; unary and pseudo-stream paths share it.
func (a *KiroAPI) generate(ctx context.Context, model string, body []byte) (*converter.Response, error) {
	modelID, ok := kiroModelID(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
	}

	req, err := converter.ParseRequest(converter.Claude, body)
	if err != nil {
		return nil, err
	}

	profileArn := a.store.ProfileArn()
	if profileArn == "" && a.store.Social() {
		profileArn = defaultKiroProfileArn
	}

	payload, err := buildKiroConversation(req, modelID, profileArn)
	if err != nil {
		return nil, err
	}

	path := kiroAssistantPath
	if strings.HasPrefix(model, "amazonq") {
		path = kiroAmazonQPath
	}

	ctx, cancel := context.WithTimeout(ctx, KiroRequestTimeout)
	defer cancel()

	raw, err := a.caller.Do(ctx, a.build(a.baseURL+path, payload))
	if err != nil {
		return nil, err
	}

	parsed := parseKiroEventStream(raw)
	resp := &converter.Response{
		Model:     model,
		Text:      parsed.Text,
		ToolCalls: parsed.ToolCalls,
		Finish:    converter.FinishStop,
	}
	if len(parsed.ToolCalls) > 0 {
		resp.Finish = converter.FinishToolUse
	}
	resp.Usage = converter.Usage{
		InputTokens:  usage.EstimateTokens(promptText(req)),
		OutputTokens: usage.EstimateTokens(parsed.Text),
	}
	resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	return resp, nil
}

func (a *KiroAPI) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	resp, err := a.generate(ctx, model, body)
	if err != nil {
		return nil, err
	}
	return converter.EmitResponse(converter.Claude, resp, &converter.Options{Model: model})
}

// GenerateContentStream synthesizes a stream: the full response is fetched,
// then emitted as the standard Claude event sequence with paced delivery.
func (a *KiroAPI) GenerateContentStream(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
	resp, err := a.generate(ctx, model, body)
	if err != nil {
		return nil, err
	}
	events := converter.ClaudePseudoStream(resp, &converter.Options{Model: model})

	out := make(chan StreamChunk, len(events))
	go func() {
		defer close(out)
		for _, event := range events {
			if err := a.pacer.Wait(ctx); err != nil {
				return
			}
			select {
			case out <- StreamChunk{Data: event}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (a *KiroAPI) ListModels(ctx context.Context) ([]converter.Model, error) {
	return append([]converter.Model(nil), kiroModels...), nil
}

func (a *KiroAPI) RefreshTokenIfNearExpiry(ctx context.Context) {
	if !a.store.ExpiryNear(a.nearWindow) {
		return
	}
	if err := a.store.ForceRefresh(ctx); err != nil {
		log.WithError(err).Warnf("kiro-api: scheduled token refresh failed")
	}
}

// promptText flattens the request into the text the tokenizer estimates
// input usage from.
func promptText(req *converter.Request) string {
	var sb strings.Builder
	sb.WriteString(req.System)
	for _, turn := range req.Turns {
		for _, part := range turn.Parts {
			if part.Kind == converter.PartText {
				sb.WriteString("\n")
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}

// CodeWhisperer conversation shapes.

type kiroRequest struct {
	ConversationState kiroConversationState `json:"conversationState"`
	ProfileArn        string                `json:"profileArn,omitempty"`
}

type kiroConversationState struct {
	ChatTriggerType string        `json:"chatTriggerType"`
	ConversationID  string        `json:"conversationId"`
	CurrentMessage  kiroUserEntry `json:"currentMessage"`
	History         []any         `json:"history,omitempty"`
}

type kiroUserEntry struct {
	UserInputMessage kiroUserMessage `json:"userInputMessage"`
}

type kiroAssistantEntry struct {
	AssistantResponseMessage kiroAssistantMessage `json:"assistantResponseMessage"`
}

type kiroUserMessage struct {
	Content string           `json:"content"`
	ModelID string           `json:"modelId,omitempty"`
	Origin  string           `json:"origin,omitempty"`
	Context *kiroUserContext `json:"userInputMessageContext,omitempty"`
}

type kiroUserContext struct {
	ToolResults []kiroToolResult `json:"toolResults,omitempty"`
	Tools       []kiroTool       `json:"tools,omitempty"`
}

type kiroToolResult struct {
	ToolUseID string            `json:"toolUseId"`
	Status    string            `json:"status"`
	Content   []kiroToolContent `json:"content"`
}

type kiroToolContent struct {
	Text string `json:"text,omitempty"`
}

type kiroTool struct {
	ToolSpecification kiroToolSpec `json:"toolSpecification"`
}

type kiroToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema kiroToolSchema `json:"inputSchema"`
}

type kiroToolSchema struct {
	JSON json.RawMessage `json:"json"`
}

type kiroAssistantMessage struct {
	Content  string        `json:"content"`
	ToolUses []kiroToolUse `json:"toolUses,omitempty"`
}

type kiroToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

// buildKiroConversation shapes a canonical request into conversationState:
// the last turn becomes currentMessage, everything before it becomes
// alternating history, and a leading system prompt folds into the first
// user turn.
func buildKiroConversation(req *converter.Request, modelID, profileArn string) ([]byte, error) {
	turns := req.Turns
	if len(turns) == 0 {
		return nil, converter.ErrEmptyConversation
	}

	if req.System != "" {
		if turns[0].Role == converter.RoleUser {
			turns = append([]converter.Turn(nil), turns...)
			prefixed := append([]converter.Part{{Kind: converter.PartText, Text: req.System}}, turns[0].Parts...)
			turns[0] = converter.Turn{Role: converter.RoleUser, Parts: prefixed}
		} else {
			system := converter.Turn{Role: converter.RoleUser, Parts: []converter.Part{{Kind: converter.PartText, Text: req.System}}}
			turns = append([]converter.Turn{system}, turns...)
		}
	}

	last := turns[len(turns)-1]
	prior := turns[:len(turns)-1]

	current := kiroUserEntry{UserInputMessage: kiroUserMessage{
		Content: kiroTurnText(last),
		ModelID: modelID,
		Origin:  "AI_EDITOR",
	}}
	ctx := &kiroUserContext{
		ToolResults: kiroToolResults(last),
		Tools:       kiroToolSpecs(req.Tools),
	}
	if len(ctx.ToolResults) > 0 || len(ctx.Tools) > 0 {
		current.UserInputMessage.Context = ctx
	}

	state := kiroConversationState{
		ChatTriggerType: "MANUAL",
		ConversationID:  uuid.NewString(),
		CurrentMessage:  current,
		History:         kiroHistory(prior, modelID),
	}
	return json.Marshal(kiroRequest{ConversationState: state, ProfileArn: profileArn})
}

// kiroHistory folds prior turns into alternating user/assistant entries:
// consecutive same-role turns merge, a leading assistant gets an empty user
// before it, and a trailing user gets an empty assistant after it.
func kiroHistory(turns []converter.Turn, modelID string) []any {
	type flat struct {
		role        converter.Role
		text        string
		toolResults []kiroToolResult
		toolUses    []kiroToolUse
	}

	var merged []flat
	for _, turn := range turns {
		role := turn.Role
		if role != converter.RoleAssistant {
			role = converter.RoleUser
		}
		entry := flat{
			role:        role,
			text:        kiroTurnText(turn),
			toolResults: kiroToolResults(turn),
			toolUses:    kiroToolUses(turn),
		}
		if n := len(merged); n > 0 && merged[n-1].role == role {
			prev := &merged[n-1]
			if entry.text != "" {
				if prev.text != "" {
					prev.text += "\n"
				}
				prev.text += entry.text
			}
			prev.toolResults = append(prev.toolResults, entry.toolResults...)
			prev.toolUses = append(prev.toolUses, entry.toolUses...)
			continue
		}
		merged = append(merged, entry)
	}

	if len(merged) == 0 {
		return nil
	}
	if merged[0].role == converter.RoleAssistant {
		merged = append([]flat{{role: converter.RoleUser}}, merged...)
	}
	if merged[len(merged)-1].role == converter.RoleUser {
		merged = append(merged, flat{role: converter.RoleAssistant})
	}

	history := make([]any, 0, len(merged))
	for _, entry := range merged {
		if entry.role == converter.RoleAssistant {
			history = append(history, kiroAssistantEntry{AssistantResponseMessage: kiroAssistantMessage{
				Content:  entry.text,
				ToolUses: entry.toolUses,
			}})
			continue
		}
		msg := kiroUserMessage{Content: entry.text, ModelID: modelID, Origin: "AI_EDITOR"}
		if len(entry.toolResults) > 0 {
			msg.Context = &kiroUserContext{ToolResults: entry.toolResults}
		}
		history = append(history, kiroUserEntry{UserInputMessage: msg})
	}
	return history
}

// kiroTurnText joins the text parts of a turn; media parts are not
// representable upstream and are dropped.
func kiroTurnText(turn converter.Turn) string {
	var sb strings.Builder
	for _, part := range turn.Parts {
		if part.Kind != converter.PartText || part.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func kiroToolResults(turn converter.Turn) []kiroToolResult {
	var out []kiroToolResult
	for _, part := range turn.Parts {
		if part.Kind != converter.PartToolResult || part.ToolResult == nil {
			continue
		}
		out = append(out, kiroToolResult{
			ToolUseID: part.ToolResult.CallID,
			Status:    "success",
			Content:   []kiroToolContent{{Text: part.ToolResult.Content}},
		})
	}
	return out
}

func kiroToolUses(turn converter.Turn) []kiroToolUse {
	var out []kiroToolUse
	for _, part := range turn.Parts {
		if part.Kind != converter.PartToolCall || part.ToolCall == nil {
			continue
		}
		args := part.ToolCall.Args
		if args == "" {
			args = "{}"
		}
		out = append(out, kiroToolUse{
			ToolUseID: part.ToolCall.ID,
			Name:      part.ToolCall.Name,
			Input:     json.RawMessage(args),
		})
	}
	return out
}

func kiroToolSpecs(tools []converter.Tool) []kiroTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]kiroTool, 0, len(tools))
	for _, tool := range tools {
		schema := tool.Params
		if schema == "" {
			schema = `{"type":"object","properties":{}}`
		}
		out = append(out, kiroTool{ToolSpecification: kiroToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: kiroToolSchema{JSON: json.RawMessage(schema)},
		}})
	}
	return out
}

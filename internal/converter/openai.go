package converter

import (
	"fmt"
	"strings"

	"github.com/aigate-dev/aigate/internal/json"
)

// OpenAI wire shapes. Fields the gateway never inspects are omitted; identity
// conversions pass the raw payload through untouched.

type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	Tools       []openaiTool     `json:"tools,omitempty"`
	ToolChoice  json.RawMessage  `json:"tool_choice,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Stop        json.RawMessage  `json:"stop,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiContentPart struct {
	Type       string            `json:"type"`
	Text       string            `json:"text,omitempty"`
	ImageURL   *openaiImageURL   `json:"image_url,omitempty"`
	InputAudio *openaiInputAudio `json:"input_audio,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type openaiToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model,omitempty"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
}

type openaiChoice struct {
	Index        int                  `json:"index"`
	Message      *openaiChoiceMessage `json:"message,omitempty"`
	Delta        *openaiDelta         `json:"delta,omitempty"`
	FinishReason *string              `json:"finish_reason"`
}

type openaiChoiceMessage struct {
	Role      string           `json:"role"`
	Content   *string          `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   *string          `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiModelList struct {
	Object string        `json:"object"`
	Data   []openaiModel `json:"data"`
}

type openaiModel struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// --- request ---

func parseOpenAIRequest(payload []byte) (*Request, error) {
	var wire openaiRequest
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed OpenAI request: %w", err)
	}
	if len(wire.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	req := &Request{
		Model:       wire.Model,
		Temperature: wire.Temperature,
		TopP:        wire.TopP,
		MaxTokens:   wire.MaxTokens,
		Stream:      wire.Stream,
		Stop:        parseStopField(wire.Stop),
	}

	var systemTexts []string
	for _, msg := range wire.Messages {
		switch msg.Role {
		case "system", "developer":
			systemTexts = append(systemTexts, openaiContentText(msg.Content))
		case "tool":
			req.Turns = append(req.Turns, Turn{Role: RoleTool, Parts: []Part{{
				Kind: PartToolResult,
				ToolResult: &ToolResult{
					CallID:  msg.ToolCallID,
					Name:    msg.Name,
					Content: openaiContentText(msg.Content),
				},
			}}})
		case "assistant":
			parts, err := parseOpenAIContent(msg.Content)
			if err != nil {
				return nil, err
			}
			for _, tc := range msg.ToolCalls {
				call := &ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments}
				if call.ID == "" {
					call.ID = newCallID()
				}
				if call.Args == "" {
					call.Args = "{}"
				}
				parts = append(parts, Part{Kind: PartToolCall, ToolCall: call})
			}
			req.Turns = append(req.Turns, Turn{Role: RoleAssistant, Parts: parts})
		default: // user and anything unrecognized
			parts, err := parseOpenAIContent(msg.Content)
			if err != nil {
				return nil, err
			}
			req.Turns = append(req.Turns, Turn{Role: RoleUser, Parts: parts})
		}
	}
	req.System = strings.Join(systemTexts, "\n\n")

	for _, tool := range wire.Tools {
		if tool.Type != "" && tool.Type != "function" {
			continue
		}
		req.Tools = append(req.Tools, Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Params:      string(tool.Function.Parameters),
		})
	}
	req.ToolChoice = parseOpenAIToolChoice(wire.ToolChoice)
	return req, nil
}

// parseOpenAIContent handles the string-or-array content field.
func parseOpenAIContent(raw json.RawMessage) ([]Part, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("malformed OpenAI content: %w", err)
		}
		if text == "" {
			return nil, nil
		}
		return []Part{{Kind: PartText, Text: text}}, nil
	}

	var wireParts []openaiContentPart
	if err := json.Unmarshal(raw, &wireParts); err != nil {
		return nil, fmt.Errorf("malformed OpenAI content parts: %w", err)
	}
	parts := make([]Part, 0, len(wireParts))
	for _, wp := range wireParts {
		switch wp.Type {
		case "text":
			parts = append(parts, Part{Kind: PartText, Text: wp.Text})
		case "image_url":
			if wp.ImageURL == nil {
				continue
			}
			if mimeType, data, ok := parseDataURL(wp.ImageURL.URL); ok {
				parts = append(parts, Part{Kind: PartImage, MIME: mimeType, Data: data})
			} else {
				parts = append(parts, Part{Kind: PartImage, URI: wp.ImageURL.URL, MIME: mimeFromURI(wp.ImageURL.URL, "image/jpeg")})
			}
		case "input_audio":
			if wp.InputAudio == nil {
				continue
			}
			parts = append(parts, Part{Kind: PartAudio, MIME: "audio/" + wp.InputAudio.Format, Data: wp.InputAudio.Data})
		}
	}
	return parts, nil
}

func openaiContentText(raw json.RawMessage) string {
	parts, err := parseOpenAIContent(raw)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Kind == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func parseOpenAIToolChoice(raw json.RawMessage) *ToolChoice {
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '"' {
		var mode string
		if json.Unmarshal(raw, &mode) != nil {
			return nil
		}
		switch mode {
		case "auto":
			return &ToolChoice{Mode: ToolChoiceAuto}
		case "none":
			return &ToolChoice{Mode: ToolChoiceNone}
		case "required":
			return &ToolChoice{Mode: ToolChoiceRequired}
		}
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if json.Unmarshal(raw, &obj) != nil {
		return nil
	}
	if obj.Function.Name != "" {
		return &ToolChoice{Mode: ToolChoiceFunction, Name: obj.Function.Name}
	}
	return nil
}

func parseStopField(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return []string{s}
		}
		return nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return list
	}
	return nil
}

func emitOpenAIRequest(req *Request) ([]byte, error) {
	wire := openaiRequest{
		Model:       req.Model,
		Temperature: floatPtr(defaultTemperature(req.Temperature)),
		TopP:        floatPtr(defaultTopP(req.TopP)),
		MaxTokens:   intPtr(defaultMaxTokens(req.MaxTokens, DefaultMaxTokens)),
		Stream:      req.Stream,
	}
	if len(req.Stop) > 0 {
		raw, err := json.Marshal(req.Stop)
		if err != nil {
			return nil, err
		}
		wire.Stop = raw
	}

	if req.System != "" {
		content, _ := json.Marshal(req.System)
		wire.Messages = append(wire.Messages, openaiMessage{Role: "system", Content: content})
	}

	for _, turn := range req.Turns {
		switch turn.Role {
		case RoleTool:
			for _, part := range turn.Parts {
				if part.Kind != PartToolResult || part.ToolResult == nil {
					continue
				}
				content, _ := json.Marshal(part.ToolResult.Content)
				wire.Messages = append(wire.Messages, openaiMessage{
					Role:       "tool",
					ToolCallID: part.ToolResult.CallID,
					Content:    content,
				})
			}
		case RoleAssistant:
			msg := openaiMessage{Role: "assistant"}
			var calls []openaiToolCall
			for _, part := range turn.Parts {
				if part.Kind == PartToolCall && part.ToolCall != nil {
					calls = append(calls, openaiToolCall{
						ID:   part.ToolCall.ID,
						Type: "function",
						Function: openaiFunctionCall{
							Name:      part.ToolCall.Name,
							Arguments: part.ToolCall.Args,
						},
					})
				}
			}
			msg.Content = emitOpenAIContent(turn.Parts)
			msg.ToolCalls = calls
			wire.Messages = append(wire.Messages, msg)
		default:
			wire.Messages = append(wire.Messages, openaiMessage{
				Role:    "user",
				Content: emitOpenAIContent(turn.Parts),
			})
		}
	}

	for _, tool := range req.Tools {
		wire.Tools = append(wire.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  rawOrNil(tool.Params),
			},
		})
	}
	wire.ToolChoice = emitOpenAIToolChoice(req.ToolChoice)
	return json.Marshal(&wire)
}

// emitOpenAIContent renders parts as a bare string when they are text-only,
// otherwise as a content-part array.
func emitOpenAIContent(parts []Part) json.RawMessage {
	var texts []string
	multimodal := false
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			texts = append(texts, p.Text)
		case PartImage, PartAudio:
			multimodal = true
		}
	}

	if !multimodal {
		if len(texts) == 0 {
			return nil
		}
		raw, _ := json.Marshal(strings.Join(texts, ""))
		return raw
	}

	wireParts := make([]openaiContentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			wireParts = append(wireParts, openaiContentPart{Type: "text", Text: p.Text})
		case PartImage:
			url := p.URI
			if url == "" {
				url = makeDataURL(p.MIME, p.Data)
			}
			wireParts = append(wireParts, openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{URL: url}})
		case PartAudio:
			if p.Data != "" {
				wireParts = append(wireParts, openaiContentPart{Type: "input_audio", InputAudio: &openaiInputAudio{
					Data:   p.Data,
					Format: audioFormatFromMIME(p.MIME),
				}})
			} else {
				wireParts = append(wireParts, openaiContentPart{Type: "text", Text: "[Audio: " + p.URI + "]"})
			}
		}
	}
	raw, _ := json.Marshal(wireParts)
	return raw
}

func emitOpenAIToolChoice(tc *ToolChoice) json.RawMessage {
	if tc == nil {
		return nil
	}
	switch tc.Mode {
	case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		raw, _ := json.Marshal(string(tc.Mode))
		return raw
	case ToolChoiceFunction:
		raw, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		})
		return raw
	}
	return nil
}

// --- response ---

func parseOpenAIResponse(payload []byte) (*Response, error) {
	var wire openaiResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed OpenAI response: %w", err)
	}
	resp := &Response{Model: wire.Model}
	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		if choice.Message != nil {
			if choice.Message.Content != nil {
				resp.Text = *choice.Message.Content
			}
			for _, tc := range choice.Message.ToolCalls {
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
			}
		}
		if choice.FinishReason != nil {
			resp.Finish = finishFromOpenAI(*choice.FinishReason)
		}
	}
	if wire.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
			TotalTokens:  wire.Usage.TotalTokens,
		}
	}
	return resp, nil
}

func emitOpenAIResponse(resp *Response, opts *Options) ([]byte, error) {
	model := opts.model()
	if model == "" {
		model = resp.Model
	}

	msg := &openaiChoiceMessage{Role: "assistant"}
	if resp.Text != "" || len(resp.ToolCalls) == 0 {
		text := resp.Text
		msg.Content = &text
	}
	for _, call := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
			ID:       call.ID,
			Type:     "function",
			Function: openaiFunctionCall{Name: call.Name, Arguments: call.Args},
		})
	}

	finish := finishToOpenAI(resp.Finish, len(resp.ToolCalls) > 0)
	wire := openaiResponse{
		ID:      opts.responseID(newCompletionID),
		Object:  "chat.completion",
		Created: opts.created(),
		Model:   model,
		Choices: []openaiChoice{{Index: 0, Message: msg, FinishReason: &finish}},
		Usage: &openaiUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.Total(),
		},
	}
	return json.Marshal(&wire)
}

func finishFromOpenAI(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolUse
	case "content_filter":
		return FinishFilter
	case "error":
		return FinishError
	case "":
		return FinishNone
	default:
		return FinishStop
	}
}

func finishToOpenAI(reason FinishReason, hasToolCalls bool) string {
	switch reason {
	case FinishLength:
		return "length"
	case FinishToolUse:
		return "tool_calls"
	case FinishFilter:
		return "content_filter"
	case FinishError:
		return "error"
	case FinishStop, FinishNone:
		if hasToolCalls {
			return "tool_calls"
		}
		return "stop"
	default:
		return "stop"
	}
}

// --- model list ---

func parseOpenAIModels(payload []byte) ([]Model, error) {
	var wire openaiModelList
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed OpenAI model list: %w", err)
	}
	models := make([]Model, 0, len(wire.Data))
	for _, m := range wire.Data {
		models = append(models, Model{ID: m.ID, DisplayName: m.ID, Created: m.Created})
	}
	return models, nil
}

func emitOpenAIModels(models []Model) ([]byte, error) {
	wire := openaiModelList{Object: "list", Data: make([]openaiModel, 0, len(models))}
	for _, m := range models {
		wire.Data = append(wire.Data, openaiModel{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: "organization-owner",
		})
	}
	return json.Marshal(&wire)
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

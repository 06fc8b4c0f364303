package converter

import (
	"fmt"
	"strings"
	"time"

	"github.com/aigate-dev/aigate/internal/json"
)

type claudeRequest struct {
	Model         string            `json:"model,omitempty"`
	System        json.RawMessage   `json:"system,omitempty"`
	Messages      []claudeMessage   `json:"messages"`
	Tools         []claudeTool      `json:"tools,omitempty"`
	ToolChoice    *claudeToolChoice `json:"tool_choice,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	TopK          *int              `json:"top_k,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *claudeSource   `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type claudeToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type claudeResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Model        string        `json:"model,omitempty"`
	Content      []claudeBlock `json:"content"`
	StopReason   string        `json:"stop_reason,omitempty"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        claudeUsage   `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeModelList struct {
	Data    []claudeModelEntry `json:"data"`
	FirstID string             `json:"first_id,omitempty"`
	LastID  string             `json:"last_id,omitempty"`
	HasMore bool               `json:"has_more"`
}

type claudeModelEntry struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// --- request ---

func parseClaudeRequest(payload []byte) (*Request, error) {
	var wire claudeRequest
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed Claude request: %w", err)
	}
	if len(wire.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	req := &Request{
		Model:       wire.Model,
		System:      claudeSystemText(wire.System),
		Temperature: wire.Temperature,
		TopP:        wire.TopP,
		TopK:        wire.TopK,
		MaxTokens:   wire.MaxTokens,
		Stop:        wire.StopSequences,
		Stream:      wire.Stream,
	}

	for _, msg := range wire.Messages {
		role := RoleUser
		if msg.Role == "assistant" {
			role = RoleAssistant
		}

		blocks, isText, text := claudeContentBlocks(msg.Content)
		if isText {
			req.Turns = append(req.Turns, Turn{Role: role, Parts: []Part{{Kind: PartText, Text: text}}})
			continue
		}

		var toolResults, others []Part
		for _, block := range blocks {
			switch block.Type {
			case "tool_result":
				toolResults = append(toolResults, Part{Kind: PartToolResult, ToolResult: &ToolResult{
					CallID:  block.ToolUseID,
					Content: claudeResultText(block.Content),
				}})
			case "tool_use":
				args := string(block.Input)
				if args == "" {
					args = "{}"
				}
				id := block.ID
				if id == "" {
					id = newCallID()
				}
				others = append(others, Part{Kind: PartToolCall, ToolCall: &ToolCall{ID: id, Name: block.Name, Args: args}})
			case "image":
				if block.Source == nil {
					continue
				}
				if block.Source.Type == "url" {
					others = append(others, Part{Kind: PartImage, MIME: mimeFromURI(block.Source.URL, "image/jpeg"), URI: block.Source.URL})
				} else {
					others = append(others, Part{Kind: PartImage, MIME: block.Source.MediaType, Data: block.Source.Data})
				}
			case "text":
				others = append(others, Part{Kind: PartText, Text: block.Text})
			}
		}
		if len(toolResults) > 0 {
			req.Turns = append(req.Turns, Turn{Role: RoleTool, Parts: toolResults})
		}
		if len(others) > 0 {
			req.Turns = append(req.Turns, Turn{Role: role, Parts: others})
		}
	}

	for _, tool := range wire.Tools {
		req.Tools = append(req.Tools, Tool{Name: tool.Name, Description: tool.Description, Params: string(tool.InputSchema)})
	}

	if wire.ToolChoice != nil {
		switch wire.ToolChoice.Type {
		case "auto":
			req.ToolChoice = &ToolChoice{Mode: ToolChoiceAuto}
		case "none":
			req.ToolChoice = &ToolChoice{Mode: ToolChoiceNone}
		case "any":
			req.ToolChoice = &ToolChoice{Mode: ToolChoiceRequired}
		case "tool":
			req.ToolChoice = &ToolChoice{Mode: ToolChoiceFunction, Name: wire.ToolChoice.Name}
		}
	}
	return req, nil
}

// claudeSystemText flattens the system field, which arrives either as a
// string or as an array of text blocks.
func claudeSystemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, block := range blocks {
			if block.Type == "text" && block.Text != "" {
				texts = append(texts, block.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

// claudeContentBlocks decodes a message content field. isText reports the
// plain-string form.
func claudeContentBlocks(raw json.RawMessage) (blocks []claudeBlock, isText bool, text string) {
	if len(raw) == 0 {
		return nil, true, ""
	}
	if err := json.Unmarshal(raw, &text); err == nil {
		return nil, true, text
	}
	_ = json.Unmarshal(raw, &blocks)
	return blocks, false, ""
}

// claudeResultText flattens tool_result content, which may be a string or an
// array of text blocks.
func claudeResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, block := range blocks {
			if block.Type == "text" {
				texts = append(texts, block.Text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	}
	return string(raw)
}

func emitClaudeRequest(req *Request) ([]byte, error) {
	wire := claudeRequest{
		Model:         req.Model,
		Temperature:   floatPtr(defaultTemperature(req.Temperature)),
		TopP:          floatPtr(defaultTopP(req.TopP)),
		TopK:          req.TopK,
		MaxTokens:     intPtr(defaultMaxTokens(req.MaxTokens, DefaultMaxTokens)),
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if req.System != "" {
		system, _ := json.Marshal(req.System)
		wire.System = system
	}

	names := toolNamesByID(req.Turns)
	for _, turn := range coalesceTurns(req.Turns) {
		switch turn.Role {
		case RoleTool:
			var blocks []claudeBlock
			for _, part := range turn.Parts {
				if part.ToolResult == nil {
					continue
				}
				callID := part.ToolResult.CallID
				if callID == "" {
					callID = geminiCallID(resolveToolName(part.ToolResult, names))
				}
				content, _ := json.Marshal(part.ToolResult.Content)
				blocks = append(blocks, claudeBlock{Type: "tool_result", ToolUseID: callID, Content: content})
			}
			appendClaudeMessage(&wire, "user", blocks)
		case RoleAssistant:
			var blocks []claudeBlock
			for _, part := range turn.Parts {
				switch part.Kind {
				case PartText:
					if part.Text != "" {
						blocks = append(blocks, claudeBlock{Type: "text", Text: part.Text})
					}
				case PartToolCall:
					if part.ToolCall == nil {
						continue
					}
					blocks = append(blocks, claudeBlock{
						Type:  "tool_use",
						ID:    part.ToolCall.ID,
						Name:  part.ToolCall.Name,
						Input: argsObject(part.ToolCall.Args),
					})
				}
			}
			appendClaudeMessage(&wire, "assistant", blocks)
		default:
			var blocks []claudeBlock
			for _, part := range turn.Parts {
				switch part.Kind {
				case PartText:
					blocks = append(blocks, claudeBlock{Type: "text", Text: part.Text})
				case PartImage:
					if part.Data != "" {
						blocks = append(blocks, claudeBlock{Type: "image", Source: &claudeSource{Type: "base64", MediaType: part.MIME, Data: part.Data}})
					} else {
						blocks = append(blocks, claudeBlock{Type: "text", Text: "[Image: " + part.URI + "]"})
					}
				case PartAudio:
					if part.URI != "" {
						blocks = append(blocks, claudeBlock{Type: "text", Text: "[Audio: " + part.URI + "]"})
					} else {
						blocks = append(blocks, claudeBlock{Type: "text", Text: "[Audio: " + part.MIME + "]"})
					}
				}
			}
			appendClaudeMessage(&wire, "user", blocks)
		}
	}

	for _, tool := range req.Tools {
		wire.Tools = append(wire.Tools, claudeTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: rawOrNil(tool.Params),
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case ToolChoiceAuto:
			wire.ToolChoice = &claudeToolChoice{Type: "auto"}
		case ToolChoiceNone:
			wire.ToolChoice = &claudeToolChoice{Type: "none"}
		case ToolChoiceRequired:
			wire.ToolChoice = &claudeToolChoice{Type: "any"}
		case ToolChoiceFunction:
			wire.ToolChoice = &claudeToolChoice{Type: "tool", Name: req.ToolChoice.Name}
		}
	}
	return json.Marshal(&wire)
}

func appendClaudeMessage(wire *claudeRequest, role string, blocks []claudeBlock) {
	if len(blocks) == 0 {
		return
	}
	var content json.RawMessage
	if len(blocks) == 1 && blocks[0].Type == "text" {
		content, _ = json.Marshal(blocks[0].Text)
	} else {
		content, _ = json.Marshal(blocks)
	}
	wire.Messages = append(wire.Messages, claudeMessage{Role: role, Content: content})
}

// --- response ---

func parseClaudeResponse(payload []byte) (*Response, error) {
	var wire claudeResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed Claude response: %w", err)
	}
	resp := &Response{Model: wire.Model}
	var sb strings.Builder
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			sb.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}
	resp.Text = sb.String()
	resp.Finish = finishFromClaude(wire.StopReason)
	resp.Usage = Usage{
		InputTokens:  wire.Usage.InputTokens,
		OutputTokens: wire.Usage.OutputTokens,
		TotalTokens:  wire.Usage.InputTokens + wire.Usage.OutputTokens,
	}
	return resp, nil
}

func emitClaudeResponse(resp *Response, opts *Options) ([]byte, error) {
	wire := claudeResponse{
		ID:         opts.responseID(newMessageID),
		Type:       "message",
		Role:       "assistant",
		Model:      opts.model(),
		StopReason: finishToClaude(resp.Finish, len(resp.ToolCalls) > 0),
		Usage: claudeUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	if resp.Text != "" || len(resp.ToolCalls) == 0 {
		wire.Content = append(wire.Content, claudeBlock{Type: "text", Text: resp.Text})
	}
	for _, call := range resp.ToolCalls {
		id := call.ID
		if id == "" {
			id = newCallID()
		}
		wire.Content = append(wire.Content, claudeBlock{Type: "tool_use", ID: id, Name: call.Name, Input: argsObject(call.Args)})
	}
	return json.Marshal(&wire)
}

func finishFromClaude(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolUse
	case "refusal", "safety":
		return FinishFilter
	case "error":
		return FinishError
	case "":
		return FinishNone
	default:
		return FinishStop
	}
}

func finishToClaude(reason FinishReason, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_use"
	}
	switch reason {
	case FinishLength:
		return "max_tokens"
	case FinishToolUse:
		return "tool_use"
	case FinishFilter:
		return "safety"
	case FinishError:
		return "error"
	case FinishNone:
		return ""
	default:
		return "end_turn"
	}
}

// --- model list ---

func parseClaudeModels(payload []byte) ([]Model, error) {
	var wire claudeModelList
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed Claude model list: %w", err)
	}
	models := make([]Model, 0, len(wire.Data))
	for _, m := range wire.Data {
		display := m.DisplayName
		if display == "" {
			display = m.ID
		}
		var created int64
		if m.CreatedAt != "" {
			if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
				created = t.Unix()
			}
		}
		models = append(models, Model{ID: m.ID, DisplayName: display, Created: created})
	}
	return models, nil
}

func emitClaudeModels(models []Model) ([]byte, error) {
	wire := claudeModelList{Data: make([]claudeModelEntry, 0, len(models))}
	for _, m := range models {
		display := m.DisplayName
		if display == "" {
			display = m.ID
		}
		entry := claudeModelEntry{Type: "model", ID: m.ID, DisplayName: display}
		if m.Created > 0 {
			entry.CreatedAt = time.Unix(m.Created, 0).UTC().Format(time.RFC3339)
		}
		wire.Data = append(wire.Data, entry)
	}
	if len(wire.Data) > 0 {
		wire.FirstID = wire.Data[0].ID
		wire.LastID = wire.Data[len(wire.Data)-1].ID
	}
	return json.Marshal(&wire)
}

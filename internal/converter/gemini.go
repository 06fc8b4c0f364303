package converter

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aigate-dev/aigate/internal/json"
	"github.com/aigate-dev/aigate/internal/util"
)

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
	SafetySettings    json.RawMessage   `json:"safetySettings,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
	FileData         *geminiFileData         `json:"fileData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResp     `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig *geminiFunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type geminiFunctionCallingConfig struct {
	Mode                 string   `json:"mode,omitempty"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

type geminiModelList struct {
	Models []geminiModelEntry `json:"models"`
}

type geminiModelEntry struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName,omitempty"`
	Description                string   `json:"description,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods,omitempty"`
}

// geminiKeyAliases maps the snake_case spellings Gemini accepts on input to
// the canonical camelCase keys used internally and on the Code Assist wire.
var geminiKeyAliases = [][2]string{
	{"system_instruction", "systemInstruction"},
	{"generation_config", "generationConfig"},
	{"tool_config", "toolConfig"},
	{"safety_settings", "safetySettings"},
	{"inline_data", "inlineData"},
	{"mime_type", "mimeType"},
	{"file_data", "fileData"},
	{"file_uri", "fileUri"},
	{"function_call", "functionCall"},
	{"function_response", "functionResponse"},
	{"function_declarations", "functionDeclarations"},
	{"function_calling_config", "functionCallingConfig"},
	{"allowed_function_names", "allowedFunctionNames"},
	{"max_output_tokens", "maxOutputTokens"},
	{"top_p", "topP"},
	{"top_k", "topK"},
	{"stop_sequences", "stopSequences"},
}

// NormalizeGeminiRequest rewrites snake_case key spellings to camelCase and
// defaults the role of any content entry that lacks one to "user". It runs on
// every Gemini-native body, including identity pass-throughs, before the
// payload goes upstream.
func NormalizeGeminiRequest(payload []byte) []byte {
	doc := string(payload)
	for _, alias := range geminiKeyAliases {
		snake, camel := alias[0], alias[1]
		var paths []string
		util.Walk(gjson.Parse(doc), "", snake, &paths)
		// Deepest paths last; rename children before parents so collected
		// paths stay valid.
		for i := len(paths) - 1; i >= 0; i-- {
			p := paths[i]
			target := camel
			if j := strings.LastIndex(p, "."); j >= 0 {
				target = p[:j+1] + camel
			}
			if renamed, err := util.RenameKey(doc, p, target); err == nil {
				doc = renamed
			}
		}
	}

	contents := gjson.Get(doc, "contents")
	if contents.IsArray() {
		for i, content := range contents.Array() {
			if content.Get("role").Exists() {
				continue
			}
			if updated, err := sjson.Set(doc, fmt.Sprintf("contents.%d.role", i), "user"); err == nil {
				doc = updated
			}
		}
	}
	return []byte(doc)
}

// --- request ---

func parseGeminiRequest(payload []byte) (*Request, error) {
	payload = NormalizeGeminiRequest(payload)

	var wire geminiRequest
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed Gemini request: %w", err)
	}
	if len(wire.Contents) == 0 {
		return nil, ErrEmptyConversation
	}

	req := &Request{}
	if wire.SystemInstruction != nil {
		var texts []string
		for _, part := range wire.SystemInstruction.Parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		req.System = strings.Join(texts, "\n")
	}

	for _, content := range wire.Contents {
		role := RoleUser
		switch content.Role {
		case "model":
			role = RoleAssistant
		case "function":
			role = RoleTool
		}
		turn := Turn{Role: role}
		for _, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				args := string(part.FunctionCall.Args)
				if args == "" {
					args = "{}"
				}
				turn.Parts = append(turn.Parts, Part{Kind: PartToolCall, ToolCall: &ToolCall{
					ID:   geminiCallID(part.FunctionCall.Name),
					Name: part.FunctionCall.Name,
					Args: args,
				}})
			case part.FunctionResponse != nil:
				turn.Role = RoleTool
				turn.Parts = append(turn.Parts, Part{Kind: PartToolResult, ToolResult: &ToolResult{
					CallID:  geminiCallID(part.FunctionResponse.Name),
					Name:    part.FunctionResponse.Name,
					Content: geminiResponseContent(part.FunctionResponse.Response),
				}})
			case part.InlineData != nil:
				turn.Parts = append(turn.Parts, Part{Kind: mediaKind(part.InlineData.MIMEType), MIME: part.InlineData.MIMEType, Data: part.InlineData.Data})
			case part.FileData != nil:
				turn.Parts = append(turn.Parts, Part{Kind: mediaKind(part.FileData.MIMEType), MIME: part.FileData.MIMEType, URI: part.FileData.FileURI})
			default:
				if part.Thought {
					continue
				}
				turn.Parts = append(turn.Parts, Part{Kind: PartText, Text: part.Text})
			}
		}
		req.Turns = append(req.Turns, turn)
	}

	for _, tool := range wire.Tools {
		for _, decl := range tool.FunctionDeclarations {
			req.Tools = append(req.Tools, Tool{
				Name:        decl.Name,
				Description: decl.Description,
				Params:      string(decl.Parameters),
			})
		}
	}

	if wire.ToolConfig != nil && wire.ToolConfig.FunctionCallingConfig != nil {
		fcc := wire.ToolConfig.FunctionCallingConfig
		switch fcc.Mode {
		case "AUTO":
			req.ToolChoice = &ToolChoice{Mode: ToolChoiceAuto}
		case "NONE":
			req.ToolChoice = &ToolChoice{Mode: ToolChoiceNone}
		case "ANY":
			if len(fcc.AllowedFunctionNames) == 1 {
				req.ToolChoice = &ToolChoice{Mode: ToolChoiceFunction, Name: fcc.AllowedFunctionNames[0]}
			} else {
				req.ToolChoice = &ToolChoice{Mode: ToolChoiceRequired}
			}
		}
	}

	if gc := wire.GenerationConfig; gc != nil {
		req.Temperature = gc.Temperature
		req.TopP = gc.TopP
		req.TopK = gc.TopK
		req.MaxTokens = gc.MaxOutputTokens
		req.Stop = gc.StopSequences
	}
	return req, nil
}

// geminiCallID derives a stable id for a Gemini function call so results can
// be correlated after translating to id-keyed families.
func geminiCallID(name string) string {
	return "call_" + name
}

// geminiResponseContent unwraps functionResponse.response to the tool output
// the other families carry directly.
func geminiResponseContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	inner := gjson.GetBytes(raw, "content")
	if inner.Exists() {
		if inner.Type == gjson.String {
			return inner.String()
		}
		return inner.Raw
	}
	return string(raw)
}

func emitGeminiRequest(req *Request) ([]byte, error) {
	wire := geminiRequest{}
	if req.System != "" {
		wire.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	names := toolNamesByID(req.Turns)
	for _, turn := range coalesceTurns(req.Turns) {
		content := geminiContent{Role: "user"}
		switch turn.Role {
		case RoleAssistant:
			content.Role = "model"
		case RoleTool:
			content.Role = "function"
		}
		for _, part := range turn.Parts {
			switch part.Kind {
			case PartText:
				content.Parts = append(content.Parts, geminiPart{Text: part.Text})
			case PartImage, PartAudio:
				if part.Data != "" {
					content.Parts = append(content.Parts, geminiPart{InlineData: &geminiBlob{MIMEType: part.MIME, Data: part.Data}})
				} else {
					content.Parts = append(content.Parts, geminiPart{FileData: &geminiFileData{MIMEType: part.MIME, FileURI: part.URI}})
				}
			case PartToolCall:
				if part.ToolCall == nil {
					continue
				}
				content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: part.ToolCall.Name,
					Args: argsObject(part.ToolCall.Args),
				}})
			case PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				response, _ := json.Marshal(map[string]any{"content": toolResultValue(part.ToolResult.Content)})
				content.Parts = append(content.Parts, geminiPart{FunctionResponse: &geminiFunctionResp{
					Name:     resolveToolName(part.ToolResult, names),
					Response: response,
				}})
			}
		}
		if len(content.Parts) == 0 {
			continue
		}
		wire.Contents = append(wire.Contents, content)
	}

	if len(req.Tools) > 0 {
		tool := geminiTool{}
		for _, t := range req.Tools {
			params := t.Params
			if params != "" {
				params = util.DeleteKey(params, "$schema")
			}
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  rawOrNil(params),
			})
		}
		wire.Tools = []geminiTool{tool}
	}

	if req.ToolChoice != nil {
		fcc := &geminiFunctionCallingConfig{}
		switch req.ToolChoice.Mode {
		case ToolChoiceAuto:
			fcc.Mode = "AUTO"
		case ToolChoiceNone:
			fcc.Mode = "NONE"
		case ToolChoiceRequired:
			fcc.Mode = "ANY"
		case ToolChoiceFunction:
			fcc.Mode = "ANY"
			fcc.AllowedFunctionNames = []string{req.ToolChoice.Name}
		}
		wire.ToolConfig = &geminiToolConfig{FunctionCallingConfig: fcc}
	}

	wire.GenerationConfig = &geminiGenConfig{
		Temperature:     floatPtr(defaultTemperature(req.Temperature)),
		TopP:            floatPtr(defaultTopP(req.TopP)),
		TopK:            req.TopK,
		MaxOutputTokens: intPtr(defaultMaxTokens(req.MaxTokens, DefaultGeminiMaxTokens)),
		StopSequences:   req.Stop,
	}
	return json.Marshal(&wire)
}

// argsObject coerces a tool-call arguments string into a JSON object.
func argsObject(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

// toolResultValue embeds tool output as structured JSON when it parses,
// otherwise as a plain string.
func toolResultValue(content string) any {
	trimmed := strings.TrimSpace(content)
	if trimmed != "" && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return content
}

// --- response ---

func parseGeminiResponse(payload []byte) (*Response, error) {
	var wire geminiResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed Gemini response: %w", err)
	}
	resp := &Response{Model: wire.ModelVersion}
	if len(wire.Candidates) > 0 {
		candidate := wire.Candidates[0]
		if candidate.Content != nil {
			var sb strings.Builder
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					args := string(part.FunctionCall.Args)
					if args == "" {
						args = "{}"
					}
					resp.ToolCalls = append(resp.ToolCalls, ToolCall{
						ID:   geminiCallID(part.FunctionCall.Name),
						Name: part.FunctionCall.Name,
						Args: args,
					})
				case part.Thought:
				default:
					sb.WriteString(part.Text)
				}
			}
			resp.Text = sb.String()
		}
		resp.Finish = finishFromGemini(candidate.FinishReason)
		if len(resp.ToolCalls) > 0 {
			resp.Finish = FinishToolUse
		}
	}
	if wire.UsageMetadata != nil {
		resp.Usage = Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  wire.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

func emitGeminiResponse(resp *Response, opts *Options) ([]byte, error) {
	content := &geminiContent{Role: "model"}
	if resp.Text != "" {
		content.Parts = append(content.Parts, geminiPart{Text: resp.Text})
	}
	for _, call := range resp.ToolCalls {
		content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
			Name: call.Name,
			Args: argsObject(call.Args),
		}})
	}
	if len(content.Parts) == 0 {
		content.Parts = []geminiPart{{Text: ""}}
	}

	wire := geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      content,
			FinishReason: finishToGemini(resp.Finish),
			Index:        0,
		}},
		UsageMetadata: &geminiUsage{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.Total(),
		},
		ModelVersion: opts.model(),
	}
	return json.Marshal(&wire)
}

func finishFromGemini(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return FinishFilter
	case "":
		return FinishNone
	default:
		return FinishStop
	}
}

func finishToGemini(reason FinishReason) string {
	switch reason {
	case FinishLength:
		return "MAX_TOKENS"
	case FinishFilter:
		return "SAFETY"
	case FinishError:
		return "OTHER"
	case FinishNone:
		return ""
	default:
		return "STOP"
	}
}

// --- model list ---

func parseGeminiModels(payload []byte) ([]Model, error) {
	var wire geminiModelList
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed Gemini model list: %w", err)
	}
	models := make([]Model, 0, len(wire.Models))
	for _, m := range wire.Models {
		id := strings.TrimPrefix(m.Name, "models/")
		display := m.DisplayName
		if display == "" {
			display = id
		}
		models = append(models, Model{ID: id, DisplayName: display})
	}
	return models, nil
}

func emitGeminiModels(models []Model) ([]byte, error) {
	wire := geminiModelList{Models: make([]geminiModelEntry, 0, len(models))}
	for _, m := range models {
		display := m.DisplayName
		if display == "" {
			display = m.ID
		}
		wire.Models = append(wire.Models, geminiModelEntry{
			Name:                       "models/" + m.ID,
			DisplayName:                display,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent"},
		})
	}
	return json.Marshal(&wire)
}

func mediaKind(mimeType string) PartKind {
	if strings.HasPrefix(mimeType, "audio/") {
		return PartAudio
	}
	return PartImage
}

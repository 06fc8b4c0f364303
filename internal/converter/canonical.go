// Package converter translates chat requests, responses, stream chunks, and
// model lists between the OpenAI, Gemini, and Claude wire formats. Every
// direction goes through a canonical form: family parsers produce it, family
// emitters serialize it, and a statically populated registry pairs them up.
package converter

import (
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Family identifies one of the three supported wire dialects.
type Family string

const (
	OpenAI Family = "openai"
	Gemini Family = "gemini"
	Claude Family = "claude"
)

// Families lists every supported protocol family.
func Families() []Family {
	return []Family{OpenAI, Gemini, Claude}
}

// Role is the canonical speaker of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates the content carried by a Part.
type PartKind uint8

const (
	PartText PartKind = iota
	PartImage
	PartAudio
	PartToolCall
	PartToolResult
)

// Part is one unit of turn content.
type Part struct {
	Kind PartKind

	// Text payload for PartText.
	Text string

	// Media fields for PartImage/PartAudio. Exactly one of Data (base64
	// payload, with MIME set) or URI is populated.
	MIME string
	Data string
	URI  string

	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolCall is a model-requested function invocation. Args holds the raw JSON
// object text of the arguments.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// ToolResult carries the outcome of an earlier ToolCall back to the model.
// Name is the function name when the source format records it; families that
// only carry the call id leave it empty and emitters resolve it from the
// conversation (see toolNamesByID).
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Turn is one conversation step.
type Turn struct {
	Role  Role
	Parts []Part
}

// Tool declares a callable function. Params is the raw JSON schema object.
type Tool struct {
	Name        string
	Description string
	Params      string
}

// ToolChoiceMode mirrors the caller's tool-choice intent.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice selects how the upstream may use tools. Name is set only for
// ToolChoiceFunction.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Request is the canonical chat request.
type Request struct {
	Model       string
	System      string
	Turns       []Turn
	Tools       []Tool
	ToolChoice  *ToolChoice
	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   *int
	Stop        []string
	Stream      bool
}

// FinishReason is the canonical stop cause.
type FinishReason string

const (
	FinishNone    FinishReason = ""
	FinishStop    FinishReason = "stop"
	FinishLength  FinishReason = "length"
	FinishToolUse FinishReason = "tool_use"
	FinishFilter  FinishReason = "content_filter"
	FinishError   FinishReason = "error"
)

// Usage is the canonical token accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Total returns TotalTokens when reported, otherwise the field sum.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Response is the canonical unary chat response.
type Response struct {
	Model     string
	Text      string
	ToolCalls []ToolCall
	Finish    FinishReason
	Usage     Usage
}

// Model is one canonical model-list entry.
type Model struct {
	ID          string
	DisplayName string
	Created     int64
}

// Sampling defaults applied when the caller omits a parameter. An explicit
// zero is preserved; only absence triggers the default.
const (
	DefaultTemperature     = 1.0
	DefaultTopP            = 0.9
	DefaultMaxTokens       = 8192
	DefaultGeminiMaxTokens = 65536
)

func defaultTemperature(v *float64) float64 {
	if v == nil {
		return DefaultTemperature
	}
	return *v
}

func defaultTopP(v *float64) float64 {
	if v == nil {
		return DefaultTopP
	}
	return *v
}

func defaultMaxTokens(v *int, fallback int) int {
	if v == nil || *v == 0 {
		return fallback
	}
	return *v
}

// newCallID mints a canonical tool-call id for formats that do not carry one.
func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// newMessageID mints a Claude-style message id.
func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// newCompletionID mints an OpenAI-style completion id.
func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// toolNamesByID maps tool-call ids to function names across the whole
// conversation, so tool results can be re-keyed by name for Gemini even when
// the source format only carries the call id.
func toolNamesByID(turns []Turn) map[string]string {
	names := make(map[string]string)
	for _, turn := range turns {
		for _, part := range turn.Parts {
			if part.Kind == PartToolCall && part.ToolCall != nil && part.ToolCall.ID != "" {
				names[part.ToolCall.ID] = part.ToolCall.Name
			}
		}
	}
	return names
}

// resolveToolName returns the best function name for a tool result: the
// recorded name, the name of the matching call, or the call id as a last
// resort.
func resolveToolName(res *ToolResult, names map[string]string) string {
	if res.Name != "" {
		return res.Name
	}
	if name, ok := names[res.CallID]; ok && name != "" {
		return name
	}
	return res.CallID
}

// textOnly reports whether every part of the turn is plain text.
func textOnly(turn Turn) bool {
	for _, part := range turn.Parts {
		if part.Kind != PartText {
			return false
		}
	}
	return true
}

// turnText concatenates the text parts of a turn.
func turnText(turn Turn) string {
	var sb strings.Builder
	for _, part := range turn.Parts {
		if part.Kind == PartText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// coalesceTurns merges adjacent same-role text-only turns, joining their text
// with a newline. Targets that want alternating roles (Gemini, Claude, the
// CodeWhisperer history) call this before emitting. Turns carrying tool calls,
// tool results, or media are never merged.
func coalesceTurns(turns []Turn) []Turn {
	if len(turns) < 2 {
		return turns
	}
	out := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Role == turn.Role && textOnly(*last) && textOnly(turn) {
				merged := turnText(*last) + "\n" + turnText(turn)
				last.Parts = []Part{{Kind: PartText, Text: merged}}
				continue
			}
		}
		copied := Turn{Role: turn.Role, Parts: append([]Part(nil), turn.Parts...)}
		out = append(out, copied)
	}
	return out
}

// parseDataURL splits a data: URL into its MIME type and base64 payload.
func parseDataURL(raw string) (mimeType, data string, ok bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	head, payload, found := strings.Cut(raw[len("data:"):], ",")
	if !found {
		return "", "", false
	}
	mimeType = strings.TrimSuffix(head, ";base64")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return mimeType, payload, true
}

// makeDataURL renders an inline media part back into a data: URL.
func makeDataURL(mimeType, data string) string {
	return "data:" + mimeType + ";base64," + data
}

// mimeFromURI guesses a MIME type from the URI's file extension.
func mimeFromURI(uri, fallback string) string {
	ext := path.Ext(strings.SplitN(uri, "?", 2)[0])
	if ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	return fallback
}

// audioFormatFromMIME extracts the bare format name ("wav", "mp3") that the
// OpenAI input_audio block wants.
func audioFormatFromMIME(mimeType string) string {
	if _, format, found := strings.Cut(mimeType, "/"); found && format != "" {
		return format
	}
	return "wav"
}

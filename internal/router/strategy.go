package router

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/json"
)

// Strategy is the per-family view over raw request and response bodies used
// by routing, prompt logging, and system-prompt handling. All operations are
// pure and tolerate malformed JSON: extraction returns zero values instead
// of failing, because nothing here may take down a request that the
// converter would otherwise accept.
type Strategy interface {
	Family() converter.Family

	// ExtractModelAndStream reads the requested model and streaming flag
	// from the body. Families that carry them in the URL return zero values.
	ExtractModelAndStream(body []byte) (model string, stream bool)

	// ExtractPromptText returns the text of the newest user turn, for
	// prompt logging only.
	ExtractPromptText(body []byte) string

	// ExtractResponseText returns the assistant text of a complete response
	// or of a single stream chunk.
	ExtractResponseText(body []byte) string

	// ExtractSystemText returns the request's system content as plain text.
	ExtractSystemText(body []byte) string

	// SetSystemText rewrites the request's system content. Empty text
	// removes it.
	SetSystemText(body []byte, text string) ([]byte, error)

	// SetModel rewrites the model field where the family carries one in the
	// body.
	SetModel(body []byte, model string) ([]byte, error)

	// SetStream rewrites the streaming flag where the family carries one in
	// the body.
	SetStream(body []byte, stream bool) ([]byte, error)
}

var strategies = map[converter.Family]Strategy{
	converter.OpenAI: openaiStrategy{},
	converter.Gemini: geminiStrategy{},
	converter.Claude: claudeStrategy{},
}

// StrategyFor returns the strategy of a protocol family.
func StrategyFor(family converter.Family) Strategy {
	return strategies[family]
}

// joinParts concatenates the text fields found at the given path of every
// element, e.g. message content blocks or Gemini parts.
func joinParts(parts gjson.Result, textKey string) string {
	var sb strings.Builder
	for _, part := range parts.Array() {
		text := part.Get(textKey)
		if !text.Exists() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text.String())
	}
	return sb.String()
}

// messageText flattens an OpenAI or Claude message content field, which is
// either a plain string or an array of typed blocks.
func messageText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		return joinParts(content, "text")
	}
	return ""
}

// lastUserText walks a messages array backwards for the newest user turn.
func lastUserText(messages gjson.Result) string {
	items := messages.Array()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Get("role").String() != "user" {
			continue
		}
		if text := messageText(items[i].Get("content")); text != "" {
			return text
		}
	}
	return ""
}

// --- OpenAI ---

type openaiStrategy struct{}

func (openaiStrategy) Family() converter.Family { return converter.OpenAI }

func (openaiStrategy) ExtractModelAndStream(body []byte) (string, bool) {
	return gjson.GetBytes(body, "model").String(), gjson.GetBytes(body, "stream").Bool()
}

func (openaiStrategy) ExtractPromptText(body []byte) string {
	return lastUserText(gjson.GetBytes(body, "messages"))
}

func (openaiStrategy) ExtractResponseText(body []byte) string {
	if text := gjson.GetBytes(body, "choices.0.message.content"); text.Type == gjson.String {
		return text.String()
	}
	return gjson.GetBytes(body, "choices.0.delta.content").String()
}

func (openaiStrategy) ExtractSystemText(body []byte) string {
	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		role := msg.Get("role").String()
		if role == "system" || role == "developer" {
			return messageText(msg.Get("content"))
		}
	}
	return ""
}

func (openaiStrategy) SetSystemText(body []byte, text string) ([]byte, error) {
	messages := gjson.GetBytes(body, "messages").Array()
	for i, msg := range messages {
		role := msg.Get("role").String()
		if role != "system" && role != "developer" {
			continue
		}
		path := "messages." + strconv.Itoa(i)
		if text == "" {
			return sjson.DeleteBytes(body, path)
		}
		return sjson.SetBytes(body, path+".content", text)
	}
	if text == "" {
		return body, nil
	}
	// No system turn yet: prepend one so it stays first in the conversation.
	sys, err := json.Marshal(map[string]string{"role": "system", "content": text})
	if err != nil {
		return nil, err
	}
	raw := gjson.GetBytes(body, "messages").Raw
	if len(messages) == 0 || len(raw) < 2 {
		return sjson.SetRawBytes(body, "messages", []byte("["+string(sys)+"]"))
	}
	return sjson.SetRawBytes(body, "messages", []byte("["+string(sys)+","+raw[1:]))
}

func (openaiStrategy) SetModel(body []byte, model string) ([]byte, error) {
	return sjson.SetBytes(body, "model", model)
}

func (openaiStrategy) SetStream(body []byte, stream bool) ([]byte, error) {
	if !stream {
		return sjson.DeleteBytes(body, "stream")
	}
	return sjson.SetBytes(body, "stream", true)
}

// --- Gemini ---

type geminiStrategy struct{}

func (geminiStrategy) Family() converter.Family { return converter.Gemini }

// ExtractModelAndStream: Gemini requests name the model and streaming mode
// in the URL; a body-level model key is honored when present.
func (geminiStrategy) ExtractModelAndStream(body []byte) (string, bool) {
	return gjson.GetBytes(body, "model").String(), false
}

func (geminiStrategy) ExtractPromptText(body []byte) string {
	contents := gjson.GetBytes(body, "contents").Array()
	for i := len(contents) - 1; i >= 0; i-- {
		role := contents[i].Get("role").String()
		if role != "user" && role != "" {
			continue
		}
		if text := joinParts(contents[i].Get("parts"), "text"); text != "" {
			return text
		}
	}
	return ""
}

func (geminiStrategy) ExtractResponseText(body []byte) string {
	return joinParts(gjson.GetBytes(body, "candidates.0.content.parts"), "text")
}

func (geminiStrategy) ExtractSystemText(body []byte) string {
	for _, key := range []string{"systemInstruction", "system_instruction"} {
		if si := gjson.GetBytes(body, key); si.Exists() {
			return joinParts(si.Get("parts"), "text")
		}
	}
	return ""
}

func (geminiStrategy) SetSystemText(body []byte, text string) ([]byte, error) {
	// Collapse the snake_case spelling so there is one instruction slot.
	body, err := sjson.DeleteBytes(body, "system_instruction")
	if err != nil {
		return nil, err
	}
	if text == "" {
		return sjson.DeleteBytes(body, "systemInstruction")
	}
	return sjson.SetBytes(body, "systemInstruction", map[string]any{
		"parts": []map[string]string{{"text": text}},
	})
}

// SetModel is a no-op: the adapter receives the model out of band.
func (geminiStrategy) SetModel(body []byte, model string) ([]byte, error) {
	return body, nil
}

// SetStream is a no-op: streaming is selected by the URL action.
func (geminiStrategy) SetStream(body []byte, stream bool) ([]byte, error) {
	return body, nil
}

// --- Claude ---

type claudeStrategy struct{}

func (claudeStrategy) Family() converter.Family { return converter.Claude }

func (claudeStrategy) ExtractModelAndStream(body []byte) (string, bool) {
	return gjson.GetBytes(body, "model").String(), gjson.GetBytes(body, "stream").Bool()
}

func (claudeStrategy) ExtractPromptText(body []byte) string {
	return lastUserText(gjson.GetBytes(body, "messages"))
}

func (claudeStrategy) ExtractResponseText(body []byte) string {
	if content := gjson.GetBytes(body, "content"); content.IsArray() {
		return joinParts(content, "text")
	}
	// Stream chunk: only text deltas carry caller-visible content.
	if gjson.GetBytes(body, "type").String() == "content_block_delta" {
		return gjson.GetBytes(body, "delta.text").String()
	}
	return ""
}

func (claudeStrategy) ExtractSystemText(body []byte) string {
	system := gjson.GetBytes(body, "system")
	if system.Type == gjson.String {
		return system.String()
	}
	if system.IsArray() {
		return joinParts(system, "text")
	}
	return ""
}

func (claudeStrategy) SetSystemText(body []byte, text string) ([]byte, error) {
	if text == "" {
		return sjson.DeleteBytes(body, "system")
	}
	return sjson.SetBytes(body, "system", text)
}

func (claudeStrategy) SetModel(body []byte, model string) ([]byte, error) {
	return sjson.SetBytes(body, "model", model)
}

func (claudeStrategy) SetStream(body []byte, stream bool) ([]byte, error) {
	if !stream {
		return sjson.DeleteBytes(body, "stream")
	}
	return sjson.SetBytes(body, "stream", true)
}

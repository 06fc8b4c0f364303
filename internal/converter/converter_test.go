package converter

import (
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestVerifyTable(t *testing.T) {
	if err := VerifyTable(); err != nil {
		t.Fatalf("VerifyTable() = %v", err)
	}
}

func TestConvertIdentityReturnsPayloadUntouched(t *testing.T) {
	payload := []byte(`{"model":"gpt-test","messages":[{"role":"user","content":"hi"}]}`)
	out, err := Convert(KindRequest, OpenAI, OpenAI, payload, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if string(out) != string(payload) {
		t.Errorf("identity conversion changed payload: %s", out)
	}
}

func TestConvertRequestOpenAIToGemini(t *testing.T) {
	body := []byte(`{
		"model": "gemini-2.5-pro",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi"}
		],
		"tools": [{"type": "function", "function": {
			"name": "get_weather",
			"description": "look up weather",
			"parameters": {"$schema": "http://json-schema.org/draft-07/schema#", "type": "object", "properties": {"city": {"type": "string"}}}
		}}],
		"tool_choice": "auto"
	}`)

	out, err := Convert(KindRequest, OpenAI, Gemini, body, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if got := gjson.GetBytes(out, "systemInstruction.parts.0.text").String(); got != "be brief" {
		t.Errorf("systemInstruction = %q, want %q", got, "be brief")
	}
	if got := gjson.GetBytes(out, "contents.0.role").String(); got != "user" {
		t.Errorf("contents.0.role = %q, want user", got)
	}
	if got := gjson.GetBytes(out, "contents.0.parts.0.text").String(); got != "hi" {
		t.Errorf("contents.0.parts.0.text = %q, want hi", got)
	}
	if got := gjson.GetBytes(out, "generationConfig.temperature").Float(); got != 1 {
		t.Errorf("temperature default = %v, want 1", got)
	}
	if got := gjson.GetBytes(out, "generationConfig.topP").Float(); got != 0.9 {
		t.Errorf("topP default = %v, want 0.9", got)
	}
	if got := gjson.GetBytes(out, "generationConfig.maxOutputTokens").Int(); got != 65536 {
		t.Errorf("maxOutputTokens default = %v, want 65536", got)
	}
	if got := gjson.GetBytes(out, "tools.0.functionDeclarations.0.name").String(); got != "get_weather" {
		t.Errorf("functionDeclarations.0.name = %q", got)
	}
	if gjson.GetBytes(out, "tools.0.functionDeclarations.0.parameters.$schema").Exists() {
		t.Error("$schema survived translation into function declaration parameters")
	}
	if !gjson.GetBytes(out, "tools.0.functionDeclarations.0.parameters.properties.city").Exists() {
		t.Error("parameter schema body was lost")
	}
	if got := gjson.GetBytes(out, "toolConfig.functionCallingConfig.mode").String(); got != "AUTO" {
		t.Errorf("functionCallingConfig.mode = %q, want AUTO", got)
	}
}

func TestConvertRequestOpenAIToGeminiToolFlow(t *testing.T) {
	body := []byte(`{
		"model": "gemini-2.5-pro",
		"messages": [
			{"role": "user", "content": "weather in hanoi?"},
			{"role": "assistant", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"hanoi\"}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "name": "get_weather", "content": "sunny, 31C"}
		]
	}`)

	out, err := Convert(KindRequest, OpenAI, Gemini, body, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if got := gjson.GetBytes(out, "contents.1.role").String(); got != "model" {
		t.Errorf("assistant role = %q, want model", got)
	}
	if got := gjson.GetBytes(out, "contents.1.parts.0.functionCall.name").String(); got != "get_weather" {
		t.Errorf("functionCall.name = %q", got)
	}
	if got := gjson.GetBytes(out, "contents.1.parts.0.functionCall.args.city").String(); got != "hanoi" {
		t.Errorf("functionCall.args.city = %q", got)
	}
	if got := gjson.GetBytes(out, "contents.2.role").String(); got != "function" {
		t.Errorf("tool turn role = %q, want function", got)
	}
	if got := gjson.GetBytes(out, "contents.2.parts.0.functionResponse.name").String(); got != "get_weather" {
		t.Errorf("functionResponse.name = %q", got)
	}
	if got := gjson.GetBytes(out, "contents.2.parts.0.functionResponse.response.content").String(); got != "sunny, 31C" {
		t.Errorf("functionResponse.response.content = %q", got)
	}
}

func TestConvertRequestOpenAIToClaude(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-20250514",
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "what is in this picture?"},
				{"type": "image_url", "image_url": {"url": "https://img.test/cat.png"}}
			]}
		],
		"tool_choice": "required",
		"tools": [{"type": "function", "function": {"name": "describe", "parameters": {"type": "object"}}}]
	}`)

	out, err := Convert(KindRequest, OpenAI, Claude, body, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if got := gjson.GetBytes(out, "max_tokens").Int(); got != 8192 {
		t.Errorf("max_tokens default = %v, want 8192", got)
	}
	if got := gjson.GetBytes(out, "temperature").Float(); got != 1 {
		t.Errorf("temperature default = %v, want 1", got)
	}
	if got := gjson.GetBytes(out, "top_p").Float(); got != 0.9 {
		t.Errorf("top_p default = %v, want 0.9", got)
	}
	if got := gjson.GetBytes(out, "messages.0.content.0.text").String(); got != "what is in this picture?" {
		t.Errorf("text block = %q", got)
	}
	if got := gjson.GetBytes(out, "messages.0.content.1.text").String(); got != "[Image: https://img.test/cat.png]" {
		t.Errorf("image placeholder = %q", got)
	}
	if got := gjson.GetBytes(out, "tool_choice.type").String(); got != "any" {
		t.Errorf("tool_choice.type = %q, want any", got)
	}
	if got := gjson.GetBytes(out, "tools.0.name").String(); got != "describe" {
		t.Errorf("tools.0.name = %q", got)
	}
}

func TestConvertRequestClaudeToGemini(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-20250514",
		"max_tokens": 1024,
		"messages": [
			{"role": "user", "content": "weather in hanoi?"},
			{"role": "assistant", "content": [{"type": "tool_use", "id": "toolu_abc", "name": "get_weather", "input": {"city": "hanoi"}}]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "toolu_abc", "content": "sunny"}]}
		]
	}`)

	out, err := Convert(KindRequest, Claude, Gemini, body, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if got := gjson.GetBytes(out, "contents.1.parts.0.functionCall.name").String(); got != "get_weather" {
		t.Errorf("functionCall.name = %q", got)
	}
	if got := gjson.GetBytes(out, "contents.2.role").String(); got != "function" {
		t.Errorf("tool result role = %q, want function", got)
	}
	// The result names its function through the preceding tool_use id.
	if got := gjson.GetBytes(out, "contents.2.parts.0.functionResponse.name").String(); got != "get_weather" {
		t.Errorf("functionResponse.name = %q, want get_weather", got)
	}
	if got := gjson.GetBytes(out, "generationConfig.maxOutputTokens").Int(); got != 1024 {
		t.Errorf("maxOutputTokens = %v, want explicit 1024", got)
	}
}

func TestConvertRequestGeminiToOpenAI(t *testing.T) {
	body := []byte(`{
		"system_instruction": {"parts": [{"text": "You are Neko."}]},
		"contents": [{"parts": [{"text": "name?"}]}],
		"generation_config": {"temperature": 0.5, "max_output_tokens": 100}
	}`)

	out, err := Convert(KindRequest, Gemini, OpenAI, body, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if got := gjson.GetBytes(out, "messages.0.role").String(); got != "system" {
		t.Errorf("messages.0.role = %q, want system", got)
	}
	if got := gjson.GetBytes(out, "messages.0.content").String(); got != "You are Neko." {
		t.Errorf("system content = %q", got)
	}
	if got := gjson.GetBytes(out, "messages.1.role").String(); got != "user" {
		t.Errorf("messages.1.role = %q, want user (defaulted)", got)
	}
	if got := gjson.GetBytes(out, "temperature").Float(); got != 0.5 {
		t.Errorf("temperature = %v, want 0.5", got)
	}
	if got := gjson.GetBytes(out, "max_tokens").Int(); got != 100 {
		t.Errorf("max_tokens = %v, want 100", got)
	}
	if got := gjson.GetBytes(out, "top_p").Float(); got != 0.9 {
		t.Errorf("top_p default = %v, want 0.9", got)
	}
}

func TestConvertRequestPreservesExplicitZeroTemperature(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet-4-20250514","temperature":0,"messages":[{"role":"user","content":"hi"}]}`)
	out, err := Convert(KindRequest, OpenAI, Claude, body, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	temp := gjson.GetBytes(out, "temperature")
	if !temp.Exists() {
		t.Fatal("temperature missing from emitted request")
	}
	if temp.Float() != 0 {
		t.Errorf("temperature = %v, want explicit 0", temp.Float())
	}
}

func TestConvertRequestEmptyConversation(t *testing.T) {
	cases := []struct {
		name string
		from Family
		to   Family
		body string
	}{
		{"openai", OpenAI, Gemini, `{"model":"m","messages":[]}`},
		{"gemini", Gemini, OpenAI, `{"contents":[]}`},
		{"claude", Claude, OpenAI, `{"model":"m","messages":[]}`},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert(KindRequest, tt.from, tt.to, []byte(tt.body), nil)
			if !errors.Is(err, ErrEmptyConversation) {
				t.Errorf("Convert() error = %v, want ErrEmptyConversation", err)
			}
		})
	}
}

func TestConvertRequestUnicodeRoundTrip(t *testing.T) {
	const text = "こんにちは、世界 🦊 中文测试 émojis"
	body := []byte(`{"model":"m","messages":[{"role":"user","content":"` + text + `"}]}`)

	viaGemini, err := Convert(KindRequest, OpenAI, Gemini, body, nil)
	if err != nil {
		t.Fatalf("OpenAI->Gemini error = %v", err)
	}
	back, err := Convert(KindRequest, Gemini, OpenAI, viaGemini, nil)
	if err != nil {
		t.Fatalf("Gemini->OpenAI error = %v", err)
	}
	if got := gjson.GetBytes(back, "messages.0.content").String(); got != text {
		t.Errorf("round-tripped text = %q, want %q", got, text)
	}
}

func TestConvertResponseGeminiToOpenAI(t *testing.T) {
	body := []byte(`{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "hello"}]}, "finishReason": "STOP", "index": 0}],
		"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 7, "totalTokenCount": 12}
	}`)

	out, err := Convert(KindResponse, Gemini, OpenAI, body, &Options{Model: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if got := gjson.GetBytes(out, "object").String(); got != "chat.completion" {
		t.Errorf("object = %q", got)
	}
	if got := gjson.GetBytes(out, "id").String(); !strings.HasPrefix(got, "chatcmpl-") {
		t.Errorf("id = %q, want chatcmpl- prefix", got)
	}
	if got := gjson.GetBytes(out, "model").String(); got != "gemini-2.5-flash" {
		t.Errorf("model = %q", got)
	}
	if got := gjson.GetBytes(out, "choices.0.message.content").String(); got != "hello" {
		t.Errorf("content = %q", got)
	}
	if got := gjson.GetBytes(out, "choices.0.finish_reason").String(); got != "stop" {
		t.Errorf("finish_reason = %q", got)
	}
	if got := gjson.GetBytes(out, "usage.prompt_tokens").Int(); got != 5 {
		t.Errorf("prompt_tokens = %v", got)
	}
	if got := gjson.GetBytes(out, "usage.completion_tokens").Int(); got != 7 {
		t.Errorf("completion_tokens = %v", got)
	}
	if got := gjson.GetBytes(out, "usage.total_tokens").Int(); got != 12 {
		t.Errorf("total_tokens = %v", got)
	}
}

func TestConvertResponseClaudeToOpenAIToolCalls(t *testing.T) {
	body := []byte(`{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4",
		"content": [{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "hanoi"}}],
		"stop_reason": "tool_use", "stop_sequence": null,
		"usage": {"input_tokens": 10, "output_tokens": 20}
	}`)

	out, err := Convert(KindResponse, Claude, OpenAI, body, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if got := gjson.GetBytes(out, "choices.0.finish_reason").String(); got != "tool_calls" {
		t.Errorf("finish_reason = %q", got)
	}
	if got := gjson.GetBytes(out, "choices.0.message.tool_calls.0.id").String(); got != "toolu_1" {
		t.Errorf("tool call id = %q", got)
	}
	if got := gjson.GetBytes(out, "choices.0.message.tool_calls.0.function.name").String(); got != "get_weather" {
		t.Errorf("function name = %q", got)
	}
	args := gjson.GetBytes(out, "choices.0.message.tool_calls.0.function.arguments").String()
	if gjson.Get(args, "city").String() != "hanoi" {
		t.Errorf("arguments = %q", args)
	}
	if content := gjson.GetBytes(out, "choices.0.message.content"); content.Type != gjson.Null {
		t.Errorf("content = %v, want null alongside tool calls", content)
	}
	if got := gjson.GetBytes(out, "usage.total_tokens").Int(); got != 30 {
		t.Errorf("total_tokens = %v, want 30", got)
	}
}

func TestConvertResponseOpenAIToClaude(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 123, "model": "gpt-test",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
	}`)

	out, err := Convert(KindResponse, OpenAI, Claude, body, nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if got := gjson.GetBytes(out, "type").String(); got != "message" {
		t.Errorf("type = %q", got)
	}
	if got := gjson.GetBytes(out, "id").String(); !strings.HasPrefix(got, "msg_") {
		t.Errorf("id = %q, want msg_ prefix", got)
	}
	if got := gjson.GetBytes(out, "content.0.text").String(); got != "hi there" {
		t.Errorf("content = %q", got)
	}
	if got := gjson.GetBytes(out, "stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q", got)
	}
	if got := gjson.GetBytes(out, "usage.input_tokens").Int(); got != 3 {
		t.Errorf("input_tokens = %v", got)
	}
	if got := gjson.GetBytes(out, "usage.output_tokens").Int(); got != 4 {
		t.Errorf("output_tokens = %v", got)
	}
}

func TestConvertResponseFinishReasonMap(t *testing.T) {
	cases := []struct {
		name   string
		reason string
		to     Family
		path   string
		want   string
	}{
		{"safety to openai", "SAFETY", OpenAI, "choices.0.finish_reason", "content_filter"},
		{"safety to claude", "SAFETY", Claude, "stop_reason", "safety"},
		{"max tokens to openai", "MAX_TOKENS", OpenAI, "choices.0.finish_reason", "length"},
		{"max tokens to claude", "MAX_TOKENS", Claude, "stop_reason", "max_tokens"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"x"}]},"finishReason":"` + tt.reason + `","index":0}]}`)
			out, err := Convert(KindResponse, Gemini, tt.to, body, nil)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if got := gjson.GetBytes(out, tt.path).String(); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestConvertModelListAcrossFamilies(t *testing.T) {
	geminiList := []byte(`{"models":[{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro"},{"name":"models/gemini-2.5-flash","displayName":"Gemini 2.5 Flash"}]}`)

	asOpenAI, err := Convert(KindModelList, Gemini, OpenAI, geminiList, nil)
	if err != nil {
		t.Fatalf("Gemini->OpenAI error = %v", err)
	}
	if got := gjson.GetBytes(asOpenAI, "object").String(); got != "list" {
		t.Errorf("object = %q", got)
	}
	if got := gjson.GetBytes(asOpenAI, "data.0.id").String(); got != "gemini-2.5-pro" {
		t.Errorf("data.0.id = %q, want models/ prefix stripped", got)
	}
	if got := gjson.GetBytes(asOpenAI, "data.0.object").String(); got != "model" {
		t.Errorf("data.0.object = %q", got)
	}

	asClaude, err := Convert(KindModelList, Gemini, Claude, geminiList, nil)
	if err != nil {
		t.Fatalf("Gemini->Claude error = %v", err)
	}
	if got := gjson.GetBytes(asClaude, "data.0.type").String(); got != "model" {
		t.Errorf("claude data.0.type = %q", got)
	}
	if got := gjson.GetBytes(asClaude, "first_id").String(); got != "gemini-2.5-pro" {
		t.Errorf("first_id = %q", got)
	}
	if got := gjson.GetBytes(asClaude, "last_id").String(); got != "gemini-2.5-flash" {
		t.Errorf("last_id = %q", got)
	}
	if gjson.GetBytes(asClaude, "has_more").Bool() {
		t.Error("has_more = true, want false")
	}

	openaiList := []byte(`{"object":"list","data":[{"id":"gpt-test","object":"model","created":1700000000}]}`)
	asGemini, err := Convert(KindModelList, OpenAI, Gemini, openaiList, nil)
	if err != nil {
		t.Fatalf("OpenAI->Gemini error = %v", err)
	}
	if got := gjson.GetBytes(asGemini, "models.0.name").String(); got != "models/gpt-test" {
		t.Errorf("models.0.name = %q", got)
	}
	if got := gjson.GetBytes(asGemini, "models.0.supportedGenerationMethods.0").String(); got != "generateContent" {
		t.Errorf("supportedGenerationMethods = %q", got)
	}
}

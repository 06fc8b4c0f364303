package converter

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

// splitSSEBlock pulls the event name (if any) and data payload out of one
// framed SSE block.
func splitSSEBlock(tb testing.TB, block []byte) (event, data string) {
	tb.Helper()
	for _, line := range strings.Split(strings.TrimRight(string(block), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	return event, data
}

func TestStreamGeminiToOpenAI(t *testing.T) {
	tr, err := NewStreamTranslator(Gemini, OpenAI, &Options{Model: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("NewStreamTranslator() error = %v", err)
	}

	first, err := tr.Translate([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]},"index":0}]}`))
	if err != nil {
		t.Fatalf("Translate(first) error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first chunk produced %d blocks, want 1", len(first))
	}
	_, data := splitSSEBlock(t, first[0])
	if got := gjson.Get(data, "object").String(); got != "chat.completion.chunk" {
		t.Errorf("object = %q", got)
	}
	if got := gjson.Get(data, "choices.0.delta.role").String(); got != "assistant" {
		t.Errorf("first chunk delta.role = %q, want assistant", got)
	}
	if got := gjson.Get(data, "choices.0.delta.content").String(); got != "Hel" {
		t.Errorf("delta.content = %q", got)
	}
	if fr := gjson.Get(data, "choices.0.finish_reason"); fr.Type != gjson.Null {
		t.Errorf("finish_reason = %v, want null", fr)
	}

	last, err := tr.Translate([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":3,"totalTokenCount":5}}`))
	if err != nil {
		t.Fatalf("Translate(last) error = %v", err)
	}
	if len(last) != 1 {
		t.Fatalf("last chunk produced %d blocks, want 1", len(last))
	}
	_, data = splitSSEBlock(t, last[0])
	if got := gjson.Get(data, "choices.0.delta.content").String(); got != "lo" {
		t.Errorf("delta.content = %q", got)
	}
	if got := gjson.Get(data, "choices.0.finish_reason").String(); got != "stop" {
		t.Errorf("finish_reason = %q, want stop", got)
	}
	if got := gjson.Get(data, "usage.prompt_tokens").Int(); got != 2 {
		t.Errorf("usage.prompt_tokens = %v", got)
	}
	if got := gjson.Get(data, "choices.0.delta.role").String(); got != "" {
		t.Errorf("later chunk repeated role %q", got)
	}

	tail := tr.Finish()
	if len(tail) != 1 || string(tail[0]) != "data: [DONE]\n\n" {
		t.Errorf("Finish() = %q, want single [DONE]", tail)
	}
}

func TestStreamOpenAIToClaude(t *testing.T) {
	tr, err := NewStreamTranslator(OpenAI, Claude, &Options{Model: "claude-sonnet-4-20250514", ResponseID: "msg_fixed"})
	if err != nil {
		t.Fatalf("NewStreamTranslator() error = %v", err)
	}

	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"!"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
	}

	var events []string
	var text strings.Builder
	for _, chunk := range chunks {
		blocks, err := tr.Translate([]byte(chunk))
		if err != nil {
			t.Fatalf("Translate() error = %v", err)
		}
		for _, block := range blocks {
			event, data := splitSSEBlock(t, block)
			events = append(events, event)
			if gjson.Get(data, "delta.type").String() == "text_delta" {
				text.WriteString(gjson.Get(data, "delta.text").String())
			}
			if event == "message_start" {
				if got := gjson.Get(data, "message.id").String(); got != "msg_fixed" {
					t.Errorf("message.id = %q", got)
				}
			}
			if event == "message_delta" {
				if got := gjson.Get(data, "delta.stop_reason").String(); got != "end_turn" {
					t.Errorf("stop_reason = %q", got)
				}
				if got := gjson.Get(data, "usage.output_tokens").Int(); got != 2 {
					t.Errorf("usage.output_tokens = %v", got)
				}
			}
		}
	}
	if tail := tr.Finish(); len(tail) != 0 {
		t.Errorf("Finish() after stop produced %d extra blocks", len(tail))
	}

	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q (full: %v)", i, events[i], want[i], events)
		}
	}
	if text.String() != "Hi!" {
		t.Errorf("concatenated text = %q, want Hi!", text.String())
	}
}

func TestStreamClaudeToOpenAIToolCalls(t *testing.T) {
	tr, err := NewStreamTranslator(Claude, OpenAI, &Options{Model: "claude-sonnet-4-20250514"})
	if err != nil {
		t.Fatalf("NewStreamTranslator() error = %v", err)
	}

	chunks := []string{
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"usage":{"input_tokens":7,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"get_weather","input":{}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"hanoi\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":15}}`,
		`{"type":"message_stop"}`,
	}

	var args strings.Builder
	var sawStart, sawFinish bool
	for _, chunk := range chunks {
		blocks, err := tr.Translate([]byte(chunk))
		if err != nil {
			t.Fatalf("Translate() error = %v", err)
		}
		for _, block := range blocks {
			_, data := splitSSEBlock(t, block)
			call := gjson.Get(data, "choices.0.delta.tool_calls.0")
			if call.Exists() {
				if name := call.Get("function.name").String(); name != "" {
					sawStart = true
					if call.Get("id").String() != "toolu_9" {
						t.Errorf("tool call id = %q", call.Get("id").String())
					}
					if call.Get("index").Int() != 0 {
						t.Errorf("tool call index = %v", call.Get("index").Int())
					}
				}
				args.WriteString(call.Get("function.arguments").String())
			}
			if fr := gjson.Get(data, "choices.0.finish_reason").String(); fr != "" {
				sawFinish = true
				if fr != "tool_calls" {
					t.Errorf("finish_reason = %q, want tool_calls", fr)
				}
				if got := gjson.Get(data, "usage.prompt_tokens").Int(); got != 7 {
					t.Errorf("usage.prompt_tokens = %v", got)
				}
				if got := gjson.Get(data, "usage.completion_tokens").Int(); got != 15 {
					t.Errorf("usage.completion_tokens = %v", got)
				}
			}
		}
	}
	if !sawStart {
		t.Error("no tool call start chunk emitted")
	}
	if !sawFinish {
		t.Error("no finish chunk emitted")
	}
	if got := args.String(); gjson.Get(got, "city").String() != "hanoi" {
		t.Errorf("assembled arguments = %q", got)
	}

	tail := tr.Finish()
	if len(tail) != 1 || string(tail[0]) != "data: [DONE]\n\n" {
		t.Errorf("Finish() = %q, want single [DONE]", tail)
	}
}

func TestStreamIdentityClaudeFramesEvents(t *testing.T) {
	tr, err := NewStreamTranslator(Claude, Claude, nil)
	if err != nil {
		t.Fatalf("NewStreamTranslator() error = %v", err)
	}

	blocks, err := tr.Translate([]byte(`{"type":"message_start","message":{"id":"msg_1"}}`))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	event, data := splitSSEBlock(t, blocks[0])
	if event != "message_start" {
		t.Errorf("event = %q", event)
	}
	if gjson.Get(data, "message.id").String() != "msg_1" {
		t.Errorf("data = %q, payload should pass through", data)
	}

	// Stream ends without message_stop: Finish synthesizes one.
	if tail := tr.Finish(); len(tail) != 1 {
		t.Fatalf("Finish() = %d blocks, want synthesized message_stop", len(tail))
	} else if event, _ := splitSSEBlock(t, tail[0]); event != "message_stop" {
		t.Errorf("synthesized event = %q", event)
	}

	tr2, _ := NewStreamTranslator(Claude, Claude, nil)
	if _, err := tr2.Translate([]byte(`{"type":"message_stop"}`)); err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if tail := tr2.Finish(); len(tail) != 0 {
		t.Errorf("Finish() after message_stop = %d blocks, want 0", len(tail))
	}
}

func TestStreamIdentityOpenAIAppendsDone(t *testing.T) {
	tr, err := NewStreamTranslator(OpenAI, OpenAI, nil)
	if err != nil {
		t.Fatalf("NewStreamTranslator() error = %v", err)
	}
	chunk := `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"x"},"finish_reason":null}]}`
	blocks, err := tr.Translate([]byte(chunk))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if len(blocks) != 1 || string(blocks[0]) != "data: "+chunk+"\n\n" {
		t.Errorf("passthrough block = %q", blocks[0])
	}
	tail := tr.Finish()
	if len(tail) != 1 || string(tail[0]) != "data: [DONE]\n\n" {
		t.Errorf("Finish() = %q", tail)
	}
}

func TestStreamFailShapes(t *testing.T) {
	t.Run("openai target", func(t *testing.T) {
		tr, _ := NewStreamTranslator(Gemini, OpenAI, &Options{Model: "m"})
		blocks := tr.Fail("upstream exploded")
		if len(blocks) != 2 {
			t.Fatalf("Fail() = %d blocks, want error chunk plus [DONE]", len(blocks))
		}
		_, data := splitSSEBlock(t, blocks[0])
		if got := gjson.Get(data, "choices.0.finish_reason").String(); got != "error" {
			t.Errorf("finish_reason = %q, want error", got)
		}
		if string(blocks[1]) != "data: [DONE]\n\n" {
			t.Errorf("terminator = %q", blocks[1])
		}
	})

	t.Run("claude target", func(t *testing.T) {
		tr, _ := NewStreamTranslator(Gemini, Claude, &Options{Model: "m"})
		blocks := tr.Fail("upstream exploded")
		var names []string
		for _, block := range blocks {
			event, _ := splitSSEBlock(t, block)
			names = append(names, event)
		}
		if len(names) < 2 || names[len(names)-1] != "message_stop" {
			t.Fatalf("events = %v, want trailing message_stop", names)
		}
		var sawErrorReason bool
		for _, block := range blocks {
			event, data := splitSSEBlock(t, block)
			if event == "message_delta" && gjson.Get(data, "delta.stop_reason").String() == "error" {
				sawErrorReason = true
			}
		}
		if !sawErrorReason {
			t.Error("no message_delta with stop_reason=error")
		}
	})

	t.Run("gemini target", func(t *testing.T) {
		tr, _ := NewStreamTranslator(Claude, Gemini, &Options{Model: "m"})
		blocks := tr.Fail("upstream exploded")
		if len(blocks) != 1 {
			t.Fatalf("Fail() = %d blocks, want 1", len(blocks))
		}
		_, data := splitSSEBlock(t, blocks[0])
		if got := gjson.Get(data, "error.message").String(); got != "upstream exploded" {
			t.Errorf("error.message = %q", got)
		}
	})
}

func TestStreamClaudeToGeminiAccumulatesToolArgs(t *testing.T) {
	tr, err := NewStreamTranslator(Claude, Gemini, &Options{Model: "gemini-2.5-pro"})
	if err != nil {
		t.Fatalf("NewStreamTranslator() error = %v", err)
	}

	chunks := []string{
		`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":3}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup","input":{}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"go\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
	}

	var functionCall gjson.Result
	for _, chunk := range chunks {
		blocks, err := tr.Translate([]byte(chunk))
		if err != nil {
			t.Fatalf("Translate() error = %v", err)
		}
		for _, block := range blocks {
			_, data := splitSSEBlock(t, block)
			if fc := gjson.Get(data, "candidates.0.content.parts.0.functionCall"); fc.Exists() {
				functionCall = fc
			}
		}
	}
	if !functionCall.Exists() {
		t.Fatal("no functionCall part emitted")
	}
	if got := functionCall.Get("name").String(); got != "lookup" {
		t.Errorf("functionCall.name = %q", got)
	}
	if got := functionCall.Get("args.q").String(); got != "go" {
		t.Errorf("functionCall.args.q = %q, want fragments assembled", got)
	}
}

func TestClaudePseudoStreamEventSequence(t *testing.T) {
	resp := &Response{
		Text:      "checking the weather",
		ToolCalls: []ToolCall{{ID: "toolu_1", Name: "get_weather", Args: `{"city":"hanoi"}`}},
		Finish:    FinishToolUse,
		Usage:     Usage{InputTokens: 11, OutputTokens: 23},
	}
	events := ClaudePseudoStream(resp, &Options{Model: "claude-sonnet-4-20250514"})

	var types []string
	for _, payload := range events {
		types = append(types, gjson.GetBytes(payload, "type").String())
	}
	want := []string{
		"message_start",
		"content_block_start", "content_block_delta", "content_block_stop",
		"content_block_start", "content_block_delta", "content_block_stop",
		"message_delta", "message_stop",
	}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types[%d] = %q, want %q", i, types[i], want[i])
		}
	}

	if got := gjson.GetBytes(events[1], "content_block.type").String(); got != "text" {
		t.Errorf("first block type = %q", got)
	}
	if got := gjson.GetBytes(events[4], "content_block.name").String(); got != "get_weather" {
		t.Errorf("tool block name = %q", got)
	}
	if got := gjson.GetBytes(events[5], "delta.partial_json").String(); got != `{"city":"hanoi"}` {
		t.Errorf("partial_json = %q", got)
	}
	if got := gjson.GetBytes(events[7], "delta.stop_reason").String(); got != "tool_use" {
		t.Errorf("stop_reason = %q", got)
	}
	if got := gjson.GetBytes(events[7], "usage.output_tokens").Int(); got != 23 {
		t.Errorf("output_tokens = %v", got)
	}
}

func TestConvertStreamChunkOneShot(t *testing.T) {
	chunk := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"index":0}]}`)
	out, err := Convert(KindStreamChunk, Gemini, OpenAI, chunk, &Options{Model: "m"})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !strings.HasPrefix(string(out), "data: ") {
		t.Fatalf("chunk not SSE framed: %q", out)
	}
	_, data := splitSSEBlock(t, []byte(out))
	if got := gjson.Get(data, "choices.0.delta.content").String(); got != "hi" {
		t.Errorf("delta.content = %q", got)
	}
}

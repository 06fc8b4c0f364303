package converter

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aigate-dev/aigate/internal/json"
)

// EventType identifies a canonical stream event.
type EventType int

const (
	EventTextDelta EventType = iota
	EventToolCallStart
	EventToolCallArgsDelta
	EventToolCallEnd
	EventUsage
	EventStop
)

// StreamEvent is the family-neutral unit a native stream chunk decomposes
// into. Only the fields relevant to Type are set.
type StreamEvent struct {
	Type     EventType
	Text     string
	ToolID   string
	ToolName string
	Args     string
	Usage    *Usage
	Finish   FinishReason
}

// chunkParser decodes one native stream chunk into canonical events. Parsers
// are stateful; one instance serves one stream.
type chunkParser interface {
	Parse(chunk []byte) ([]StreamEvent, error)
}

// chunkEmitter renders canonical events as SSE blocks in its native dialect.
// Emitters are stateful; one instance serves one stream.
type chunkEmitter interface {
	Emit(events []StreamEvent) ([][]byte, error)
	Finish() [][]byte
	Fail(message string) [][]byte
}

var sseDone = []byte("data: [DONE]\n\n")

func sseData(payload []byte) []byte {
	block := make([]byte, 0, len(payload)+8)
	block = append(block, "data: "...)
	block = append(block, payload...)
	return append(block, '\n', '\n')
}

func sseEvent(name string, payload []byte) []byte {
	block := make([]byte, 0, len(name)+len(payload)+16)
	block = append(block, "event: "...)
	block = append(block, name...)
	block = append(block, '\n')
	return append(block, sseData(payload)...)
}

// StreamTranslator converts one upstream chunk stream into SSE blocks of the
// target family. Same-family streams pass through with framing only.
type StreamTranslator struct {
	to       Family
	parser   chunkParser
	emitter  chunkEmitter
	identity bool
	closed   bool
}

// NewStreamTranslator builds a stateful translator for a single stream.
func NewStreamTranslator(from, to Family, opts *Options) (*StreamTranslator, error) {
	codecs := codecsOnce()
	src, ok := codecs[from]
	if !ok {
		return nil, fmt.Errorf("unknown source family %q", from)
	}
	dst, ok := codecs[to]
	if !ok {
		return nil, fmt.Errorf("unknown target family %q", to)
	}
	tr := &StreamTranslator{to: to}
	if from == to {
		tr.identity = true
		return tr, nil
	}
	tr.parser = src.newParser()
	tr.emitter = dst.newEmitter(opts)
	return tr, nil
}

// Translate converts one upstream chunk into zero or more SSE blocks, each
// already framed for the wire.
func (t *StreamTranslator) Translate(chunk []byte) ([][]byte, error) {
	if t.identity {
		return t.passthrough(chunk), nil
	}
	events, err := t.parser.Parse(chunk)
	if err != nil {
		return nil, err
	}
	return t.emitter.Emit(events)
}

func (t *StreamTranslator) passthrough(chunk []byte) [][]byte {
	if t.to == Claude {
		name := gjson.GetBytes(chunk, "type").String()
		if name == "message_stop" {
			t.closed = true
		}
		if name != "" {
			return [][]byte{sseEvent(name, chunk)}
		}
	}
	return [][]byte{sseData(chunk)}
}

// Finish emits whatever the target dialect requires to terminate the stream.
func (t *StreamTranslator) Finish() [][]byte {
	if !t.identity {
		return t.emitter.Finish()
	}
	switch t.to {
	case OpenAI:
		return [][]byte{sseDone}
	case Claude:
		if t.closed {
			return nil
		}
		return [][]byte{sseEvent("message_stop", []byte(`{"type":"message_stop"}`))}
	default:
		return nil
	}
}

// Fail writes a terminal error in the target dialect. Headers are long gone
// when a stream breaks, so this is the only way to tell the caller.
func (t *StreamTranslator) Fail(message string) [][]byte {
	if !t.identity {
		return t.emitter.Fail(message)
	}
	switch t.to {
	case OpenAI:
		em := newOpenAIChunkEmitter(nil)
		return em.Fail(message)
	case Claude:
		em := newClaudeChunkEmitter(nil)
		em.started = true
		return em.Fail(message)
	default:
		return [][]byte{sseData(geminiErrorPayload(message))}
	}
}

// --- OpenAI chunk parser ---

type openaiChunkParser struct {
	toolOpen bool
}

func (p *openaiChunkParser) Parse(chunk []byte) ([]StreamEvent, error) {
	var wire openaiResponse
	if err := json.Unmarshal(chunk, &wire); err != nil {
		return nil, fmt.Errorf("malformed OpenAI stream chunk: %w", err)
	}
	var events []StreamEvent
	var stop *StreamEvent
	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		if delta := choice.Delta; delta != nil {
			if delta.Content != nil && *delta.Content != "" {
				events = append(events, StreamEvent{Type: EventTextDelta, Text: *delta.Content})
			}
			for _, call := range delta.ToolCalls {
				if call.ID != "" || call.Function.Name != "" {
					if p.toolOpen {
						events = append(events, StreamEvent{Type: EventToolCallEnd})
					}
					id := call.ID
					if id == "" {
						id = newCallID()
					}
					events = append(events, StreamEvent{Type: EventToolCallStart, ToolID: id, ToolName: call.Function.Name})
					p.toolOpen = true
				}
				if call.Function.Arguments != "" {
					events = append(events, StreamEvent{Type: EventToolCallArgsDelta, Args: call.Function.Arguments})
				}
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			if p.toolOpen {
				events = append(events, StreamEvent{Type: EventToolCallEnd})
				p.toolOpen = false
			}
			stop = &StreamEvent{Type: EventStop, Finish: finishFromOpenAI(*choice.FinishReason)}
		}
	}
	if wire.Usage != nil {
		events = append(events, StreamEvent{Type: EventUsage, Usage: &Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
			TotalTokens:  wire.Usage.TotalTokens,
		}})
	}
	if stop != nil {
		events = append(events, *stop)
	}
	return events, nil
}

// --- Gemini chunk parser ---

type geminiChunkParser struct{}

func (p *geminiChunkParser) Parse(chunk []byte) ([]StreamEvent, error) {
	var wire geminiResponse
	if err := json.Unmarshal(chunk, &wire); err != nil {
		return nil, fmt.Errorf("malformed Gemini stream chunk: %w", err)
	}
	var events []StreamEvent
	var stop *StreamEvent
	if len(wire.Candidates) > 0 {
		candidate := wire.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					args := string(part.FunctionCall.Args)
					if args == "" {
						args = "{}"
					}
					events = append(events,
						StreamEvent{Type: EventToolCallStart, ToolID: geminiCallID(part.FunctionCall.Name), ToolName: part.FunctionCall.Name},
						StreamEvent{Type: EventToolCallArgsDelta, Args: args},
						StreamEvent{Type: EventToolCallEnd},
					)
				case part.Thought:
				case part.Text != "":
					events = append(events, StreamEvent{Type: EventTextDelta, Text: part.Text})
				}
			}
		}
		if candidate.FinishReason != "" {
			stop = &StreamEvent{Type: EventStop, Finish: finishFromGemini(candidate.FinishReason)}
		}
	}
	if wire.UsageMetadata != nil {
		events = append(events, StreamEvent{Type: EventUsage, Usage: &Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  wire.UsageMetadata.TotalTokenCount,
		}})
	}
	if stop != nil {
		events = append(events, *stop)
	}
	return events, nil
}

// --- Claude chunk parser ---

type claudeChunkParser struct {
	inputTokens int
	toolOpen    bool
}

func (p *claudeChunkParser) Parse(chunk []byte) ([]StreamEvent, error) {
	switch gjson.GetBytes(chunk, "type").String() {
	case "message_start":
		p.inputTokens = int(gjson.GetBytes(chunk, "message.usage.input_tokens").Int())
		return nil, nil
	case "content_block_start":
		block := gjson.GetBytes(chunk, "content_block")
		if block.Get("type").String() != "tool_use" {
			return nil, nil
		}
		p.toolOpen = true
		id := block.Get("id").String()
		if id == "" {
			id = newCallID()
		}
		return []StreamEvent{{Type: EventToolCallStart, ToolID: id, ToolName: block.Get("name").String()}}, nil
	case "content_block_delta":
		delta := gjson.GetBytes(chunk, "delta")
		switch delta.Get("type").String() {
		case "text_delta":
			if text := delta.Get("text").String(); text != "" {
				return []StreamEvent{{Type: EventTextDelta, Text: text}}, nil
			}
		case "input_json_delta":
			if frag := delta.Get("partial_json").String(); frag != "" {
				return []StreamEvent{{Type: EventToolCallArgsDelta, Args: frag}}, nil
			}
		}
		return nil, nil
	case "content_block_stop":
		if p.toolOpen {
			p.toolOpen = false
			return []StreamEvent{{Type: EventToolCallEnd}}, nil
		}
		return nil, nil
	case "message_delta":
		var events []StreamEvent
		if in := int(gjson.GetBytes(chunk, "usage.input_tokens").Int()); in > 0 {
			p.inputTokens = in
		}
		out := int(gjson.GetBytes(chunk, "usage.output_tokens").Int())
		events = append(events, StreamEvent{Type: EventUsage, Usage: &Usage{
			InputTokens:  p.inputTokens,
			OutputTokens: out,
			TotalTokens:  p.inputTokens + out,
		}})
		if reason := gjson.GetBytes(chunk, "delta.stop_reason").String(); reason != "" {
			events = append(events, StreamEvent{Type: EventStop, Finish: finishFromClaude(reason)})
		}
		return events, nil
	case "error":
		return nil, fmt.Errorf("upstream stream error: %s", gjson.GetBytes(chunk, "error.message").String())
	}
	return nil, nil
}

// --- OpenAI chunk emitter ---

type openaiChunkEmitter struct {
	id       string
	model    string
	created  int64
	sentRole bool
	nextTool int
	sawTool  bool
	usage    *Usage
	stopped  bool
}

func newOpenAIChunkEmitter(opts *Options) *openaiChunkEmitter {
	return &openaiChunkEmitter{
		id:      opts.responseID(newCompletionID),
		model:   opts.model(),
		created: opts.created(),
	}
}

func (e *openaiChunkEmitter) Emit(events []StreamEvent) ([][]byte, error) {
	var text strings.Builder
	var toolCalls []openaiToolCall
	var finish *string
	var usage *openaiUsage

	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Text)
		case EventToolCallStart:
			idx := e.nextTool
			e.nextTool++
			e.sawTool = true
			toolCalls = append(toolCalls, openaiToolCall{
				Index:    &idx,
				ID:       ev.ToolID,
				Type:     "function",
				Function: openaiFunctionCall{Name: ev.ToolName},
			})
		case EventToolCallArgsDelta:
			idx := e.nextTool - 1
			if idx < 0 {
				idx = 0
			}
			if n := len(toolCalls); n > 0 && toolCalls[n-1].Index != nil && *toolCalls[n-1].Index == idx {
				toolCalls[n-1].Function.Arguments += ev.Args
			} else {
				i := idx
				toolCalls = append(toolCalls, openaiToolCall{Index: &i, Function: openaiFunctionCall{Arguments: ev.Args}})
			}
		case EventToolCallEnd:
		case EventUsage:
			if ev.Usage != nil {
				e.usage = ev.Usage
				usage = &openaiUsage{
					PromptTokens:     ev.Usage.InputTokens,
					CompletionTokens: ev.Usage.OutputTokens,
					TotalTokens:      ev.Usage.Total(),
				}
			}
		case EventStop:
			reason := finishToOpenAI(ev.Finish, e.sawTool)
			finish = &reason
			e.stopped = true
		}
	}

	delta := &openaiDelta{ToolCalls: toolCalls}
	if text.Len() > 0 {
		s := text.String()
		delta.Content = &s
	}
	if delta.Content == nil && len(toolCalls) == 0 && finish == nil && usage == nil {
		return nil, nil
	}
	if !e.sentRole {
		delta.Role = "assistant"
		e.sentRole = true
	}
	if finish != nil && usage == nil && e.usage != nil {
		usage = &openaiUsage{
			PromptTokens:     e.usage.InputTokens,
			CompletionTokens: e.usage.OutputTokens,
			TotalTokens:      e.usage.Total(),
		}
	}
	payload, err := json.Marshal(&openaiResponse{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []openaiChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		Usage:   usage,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{sseData(payload)}, nil
}

func (e *openaiChunkEmitter) Finish() [][]byte {
	var blocks [][]byte
	if !e.stopped {
		blocks = append(blocks, e.stopChunk(finishToOpenAI(FinishStop, e.sawTool)))
	}
	return append(blocks, sseDone)
}

func (e *openaiChunkEmitter) Fail(message string) [][]byte {
	return [][]byte{e.stopChunk("error"), sseDone}
}

func (e *openaiChunkEmitter) stopChunk(reason string) []byte {
	var usage *openaiUsage
	if e.usage != nil {
		usage = &openaiUsage{
			PromptTokens:     e.usage.InputTokens,
			CompletionTokens: e.usage.OutputTokens,
			TotalTokens:      e.usage.Total(),
		}
	}
	e.stopped = true
	payload, _ := json.Marshal(&openaiResponse{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []openaiChoice{{Index: 0, Delta: &openaiDelta{}, FinishReason: &reason}},
		Usage:   usage,
	})
	return sseData(payload)
}

// --- Gemini chunk emitter ---

type geminiChunkEmitter struct {
	model    string
	usage    *Usage
	sawTool  bool
	stopped  bool
	toolOpen bool
	toolName string
	args     strings.Builder
}

func newGeminiChunkEmitter(opts *Options) *geminiChunkEmitter {
	return &geminiChunkEmitter{model: opts.model()}
}

func (e *geminiChunkEmitter) Emit(events []StreamEvent) ([][]byte, error) {
	var parts []geminiPart
	finish := ""
	var usage *geminiUsage

	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			parts = append(parts, geminiPart{Text: ev.Text})
		case EventToolCallStart:
			e.toolOpen = true
			e.toolName = ev.ToolName
			e.args.Reset()
		case EventToolCallArgsDelta:
			e.args.WriteString(ev.Args)
		case EventToolCallEnd:
			if e.toolOpen {
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: e.toolName,
					Args: argsObject(e.args.String()),
				}})
				e.toolOpen = false
				e.sawTool = true
			}
		case EventUsage:
			if ev.Usage != nil {
				e.usage = ev.Usage
				usage = &geminiUsage{
					PromptTokenCount:     ev.Usage.InputTokens,
					CandidatesTokenCount: ev.Usage.OutputTokens,
					TotalTokenCount:      ev.Usage.Total(),
				}
			}
		case EventStop:
			finish = finishToGemini(ev.Finish)
			e.stopped = true
		}
	}

	if len(parts) == 0 && finish == "" && usage == nil {
		return nil, nil
	}
	if parts == nil {
		parts = []geminiPart{}
	}
	payload, err := json.Marshal(&geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      &geminiContent{Role: "model", Parts: parts},
			FinishReason: finish,
			Index:        0,
		}},
		UsageMetadata: usage,
		ModelVersion:  e.model,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{sseData(payload)}, nil
}

func (e *geminiChunkEmitter) Finish() [][]byte {
	if e.stopped {
		return nil
	}
	var usage *geminiUsage
	if e.usage != nil {
		usage = &geminiUsage{
			PromptTokenCount:     e.usage.InputTokens,
			CandidatesTokenCount: e.usage.OutputTokens,
			TotalTokenCount:      e.usage.Total(),
		}
	}
	payload, _ := json.Marshal(&geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      &geminiContent{Role: "model", Parts: []geminiPart{}},
			FinishReason: "STOP",
			Index:        0,
		}},
		UsageMetadata: usage,
		ModelVersion:  e.model,
	})
	return [][]byte{sseData(payload)}
}

func (e *geminiChunkEmitter) Fail(message string) [][]byte {
	return [][]byte{sseData(geminiErrorPayload(message))}
}

func geminiErrorPayload(message string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    500,
			"message": message,
			"status":  "INTERNAL",
		},
	})
	return payload
}

// --- Claude chunk emitter ---

type claudeTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeMessageStartEvent struct {
	Type    string         `json:"type"`
	Message claudeResponse `json:"message"`
}

type claudeBlockStartEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

type claudeBlockDeltaEvent struct {
	Type  string      `json:"type"`
	Index int         `json:"index"`
	Delta claudeDelta `json:"delta"`
}

type claudeDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type claudeBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type claudeMessageStopEvent struct {
	Type string `json:"type"`
}

type claudeMessageDeltaEvent struct {
	Type  string             `json:"type"`
	Delta claudeMessageDelta `json:"delta"`
	Usage claudeUsage        `json:"usage"`
}

type claudeMessageDelta struct {
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence"`
}

type claudeChunkEmitter struct {
	id       string
	model    string
	started  bool
	textOpen bool
	toolOpen bool
	blockIdx int
	sawTool  bool
	usage    Usage
	stopped  bool
}

func newClaudeChunkEmitter(opts *Options) *claudeChunkEmitter {
	return &claudeChunkEmitter{
		id:    opts.responseID(newMessageID),
		model: opts.model(),
	}
}

func claudeEvent(name string, v any) []byte {
	payload, _ := json.Marshal(v)
	return sseEvent(name, payload)
}

func (e *claudeChunkEmitter) start(blocks *[][]byte) {
	if e.started {
		return
	}
	e.started = true
	*blocks = append(*blocks, claudeEvent("message_start", claudeMessageStartEvent{
		Type: "message_start",
		Message: claudeResponse{
			ID:      e.id,
			Type:    "message",
			Role:    "assistant",
			Model:   e.model,
			Content: []claudeBlock{},
			Usage:   claudeUsage{InputTokens: e.usage.InputTokens},
		},
	}))
}

func (e *claudeChunkEmitter) closeBlock(blocks *[][]byte) {
	if !e.textOpen && !e.toolOpen {
		return
	}
	*blocks = append(*blocks, claudeEvent("content_block_stop", claudeBlockStopEvent{Type: "content_block_stop", Index: e.blockIdx}))
	e.blockIdx++
	e.textOpen = false
	e.toolOpen = false
}

func (e *claudeChunkEmitter) Emit(events []StreamEvent) ([][]byte, error) {
	var blocks [][]byte
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			e.start(&blocks)
			if e.toolOpen {
				e.closeBlock(&blocks)
			}
			if !e.textOpen {
				blocks = append(blocks, claudeEvent("content_block_start", claudeBlockStartEvent{
					Type:         "content_block_start",
					Index:        e.blockIdx,
					ContentBlock: claudeTextBlock{Type: "text"},
				}))
				e.textOpen = true
			}
			blocks = append(blocks, claudeEvent("content_block_delta", claudeBlockDeltaEvent{
				Type:  "content_block_delta",
				Index: e.blockIdx,
				Delta: claudeDelta{Type: "text_delta", Text: ev.Text},
			}))
		case EventToolCallStart:
			e.start(&blocks)
			e.closeBlock(&blocks)
			e.sawTool = true
			blocks = append(blocks, claudeEvent("content_block_start", claudeBlockStartEvent{
				Type:  "content_block_start",
				Index: e.blockIdx,
				ContentBlock: claudeBlock{
					Type:  "tool_use",
					ID:    ev.ToolID,
					Name:  ev.ToolName,
					Input: json.RawMessage("{}"),
				},
			}))
			e.toolOpen = true
		case EventToolCallArgsDelta:
			if !e.toolOpen {
				continue
			}
			blocks = append(blocks, claudeEvent("content_block_delta", claudeBlockDeltaEvent{
				Type:  "content_block_delta",
				Index: e.blockIdx,
				Delta: claudeDelta{Type: "input_json_delta", PartialJSON: ev.Args},
			}))
		case EventToolCallEnd:
			if e.toolOpen {
				e.closeBlock(&blocks)
			}
		case EventUsage:
			if ev.Usage != nil {
				e.usage = *ev.Usage
			}
		case EventStop:
			e.start(&blocks)
			e.closeBlock(&blocks)
			blocks = append(blocks, e.terminalEvents(finishToClaude(ev.Finish, e.sawTool))...)
		}
	}
	return blocks, nil
}

func (e *claudeChunkEmitter) terminalEvents(stopReason string) [][]byte {
	e.stopped = true
	return [][]byte{
		claudeEvent("message_delta", claudeMessageDeltaEvent{
			Type:  "message_delta",
			Delta: claudeMessageDelta{StopReason: stopReason},
			Usage: claudeUsage{InputTokens: e.usage.InputTokens, OutputTokens: e.usage.OutputTokens},
		}),
		claudeEvent("message_stop", claudeMessageStopEvent{Type: "message_stop"}),
	}
}

func (e *claudeChunkEmitter) Finish() [][]byte {
	if e.stopped {
		return nil
	}
	var blocks [][]byte
	e.start(&blocks)
	e.closeBlock(&blocks)
	return append(blocks, e.terminalEvents(finishToClaude(FinishStop, e.sawTool))...)
}

func (e *claudeChunkEmitter) Fail(message string) [][]byte {
	if e.stopped {
		return nil
	}
	var blocks [][]byte
	e.start(&blocks)
	e.closeBlock(&blocks)
	return append(blocks, e.terminalEvents("error")...)
}

// ClaudePseudoStream renders a complete response as the Claude event
// sequence, one raw JSON payload per event. Providers that cannot stream use
// it to synthesize a stream after the full response arrives.
func ClaudePseudoStream(resp *Response, opts *Options) [][]byte {
	var events [][]byte
	add := func(v any) {
		payload, _ := json.Marshal(v)
		events = append(events, payload)
	}

	add(claudeMessageStartEvent{
		Type: "message_start",
		Message: claudeResponse{
			ID:      opts.responseID(newMessageID),
			Type:    "message",
			Role:    "assistant",
			Model:   opts.model(),
			Content: []claudeBlock{},
			Usage:   claudeUsage{InputTokens: resp.Usage.InputTokens},
		},
	})

	idx := 0
	if resp.Text != "" {
		add(claudeBlockStartEvent{Type: "content_block_start", Index: idx, ContentBlock: claudeTextBlock{Type: "text"}})
		add(claudeBlockDeltaEvent{Type: "content_block_delta", Index: idx, Delta: claudeDelta{Type: "text_delta", Text: resp.Text}})
		add(claudeBlockStopEvent{Type: "content_block_stop", Index: idx})
		idx++
	}
	for _, call := range resp.ToolCalls {
		id := call.ID
		if id == "" {
			id = newCallID()
		}
		add(claudeBlockStartEvent{Type: "content_block_start", Index: idx, ContentBlock: claudeBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  call.Name,
			Input: json.RawMessage("{}"),
		}})
		add(claudeBlockDeltaEvent{Type: "content_block_delta", Index: idx, Delta: claudeDelta{Type: "input_json_delta", PartialJSON: argsString(call.Args)}})
		add(claudeBlockStopEvent{Type: "content_block_stop", Index: idx})
		idx++
	}

	add(claudeMessageDeltaEvent{
		Type:  "message_delta",
		Delta: claudeMessageDelta{StopReason: finishToClaude(resp.Finish, len(resp.ToolCalls) > 0)},
		Usage: claudeUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	})
	add(claudeMessageStopEvent{Type: "message_stop"})
	return events
}

func argsString(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	return args
}

package upstream

import (
	"bytes"
	"strings"

	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/json"
)

// kiroEventMarker precedes each JSON payload inside a CodeWhisperer
// event-stream frame: the :message-type header value runs straight into
// the payload's opening brace.
const kiroEventMarker = "event{"

// kiroEvent is the loose shape of one payload. Tool-call fragments carry
// toolUseId and name; text fragments carry content.
type kiroEvent struct {
	Content        string `json:"content"`
	FollowupPrompt any    `json:"followupPrompt"`
	ToolUseID      string `json:"toolUseId"`
	Name           string `json:"name"`
	Input          string `json:"input"`
	Stop           bool   `json:"stop"`
}

type parsedKiroResponse struct {
	Text      string
	ToolCalls []converter.ToolCall
}

// parseKiroEventStream decodes a raw CodeWhisperer response frame. The
// binary header blocks are skipped by scanning for the event marker and
// extracting each balanced JSON object that follows it.
func parseKiroEventStream(raw []byte) parsedKiroResponse {
	acc := newKiroAccumulator()
	marker := []byte(kiroEventMarker)
	for i := 0; i < len(raw); {
		j := bytes.Index(raw[i:], marker)
		if j < 0 {
			break
		}
		start := i + j + len(marker) - 1
		obj := balancedJSON(raw, start)
		if obj == nil || !json.Valid(obj) {
			i = start + 1
			continue
		}
		acc.add(obj)
		i = start + len(obj)
	}
	return acc.result()
}

// balancedJSON returns the object beginning at raw[start] ('{'), matching
// braces outside of strings, or nil when the braces never balance.
func balancedJSON(raw []byte, start int) []byte {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return nil
}

type kiroPendingTool struct {
	id     string
	name   string
	input  strings.Builder
	closed bool
}

// kiroAccumulator folds event payloads into text and tool calls. Tool
// input arrives as string fragments keyed by toolUseId until stop:true;
// fragments for an id that never stops still count.
type kiroAccumulator struct {
	text    strings.Builder
	toolIDs []string
	tools   map[string]*kiroPendingTool
}

func newKiroAccumulator() *kiroAccumulator {
	return &kiroAccumulator{tools: make(map[string]*kiroPendingTool)}
}

func (a *kiroAccumulator) add(obj []byte) {
	var ev kiroEvent
	if err := json.Unmarshal(obj, &ev); err != nil {
		return
	}
	if ev.ToolUseID != "" && ev.Name != "" {
		p, ok := a.tools[ev.ToolUseID]
		if !ok {
			p = &kiroPendingTool{id: ev.ToolUseID, name: ev.Name}
			a.tools[ev.ToolUseID] = p
			a.toolIDs = append(a.toolIDs, ev.ToolUseID)
		}
		if !p.closed {
			p.input.WriteString(ev.Input)
			p.closed = ev.Stop
		}
		return
	}
	if ev.Content != "" && ev.FollowupPrompt == nil {
		a.text.WriteString(decodeKiroText(ev.Content))
	}
}

// result finalizes every pending tool, strips bracket calls out of the
// text, and merges both sources deduplicated by (name, args).
func (a *kiroAccumulator) result() parsedKiroResponse {
	calls := make([]converter.ToolCall, 0, len(a.toolIDs))
	seen := make(map[string]bool)
	for _, id := range a.toolIDs {
		p := a.tools[id]
		args := strings.TrimSpace(p.input.String())
		if args == "" {
			args = "{}"
		}
		calls = append(calls, converter.ToolCall{ID: p.id, Name: p.name, Args: args})
		seen[p.name+"\x00"+args] = true
	}

	text, bracketCalls := extractBracketToolCalls(a.text.String())
	for _, call := range bracketCalls {
		key := call.Name + "\x00" + call.Args
		if seen[key] {
			continue
		}
		seen[key] = true
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		calls = nil
	}
	return parsedKiroResponse{Text: text, ToolCalls: calls}
}

// decodeKiroText turns the literal two-character \n sequences the service
// emits into real newlines.
func decodeKiroText(s string) string {
	if !strings.Contains(s, `\n`) {
		return s
	}
	return strings.ReplaceAll(s, `\n`, "\n")
}

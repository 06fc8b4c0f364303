package upstream

import (
	"errors"
	"strings"

	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/json"
	log "github.com/aigate-dev/aigate/internal/logging"
)

// CodeWhisperer models sometimes narrate tool calls inline instead of
// emitting structured events: `[Called <name> with args: {...}]`. The
// parser below lifts those spans out of the text.
const (
	bracketPrefix = "[Called "
	bracketInfix  = " with args: "
)

var errUnrepairableArgs = errors.New("args not valid json after repair")

// extractBracketToolCalls removes every bracket call span from text and
// returns the remaining text plus the parsed calls. Spans whose args
// cannot be repaired into valid JSON are removed but yield no call.
func extractBracketToolCalls(text string) (string, []converter.ToolCall) {
	if !strings.Contains(text, bracketPrefix) {
		return text, nil
	}

	var calls []converter.ToolCall
	var sb strings.Builder
	sb.Grow(len(text))
	removed := false

	i := 0
	for i < len(text) {
		j := strings.Index(text[i:], bracketPrefix)
		if j < 0 {
			sb.WriteString(text[i:])
			break
		}
		sb.WriteString(text[i : i+j])
		start := i + j

		call, end, ok := parseBracketCall(text, start)
		if !ok {
			sb.WriteString(bracketPrefix)
			i = start + len(bracketPrefix)
			continue
		}
		removed = true
		if call != nil {
			calls = append(calls, *call)
		}
		i = end
	}

	out := sb.String()
	if removed {
		out = strings.TrimSpace(out)
	}
	return out, calls
}

// parseBracketCall reads one span starting at text[start] (the '[' of the
// prefix). ok reports whether a complete span was recognized; end is the
// index just past its closing bracket. A recognized span with broken args
// returns a nil call.
func parseBracketCall(text string, start int) (call *converter.ToolCall, end int, ok bool) {
	rest := text[start+len(bracketPrefix):]
	infix := strings.Index(rest, bracketInfix)
	if infix < 0 {
		return nil, 0, false
	}
	name := strings.TrimSpace(rest[:infix])
	if name == "" || strings.ContainsAny(name, "[]{}\n") {
		return nil, 0, false
	}

	argsStart := start + len(bracketPrefix) + infix + len(bracketInfix)
	for argsStart < len(text) && isJSONSpace(text[argsStart]) {
		argsStart++
	}
	if argsStart >= len(text) || text[argsStart] != '{' {
		return nil, 0, false
	}
	obj := balancedJSON([]byte(text), argsStart)
	if obj == nil {
		return nil, 0, false
	}

	end = argsStart + len(obj)
	for end < len(text) && isJSONSpace(text[end]) {
		end++
	}
	if end >= len(text) || text[end] != ']' {
		return nil, 0, false
	}
	end++

	args, err := repairJSON(string(obj))
	if err != nil {
		log.WithError(err).Warnf("kiro-api: dropping bracket tool call %q", name)
		return nil, end, true
	}
	return &converter.ToolCall{Name: name, Args: args}, end, true
}

// repairJSON accepts model-emitted argument objects, fixing the two
// defects that show up in practice: trailing commas and unquoted keys.
// Anything still invalid after those rewrites is an error.
func repairJSON(s string) (string, error) {
	if json.Valid([]byte(s)) {
		return s, nil
	}
	fixed := quoteBareKeys(stripTrailingCommas(s))
	if !json.Valid([]byte(fixed)) {
		return "", errUnrepairableArgs
	}
	return fixed, nil
}

// stripTrailingCommas drops commas whose next significant byte closes an
// object or array. String contents pass through untouched.
func stripTrailingCommas(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			sb.WriteByte(c)
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
		if c == '"' {
			inString = true
			sb.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// quoteBareKeys wraps bare identifiers in quotes when they sit in key
// position, immediately after '{' or ',' and followed by ':'.
func quoteBareKeys(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 16)
	inString := false
	escaped := false
	expectKey := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			sb.WriteByte(c)
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
		switch {
		case c == '"':
			inString = true
			expectKey = false
			sb.WriteByte(c)
		case c == '{' || c == ',':
			expectKey = true
			sb.WriteByte(c)
		case isJSONSpace(c):
			sb.WriteByte(c)
		default:
			if expectKey && isIdentByte(c) {
				j := i
				for j < len(s) && isIdentByte(s[j]) {
					j++
				}
				k := j
				for k < len(s) && isJSONSpace(s[k]) {
					k++
				}
				if k < len(s) && s[k] == ':' {
					sb.WriteByte('"')
					sb.WriteString(s[i:j])
					sb.WriteByte('"')
					i = j - 1
					expectKey = false
					continue
				}
			}
			expectKey = false
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

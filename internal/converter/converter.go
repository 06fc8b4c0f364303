package converter

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind selects which payload shape a conversion operates on.
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
	KindStreamChunk
	KindModelList
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindStreamChunk:
		return "streamChunk"
	case KindModelList:
		return "modelList"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Kinds lists every conversion kind the table must cover.
func Kinds() []Kind {
	return []Kind{KindRequest, KindResponse, KindStreamChunk, KindModelList}
}

// ErrEmptyConversation is returned by request parsers when the body carries
// no messages at all.
var ErrEmptyConversation = errors.New("conversation has no messages")

// Options carries per-call conversion inputs. All fields are optional;
// emitters generate ids and timestamps when they are zero.
type Options struct {
	// Model is echoed into emitted responses and chunks.
	Model string
	// ResponseID overrides the generated response/message id.
	ResponseID string
	// Created overrides the response timestamp (unix seconds).
	Created int64
}

func (o *Options) model() string {
	if o == nil {
		return ""
	}
	return o.Model
}

func (o *Options) responseID(gen func() string) string {
	if o != nil && o.ResponseID != "" {
		return o.ResponseID
	}
	return gen()
}

func (o *Options) created() int64 {
	if o != nil && o.Created != 0 {
		return o.Created
	}
	return time.Now().Unix()
}

// Func converts one payload between two fixed families.
type Func func(payload []byte, opts *Options) ([]byte, error)

type tableKey struct {
	kind Kind
	from Family
	to   Family
}

type codec struct {
	parseRequest  func(payload []byte) (*Request, error)
	emitRequest   func(req *Request) ([]byte, error)
	parseResponse func(payload []byte) (*Response, error)
	emitResponse  func(resp *Response, opts *Options) ([]byte, error)
	parseModels   func(payload []byte) ([]Model, error)
	emitModels    func(models []Model) ([]byte, error)
	newParser     func() chunkParser
	newEmitter    func(opts *Options) chunkEmitter
}

var codecsOnce = sync.OnceValue(func() map[Family]codec {
	return map[Family]codec{
		OpenAI: {
			parseRequest:  parseOpenAIRequest,
			emitRequest:   emitOpenAIRequest,
			parseResponse: parseOpenAIResponse,
			emitResponse:  emitOpenAIResponse,
			parseModels:   parseOpenAIModels,
			emitModels:    emitOpenAIModels,
			newParser:     func() chunkParser { return &openaiChunkParser{} },
			newEmitter:    func(opts *Options) chunkEmitter { return newOpenAIChunkEmitter(opts) },
		},
		Gemini: {
			parseRequest:  parseGeminiRequest,
			emitRequest:   emitGeminiRequest,
			parseResponse: parseGeminiResponse,
			emitResponse:  emitGeminiResponse,
			parseModels:   parseGeminiModels,
			emitModels:    emitGeminiModels,
			newParser:     func() chunkParser { return &geminiChunkParser{} },
			newEmitter:    func(opts *Options) chunkEmitter { return newGeminiChunkEmitter(opts) },
		},
		Claude: {
			parseRequest:  parseClaudeRequest,
			emitRequest:   emitClaudeRequest,
			parseResponse: parseClaudeResponse,
			emitResponse:  emitClaudeResponse,
			parseModels:   parseClaudeModels,
			emitModels:    emitClaudeModels,
			newParser:     func() chunkParser { return &claudeChunkParser{} },
			newEmitter:    func(opts *Options) chunkEmitter { return newClaudeChunkEmitter(opts) },
		},
	}
})

var tableOnce = sync.OnceValue(buildTable)

func buildTable() map[tableKey]Func {
	codecs := codecsOnce()
	table := make(map[tableKey]Func)
	for _, from := range Families() {
		for _, to := range Families() {
			if from == to {
				continue
			}
			src, dst := codecs[from], codecs[to]
			table[tableKey{KindRequest, from, to}] = requestCell(src, dst)
			table[tableKey{KindResponse, from, to}] = responseCell(src, dst)
			table[tableKey{KindModelList, from, to}] = modelListCell(src, dst)
			table[tableKey{KindStreamChunk, from, to}] = streamChunkCell(from, to)
		}
	}
	return table
}

func requestCell(src, dst codec) Func {
	return func(payload []byte, _ *Options) ([]byte, error) {
		req, err := src.parseRequest(payload)
		if err != nil {
			return nil, err
		}
		return dst.emitRequest(req)
	}
}

func responseCell(src, dst codec) Func {
	return func(payload []byte, opts *Options) ([]byte, error) {
		resp, err := src.parseResponse(payload)
		if err != nil {
			return nil, err
		}
		return dst.emitResponse(resp, opts)
	}
}

func modelListCell(src, dst codec) Func {
	return func(payload []byte, _ *Options) ([]byte, error) {
		models, err := src.parseModels(payload)
		if err != nil {
			return nil, err
		}
		return dst.emitModels(models)
	}
}

// streamChunkCell performs a one-shot chunk translation with fresh stream
// state. Real streams go through NewStreamTranslator, which keeps state
// across chunks; this cell exists so the table is total and single chunks
// can be translated in isolation.
func streamChunkCell(from, to Family) Func {
	return func(payload []byte, opts *Options) ([]byte, error) {
		tr, err := NewStreamTranslator(from, to, opts)
		if err != nil {
			return nil, err
		}
		blocks, err := tr.Translate(payload)
		if err != nil {
			return nil, err
		}
		var out []byte
		for _, b := range blocks {
			out = append(out, b...)
		}
		return out, nil
	}
}

// Convert translates payload between two families for the given kind.
// Identity conversions return the payload untouched.
func Convert(kind Kind, from, to Family, payload []byte, opts *Options) ([]byte, error) {
	if from == to {
		return payload, nil
	}
	fn, ok := tableOnce()[tableKey{kind, from, to}]
	if !ok {
		return nil, fmt.Errorf("no %s conversion registered for %s->%s", kind, from, to)
	}
	return fn(payload, opts)
}

// VerifyTable checks that every kind is covered for every directed family
// pair. It runs at startup so a missing conversion is a boot failure rather
// than a request-time surprise.
func VerifyTable() error {
	table := tableOnce()
	codecs := codecsOnce()
	for _, from := range Families() {
		if _, ok := codecs[from]; !ok {
			return fmt.Errorf("no codec registered for family %s", from)
		}
		for _, to := range Families() {
			if from == to {
				continue
			}
			for _, kind := range Kinds() {
				if _, ok := table[tableKey{kind, from, to}]; !ok {
					return fmt.Errorf("conversion table is missing %s %s->%s", kind, from, to)
				}
			}
		}
	}
	return nil
}

// ParseRequest decodes a native request body into canonical form.
// Provider adapters that speak a shape of their own (CodeWhisperer) build on
// this instead of re-implementing family parsing.
func ParseRequest(family Family, payload []byte) (*Request, error) {
	c, ok := codecsOnce()[family]
	if !ok {
		return nil, fmt.Errorf("unknown family %s", family)
	}
	return c.parseRequest(payload)
}

// EmitRequest serializes a canonical request into family-native bytes.
func EmitRequest(family Family, req *Request) ([]byte, error) {
	c, ok := codecsOnce()[family]
	if !ok {
		return nil, fmt.Errorf("unknown family %s", family)
	}
	return c.emitRequest(req)
}

// ParseResponse decodes a native unary response into canonical form.
func ParseResponse(family Family, payload []byte) (*Response, error) {
	c, ok := codecsOnce()[family]
	if !ok {
		return nil, fmt.Errorf("unknown family %s", family)
	}
	return c.parseResponse(payload)
}

// EmitResponse serializes a canonical response into family-native bytes.
func EmitResponse(family Family, resp *Response, opts *Options) ([]byte, error) {
	c, ok := codecsOnce()[family]
	if !ok {
		return nil, fmt.Errorf("unknown family %s", family)
	}
	return c.emitResponse(resp, opts)
}

// ParseModels decodes a native model list into canonical form.
func ParseModels(family Family, payload []byte) ([]Model, error) {
	c, ok := codecsOnce()[family]
	if !ok {
		return nil, fmt.Errorf("unknown family %s", family)
	}
	return c.parseModels(payload)
}

// EmitModels serializes a canonical model list into family-native bytes.
func EmitModels(family Family, models []Model) ([]byte, error) {
	c, ok := codecsOnce()[family]
	if !ok {
		return nil, fmt.Errorf("unknown family %s", family)
	}
	return c.emitModels(models)
}

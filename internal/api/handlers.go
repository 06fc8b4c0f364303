package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/json"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/router"
	"github.com/aigate-dev/aigate/internal/upstream"
	"github.com/aigate-dev/aigate/internal/usage"
)

// chatCall is one completion request after endpoint classification: the
// inbound protocol family, the raw body, and where the model and stream flag
// came from (body for OpenAI/Claude, URL for Gemini).
type chatCall struct {
	pinned config.Provider
	family converter.Family
	body   []byte
	model  string
	stream bool
}

// chatHandler serves the endpoints whose body names the model and the
// streaming mode: OpenAI chat completions and Claude messages.
func (s *Server) chatHandler(pinned config.Provider, family converter.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			writeError(c, &badRequestError{err})
			return
		}
		model, stream := router.StrategyFor(family).ExtractModelAndStream(body)
		s.generate(c, chatCall{
			pinned: pinned,
			family: family,
			body:   body,
			model:  model,
			stream: stream,
		})
	}
}

// geminiGenerateHandler serves the Gemini wildcard route, where the model
// and the action verb ride in the URL.
func (s *Server) geminiGenerateHandler(pinned config.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, stream, err := router.SplitGeminiAction(c.Param("action"))
		if err != nil {
			writeError(c, &badRequestError{err})
			return
		}
		body, err := readBody(c)
		if err != nil {
			writeError(c, &badRequestError{err})
			return
		}
		s.generate(c, chatCall{
			pinned: pinned,
			family: converter.Gemini,
			body:   body,
			model:  model,
			stream: stream,
		})
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(body) == 0 || !json.Valid(body) {
		return nil, errors.New("request body is not valid JSON")
	}
	return body, nil
}

// generate drives one completion request end to end: provider resolution,
// model policy, prompt side channels, request conversion into the adapter's
// family, and the unary or streaming upstream exchange.
func (s *Server) generate(c *gin.Context, call chatCall) {
	snap := s.router.Resolve(call.pinned, c.Request.Header)
	adapter, err := s.registry.Get(snap.Provider())
	if err != nil {
		writeError(c, &badRequestError{err})
		return
	}

	model, err := s.router.RouteModel(snap, call.model)
	if err != nil {
		writeError(c, err)
		return
	}

	promptText := router.StrategyFor(call.family).ExtractPromptText(call.body)
	s.prompts.LogPrompt(string(snap.Provider()), model, promptText)
	s.router.MirrorSystemPromptToFile(call.family, call.body)

	out := call.body
	if call.family != adapter.Family() {
		if out, err = converter.Convert(converter.KindRequest, call.family, adapter.Family(), call.body, nil); err != nil {
			writeError(c, &badRequestError{err})
			return
		}
	}
	// Conversion never fixes the routed model or mode into the body; the
	// outbound strategy does, so force/fallback and the URL-borne Gemini
	// stream flag all land the same way.
	outStrat := router.StrategyFor(adapter.Family())
	if out, err = outStrat.SetModel(out, model); err != nil {
		writeError(c, err)
		return
	}
	if out, err = outStrat.SetStream(out, call.stream); err != nil {
		writeError(c, err)
		return
	}
	out = s.router.ApplySystemPromptFromFile(adapter.Family(), out)

	exchange := &exchangeState{
		server:     s,
		provider:   snap.Provider(),
		callerKey:  c.GetString(ctxCallerKey),
		model:      model,
		promptText: promptText,
	}
	if call.stream {
		s.streamGenerate(c, adapter, call.family, out, exchange)
		return
	}
	s.unaryGenerate(c, adapter, call.family, out, exchange)
}

func (s *Server) unaryGenerate(c *gin.Context, adapter upstream.Adapter, family converter.Family, body []byte, ex *exchangeState) {
	native, err := adapter.GenerateContent(c.Request.Context(), ex.model, body)
	if err != nil {
		ex.fail()
		writeError(c, err)
		return
	}

	payload := native
	if family != adapter.Family() {
		payload, err = converter.Convert(converter.KindResponse, adapter.Family(), family, native, &converter.Options{Model: ex.model})
		if err != nil {
			ex.fail()
			writeError(c, &upstream.ProtocolError{Provider: string(adapter.Provider()), Err: err})
			return
		}
	}

	ex.responseText = router.StrategyFor(adapter.Family()).ExtractResponseText(native)
	ex.merge(usageFromPayload(adapter.Family(), native))
	ex.finish()
	c.Data(http.StatusOK, "application/json", payload)
}

// streamGenerate relays an upstream chunk stream as SSE in the caller's
// dialect. Once headers are out the only error channel left is a terminal
// event in-band, so upstream trouble mid-stream turns into the dialect's
// error finish instead of a status code.
func (s *Server) streamGenerate(c *gin.Context, adapter upstream.Adapter, family converter.Family, body []byte, ex *exchangeState) {
	chunks, err := adapter.GenerateContentStream(c.Request.Context(), ex.model, body)
	if err != nil {
		ex.fail()
		writeError(c, err)
		return
	}
	tr, err := converter.NewStreamTranslator(adapter.Family(), family, &converter.Options{Model: ex.model})
	if err != nil {
		ex.fail()
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	write := func(blocks [][]byte) bool {
		for _, block := range blocks {
			if _, err := c.Writer.Write(block); err != nil {
				return false
			}
		}
		c.Writer.Flush()
		return true
	}

	broken := false
	for chunk := range chunks {
		if chunk.Err != nil {
			log.WithError(chunk.Err).Warn("upstream stream failed mid-flight")
			ex.failed = true
			write(tr.Fail("upstream stream interrupted"))
			break
		}
		blocks, err := tr.Translate(chunk.Data)
		if err != nil {
			// A single undecodable chunk is dropped, not fatal; the stream
			// may still finish cleanly.
			log.WithError(err).Debug("skipping unparseable stream chunk")
			continue
		}
		ex.responseText += router.StrategyFor(adapter.Family()).ExtractResponseText(chunk.Data)
		ex.merge(usageFromPayload(adapter.Family(), chunk.Data))
		if !write(blocks) {
			broken = true
			break
		}
	}
	if !broken && !ex.failed {
		write(tr.Finish())
	}
	ex.finish()
}

// exchangeState accumulates what one upstream exchange learns for the
// prompt log and the usage recorder.
type exchangeState struct {
	server       *Server
	provider     config.Provider
	callerKey    string
	model        string
	promptText   string
	responseText string
	usage        converter.Usage
	failed       bool
}

func (ex *exchangeState) merge(u converter.Usage) {
	if u.InputTokens > ex.usage.InputTokens {
		ex.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > ex.usage.OutputTokens {
		ex.usage.OutputTokens = u.OutputTokens
	}
	if u.TotalTokens > ex.usage.TotalTokens {
		ex.usage.TotalTokens = u.TotalTokens
	}
}

func (ex *exchangeState) fail() {
	ex.failed = true
	ex.finish()
}

func (ex *exchangeState) finish() {
	if ex.responseText != "" {
		ex.server.prompts.LogResponse(string(ex.provider), ex.model, ex.responseText)
	}
	u := ex.usage
	// Providers that omit token accounting still get an estimated record.
	if u.InputTokens == 0 && ex.promptText != "" {
		u.InputTokens = usage.EstimateTokens(ex.promptText)
	}
	if u.OutputTokens == 0 && ex.responseText != "" {
		u.OutputTokens = usage.EstimateTokens(ex.responseText)
	}
	ex.server.recorder.Observe(usage.Record{
		Provider:     string(ex.provider),
		Model:        ex.model,
		APIKey:       ex.callerKey,
		RequestedAt:  time.Now().UTC(),
		Failed:       ex.failed,
		InputTokens:  int64(u.InputTokens),
		OutputTokens: int64(u.OutputTokens),
		TotalTokens:  int64(u.Total()),
	})
}

// usageFromPayload reads native token accounting out of a unary response or
// a single stream chunk. Zero values mean the payload carried none.
func usageFromPayload(family converter.Family, payload []byte) converter.Usage {
	switch family {
	case converter.OpenAI:
		return converter.Usage{
			InputTokens:  int(gjson.GetBytes(payload, "usage.prompt_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(payload, "usage.completion_tokens").Int()),
			TotalTokens:  int(gjson.GetBytes(payload, "usage.total_tokens").Int()),
		}
	case converter.Gemini:
		return converter.Usage{
			InputTokens:  int(gjson.GetBytes(payload, "usageMetadata.promptTokenCount").Int()),
			OutputTokens: int(gjson.GetBytes(payload, "usageMetadata.candidatesTokenCount").Int()),
			TotalTokens:  int(gjson.GetBytes(payload, "usageMetadata.totalTokenCount").Int()),
		}
	case converter.Claude:
		u := converter.Usage{
			InputTokens:  int(gjson.GetBytes(payload, "usage.input_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(payload, "usage.output_tokens").Int()),
		}
		if u.InputTokens == 0 {
			// Stream: input arrives on message_start under the message key.
			u.InputTokens = int(gjson.GetBytes(payload, "message.usage.input_tokens").Int())
		}
		return u
	}
	return converter.Usage{}
}

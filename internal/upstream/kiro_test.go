package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	kiroauth "github.com/aigate-dev/aigate/internal/auth/kiro"
	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
)

func testKiroStore(t *testing.T, client *http.Client) *kiroauth.Store {
	t.Helper()
	blob := fmt.Sprintf(
		`{"accessToken":"kiro-token","refreshToken":"rt","region":"us-east-1","authMethod":"social","profileArn":"arn:test:profile","expiresAt":%q}`,
		time.Now().Add(2*time.Hour).Format(time.RFC3339))
	s := kiroauth.NewStore(client)
	err := s.Load(config.KiroConfig{OAuthCredsBase64: base64.StdEncoding.EncodeToString([]byte(blob))})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func newTestKiro(t *testing.T, srv *httptest.Server) *KiroAPI {
	t.Helper()
	store := testKiroStore(t, srv.Client())
	return NewKiroAPI(config.KiroConfig{BaseURL: srv.URL}, store, srv.Client(), testRetry, time.Minute)
}

// frame mimics one event-stream frame: binary header bytes, then the
// message-type header value running into the JSON payload.
func frame(payload string) string {
	return "\x00\x00\x00\x7b\x0b:event-type\x07event" + payload
}

func TestParseKiroEventStream(t *testing.T) {
	raw := frame(`{"content":"Hel"}`) +
		frame(`{"content":"lo.\\nBye."}`) +
		frame(`{"content":"ignored","followupPrompt":{"content":"more?"}}`) +
		frame(`{"toolUseId":"t1","name":"get_weather","input":"{\"city\":"}`) +
		frame(`{"toolUseId":"t1","name":"get_weather","input":"\"Oslo\"}","stop":true}`)

	got := parseKiroEventStream([]byte(raw))

	if got.Text != "Hello.\nBye." {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v, want one call", got.ToolCalls)
	}
	call := got.ToolCalls[0]
	if call.ID != "t1" || call.Name != "get_weather" {
		t.Errorf("call = %+v", call)
	}
	if gjson.Get(call.Args, "city").String() != "Oslo" {
		t.Errorf("call args = %q", call.Args)
	}
}

func TestParseKiroEventStreamUnterminatedToolInput(t *testing.T) {
	// Fragments for an id that never sees stop:true still yield a call.
	raw := frame(`{"toolUseId":"t9","name":"lookup","input":"{\"q\":\"x\"}"}`)
	got := parseKiroEventStream([]byte(raw))
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Args != `{"q":"x"}` {
		t.Errorf("ToolCalls = %+v", got.ToolCalls)
	}
}

func TestParseKiroEventStreamDedupesBracketCalls(t *testing.T) {
	// The narrated bracket call repeats the structured one and must be
	// dropped; the novel bracket call survives. Both spans leave the text.
	raw := frame(`{"toolUseId":"t1","name":"get_weather","input":"{\"city\":\"Oslo\"}","stop":true}`) +
		frame(`{"content":"Checking. [Called get_weather with args: {\"city\":\"Oslo\"}]"}`) +
		frame(`{"content":"[Called get_time with args: {\"tz\":\"CET\"}] Done."}`)

	got := parseKiroEventStream([]byte(raw))

	if got.Text != "Checking.  Done." {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %+v, want two", got.ToolCalls)
	}
	if got.ToolCalls[0].Name != "get_weather" || got.ToolCalls[1].Name != "get_time" {
		t.Errorf("call order = %s, %s", got.ToolCalls[0].Name, got.ToolCalls[1].Name)
	}
}

func TestExtractBracketToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantText  string
		wantCalls int
	}{
		{"no brackets", "plain text", "plain text", 0},
		{"single call", `before [Called f with args: {"a":1}] after`, "before  after", 1},
		{"nested braces in args", `[Called f with args: {"a":{"b":[1,2]}}]`, "", 1},
		{"missing infix stays text", "[Called f without the marker]", "[Called f without the marker]", 0},
		{"unbalanced args stay text", `[Called f with args: {"a":1`, `[Called f with args: {"a":1`, 0},
		{"unrepairable removed without call", `x [Called f with args: {"a":}] y`, "x  y", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, calls := extractBracketToolCalls(tt.in)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if len(calls) != tt.wantCalls {
				t.Errorf("calls = %+v, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"already valid", `{"a":1}`, `{"a":1}`, false},
		{"trailing comma", `{"a":1,}`, `{"a":1}`, false},
		{"trailing comma in array", `{"a":[1,2,]}`, `{"a":[1,2]}`, false},
		{"bare keys", `{city: "Oslo", zip: 1234}`, `{"city": "Oslo", "zip": 1234}`, false},
		{"comma inside string kept", `{"a":"1,}"}`, `{"a":"1,}"}`, false},
		{"hopeless", `{"a":}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repairJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKiroModelID(t *testing.T) {
	tests := []struct {
		model string
		want  string
		ok    bool
	}{
		{"claude-sonnet-4-20250514", "CLAUDE_SONNET_4_20250514_V1_0", true},
		{"claude-3-7-sonnet-20250219", "CLAUDE_3_7_SONNET_20250219_V1_0", true},
		{"amazonq-dev", "amazonq-dev", true},
		{"claude-3-5-haiku-20241022", "", false},
		{"gpt-4o", "", false},
	}
	for _, tt := range tests {
		got, ok := kiroModelID(tt.model)
		if got != tt.want || ok != tt.ok {
			t.Errorf("kiroModelID(%q) = (%q, %v), want (%q, %v)", tt.model, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBuildKiroConversation(t *testing.T) {
	text := func(s string) []converter.Part {
		return []converter.Part{{Kind: converter.PartText, Text: s}}
	}
	req := &converter.Request{
		System: "Be brief.",
		Turns: []converter.Turn{
			{Role: converter.RoleUser, Parts: text("one")},
			{Role: converter.RoleAssistant, Parts: text("two")},
			{Role: converter.RoleUser, Parts: text("three")},
		},
		Tools: []converter.Tool{{Name: "lookup", Description: "d", Params: `{"type":"object"}`}},
	}

	payload, err := buildKiroConversation(req, "CLAUDE_SONNET_4_20250514_V1_0", "arn:p")
	if err != nil {
		t.Fatalf("buildKiroConversation: %v", err)
	}

	state := gjson.GetBytes(payload, "conversationState")
	if got := state.Get("chatTriggerType").String(); got != "MANUAL" {
		t.Errorf("chatTriggerType = %q", got)
	}
	if state.Get("conversationId").String() == "" {
		t.Error("conversationId missing")
	}
	if got := state.Get("currentMessage.userInputMessage.content").String(); got != "three" {
		t.Errorf("currentMessage content = %q", got)
	}
	if got := state.Get("currentMessage.userInputMessage.modelId").String(); got != "CLAUDE_SONNET_4_20250514_V1_0" {
		t.Errorf("modelId = %q", got)
	}
	if got := state.Get("currentMessage.userInputMessage.userInputMessageContext.tools.0.toolSpecification.name").String(); got != "lookup" {
		t.Errorf("tool name = %q", got)
	}
	if got := gjson.GetBytes(payload, "profileArn").String(); got != "arn:p" {
		t.Errorf("profileArn = %q", got)
	}

	history := state.Get("history").Array()
	if len(history) != 2 {
		t.Fatalf("history has %d entries, want 2", len(history))
	}
	if got := history[0].Get("userInputMessage.content").String(); got != "Be brief.\none" {
		t.Errorf("history[0] = %q, want system folded into the first user turn", got)
	}
	if got := history[1].Get("assistantResponseMessage.content").String(); got != "two" {
		t.Errorf("history[1] = %q", got)
	}
}

func TestBuildKiroConversationPadsAlternation(t *testing.T) {
	text := func(s string) []converter.Part {
		return []converter.Part{{Kind: converter.PartText, Text: s}}
	}
	req := &converter.Request{
		Turns: []converter.Turn{
			{Role: converter.RoleAssistant, Parts: text("greeting")},
			{Role: converter.RoleAssistant, Parts: text("again")},
			{Role: converter.RoleUser, Parts: text("q")},
			{Role: converter.RoleUser, Parts: text("current")},
		},
	}

	payload, err := buildKiroConversation(req, "M", "")
	if err != nil {
		t.Fatalf("buildKiroConversation: %v", err)
	}

	history := conversationState(t, payload).Get("history").Array()
	// Consecutive assistants merge, a user pad opens the history, and a
	// trailing user gets an assistant pad.
	if len(history) != 4 {
		t.Fatalf("history has %d entries, want 4", len(history))
	}
	if got := history[0].Get("userInputMessage.content").String(); got != "" {
		t.Errorf("history[0] should be an empty user pad, got %q", got)
	}
	if got := history[1].Get("assistantResponseMessage.content").String(); got != "greeting\nagain" {
		t.Errorf("history[1] = %q", got)
	}
	if got := history[2].Get("userInputMessage.content").String(); got != "q" {
		t.Errorf("history[2] = %q", got)
	}
	if !history[3].Get("assistantResponseMessage").Exists() {
		t.Error("history[3] should be an assistant pad")
	}
	if gjson.GetBytes(payload, "profileArn").Exists() {
		t.Error("empty profileArn must be omitted")
	}
}

func conversationState(t *testing.T, payload []byte) gjson.Result {
	t.Helper()
	s := gjson.GetBytes(payload, "conversationState")
	if !s.Exists() {
		t.Fatalf("payload has no conversationState: %s", payload)
	}
	return s
}

func TestBuildKiroConversationEmpty(t *testing.T) {
	_, err := buildKiroConversation(&converter.Request{}, "M", "")
	if !errors.Is(err, converter.ErrEmptyConversation) {
		t.Errorf("err = %v, want ErrEmptyConversation", err)
	}
}

func TestKiroGenerateContent(t *testing.T) {
	var captured []byte
	var path, authz, amzAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		authz = r.Header.Get("Authorization")
		amzAgent = r.Header.Get("x-amz-user-agent")
		captured, _ = io.ReadAll(r.Body)
		io.WriteString(w, frame(`{"content":"All good."}`))
	}))
	defer srv.Close()

	a := newTestKiro(t, srv)
	body := []byte(`{"model":"claude-sonnet-4-20250514","max_tokens":100,"system":"Be brief.","messages":[{"role":"user","content":"status?"}]}`)
	out, err := a.GenerateContent(context.Background(), "claude-sonnet-4-20250514", body)
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	if path != kiroAssistantPath {
		t.Errorf("path = %q, want %s", path, kiroAssistantPath)
	}
	if authz != "Bearer kiro-token" {
		t.Errorf("Authorization = %q", authz)
	}
	if !strings.Contains(amzAgent, "KiroIDE-") {
		t.Errorf("x-amz-user-agent = %q, want KiroIDE fingerprint", amzAgent)
	}
	if got := gjson.GetBytes(captured, "conversationState.currentMessage.userInputMessage.content").String(); got != "Be brief.\nstatus?" {
		t.Errorf("currentMessage content = %q", got)
	}
	if got := gjson.GetBytes(captured, "profileArn").String(); got != "arn:test:profile" {
		t.Errorf("profileArn = %q", got)
	}

	if got := gjson.GetBytes(out, "content.0.text").String(); got != "All good." {
		t.Errorf("response text = %q", got)
	}
	if got := gjson.GetBytes(out, "stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q", got)
	}
	if gjson.GetBytes(out, "usage.input_tokens").Int() <= 0 {
		t.Error("usage.input_tokens should be estimated when upstream reports none")
	}
}

func TestKiroAmazonQPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		io.WriteString(w, frame(`{"content":"ok"}`))
	}))
	defer srv.Close()

	a := newTestKiro(t, srv)
	body := []byte(`{"model":"amazonq-dev","messages":[{"role":"user","content":"hi"}]}`)
	if _, err := a.GenerateContent(context.Background(), "amazonq-dev", body); err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if path != kiroAmazonQPath {
		t.Errorf("path = %q, want %s", path, kiroAmazonQPath)
	}
}

func TestKiroUnsupportedModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for an unsupported model")
	}))
	defer srv.Close()

	a := newTestKiro(t, srv)
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	_, err := a.GenerateContent(context.Background(), "gpt-4o", body)
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("err = %v, want ErrUnsupportedModel", err)
	}
}

func TestKiroStreamSynthesis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, frame(`{"content":"Hello"}`)+frame(`{"content":" there"}`))
	}))
	defer srv.Close()

	a := newTestKiro(t, srv)
	body := []byte(`{"model":"claude-sonnet-4-20250514","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	chunks, err := a.GenerateContentStream(context.Background(), "claude-sonnet-4-20250514", body)
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}

	var types []string
	var text strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		types = append(types, gjson.GetBytes(chunk.Data, "type").String())
		text.WriteString(gjson.GetBytes(chunk.Data, "delta.text").String())
	}

	if len(types) == 0 || types[0] != "message_start" {
		t.Fatalf("event types = %v, want message_start first", types)
	}
	if types[len(types)-1] != "message_stop" {
		t.Errorf("last event = %q, want message_stop", types[len(types)-1])
	}
	if text.String() != "Hello there" {
		t.Errorf("concatenated deltas = %q", text.String())
	}
}

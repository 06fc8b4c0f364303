package router

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/sysprompt"
	"github.com/aigate-dev/aigate/internal/upstream"
)

func TestSplitGeminiAction(t *testing.T) {
	cases := []struct {
		tail    string
		model   string
		stream  bool
		wantErr bool
	}{
		{"/gemini-2.5-pro:generateContent", "gemini-2.5-pro", false, false},
		{"/gemini-2.5-flash:streamGenerateContent", "gemini-2.5-flash", true, false},
		{"/gemini-2.5-flash:streamGenerateContent?alt=sse", "gemini-2.5-flash", true, false},
		{"/gemini-2.5-pro", "", false, true},
		{"/:generateContent", "", false, true},
		{"/gemini-2.5-pro:countTokens", "", false, true},
	}
	for _, tt := range cases {
		model, stream, err := SplitGeminiAction(tt.tail)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitGeminiAction(%q) error = %v, wantErr %v", tt.tail, err, tt.wantErr)
			continue
		}
		if model != tt.model || stream != tt.stream {
			t.Errorf("SplitGeminiAction(%q) = (%q, %v), want (%q, %v)", tt.tail, model, stream, tt.model, tt.stream)
		}
	}
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.ModelProvider = config.ProviderOpenAICustom
	return cfg
}

func TestResolveProviderPriority(t *testing.T) {
	r := New(testConfig(), nil)

	// Path pin wins over everything; header is consumed either way.
	h := http.Header{}
	h.Set(HeaderProvider, "claude-custom")
	snap := r.Resolve(config.ProviderKiroAPI, h)
	if snap.Provider() != config.ProviderKiroAPI {
		t.Errorf("pinned: provider = %q", snap.Provider())
	}
	if h.Get(HeaderProvider) != "" {
		t.Error("pinned: header not stripped")
	}

	// Header next.
	h = http.Header{}
	h.Set(HeaderProvider, "claude-custom")
	snap = r.Resolve("", h)
	if snap.Provider() != config.ProviderClaudeCustom {
		t.Errorf("header: provider = %q", snap.Provider())
	}
	if h.Get(HeaderProvider) != "" {
		t.Error("header: not stripped after use")
	}

	// Unknown header value falls back to the configured default.
	h = http.Header{}
	h.Set(HeaderProvider, "who-knows")
	snap = r.Resolve("", h)
	if snap.Provider() != config.ProviderOpenAICustom {
		t.Errorf("unknown header: provider = %q", snap.Provider())
	}

	// Nothing set: configured default.
	snap = r.Resolve("", http.Header{})
	if snap.Provider() != config.ProviderOpenAICustom {
		t.Errorf("default: provider = %q", snap.Provider())
	}
}

func TestRouteModelFallbackAndForce(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultModel = "gpt-default"
	r := New(cfg, nil)

	// Fallback keeps an explicit model.
	model, err := r.RouteModel(cfg.Snapshot(""), "gpt-explicit")
	if err != nil {
		t.Fatalf("RouteModel() error = %v", err)
	}
	if model != "gpt-explicit" {
		t.Errorf("fallback with explicit model = %q", model)
	}

	// Fallback fills an absent model.
	model, err = r.RouteModel(cfg.Snapshot(""), "")
	if err != nil {
		t.Fatalf("RouteModel() error = %v", err)
	}
	if model != "gpt-default" {
		t.Errorf("fallback with absent model = %q", model)
	}

	// Force overwrites unconditionally.
	cfg.DefaultModelMode = config.ModelModeForce
	model, err = r.RouteModel(cfg.Snapshot(""), "gpt-explicit")
	if err != nil {
		t.Fatalf("RouteModel() error = %v", err)
	}
	if model != "gpt-default" {
		t.Errorf("force = %q, want gpt-default", model)
	}
}

func TestRouteModelUnsupported(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, nil)

	_, err := r.RouteModel(cfg.Snapshot(config.ProviderGeminiCLI), "gpt-4o")
	if !errors.Is(err, upstream.ErrUnsupportedModel) {
		t.Errorf("gemini-cli serving gpt-4o: err = %v, want ErrUnsupportedModel", err)
	}

	_, err = r.RouteModel(cfg.Snapshot(config.ProviderKiroAPI), "gemini-2.5-pro")
	if !errors.Is(err, upstream.ErrUnsupportedModel) {
		t.Errorf("kiro-api serving gemini: err = %v, want ErrUnsupportedModel", err)
	}

	// No model anywhere.
	_, err = r.RouteModel(cfg.Snapshot(""), "")
	if !errors.Is(err, upstream.ErrUnsupportedModel) {
		t.Errorf("no model, no default: err = %v, want ErrUnsupportedModel", err)
	}

	// Static-key providers forward anything.
	if _, err := r.RouteModel(cfg.Snapshot(config.ProviderOpenAICustom), "some-exotic-model"); err != nil {
		t.Errorf("openai-custom: err = %v, want nil", err)
	}
}

func newPromptManager(t *testing.T, cfg *config.Config) *sysprompt.Manager {
	t.Helper()
	m, err := sysprompt.NewManager(cfg)
	if err != nil {
		t.Fatalf("sysprompt.NewManager() error = %v", err)
	}
	return m
}

func TestApplySystemPromptFromFile(t *testing.T) {
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(promptFile, []byte("injected rules"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.SystemPromptFile = promptFile
	cfg.SystemPromptMode = config.PromptInjectAppend
	r := New(cfg, newPromptManager(t, cfg))

	body := []byte(`{"model":"claude-sonnet-4","system":"original","messages":[{"role":"user","content":"hi"}]}`)
	out := r.ApplySystemPromptFromFile(converter.Claude, body)
	if got := gjson.GetBytes(out, "system").String(); got != "original\ninjected rules" {
		t.Errorf("appended system = %q", got)
	}

	cfg.SystemPromptMode = config.PromptInjectOverwrite
	r = New(cfg, newPromptManager(t, cfg))
	out = r.ApplySystemPromptFromFile(converter.Claude, body)
	if got := gjson.GetBytes(out, "system").String(); got != "injected rules" {
		t.Errorf("overwritten system = %q", got)
	}
}

func TestApplySystemPromptNoFileLeavesBody(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, newPromptManager(t, cfg))
	body := []byte(`{"system":"keep","messages":[]}`)
	out := r.ApplySystemPromptFromFile(converter.Claude, body)
	if string(out) != string(body) {
		t.Errorf("body changed without an injection file: %s", out)
	}
}

func TestMirrorSystemPromptToFile(t *testing.T) {
	dir := t.TempDir()
	mirror := filepath.Join(dir, "mirror.txt")

	cfg := testConfig()
	cfg.SystemPromptMirrorFile = mirror
	r := New(cfg, newPromptManager(t, cfg))

	r.MirrorSystemPromptToFile(converter.OpenAI, []byte(`{"messages":[{"role":"system","content":"the rules"},{"role":"user","content":"hi"}]}`))
	data, err := os.ReadFile(mirror)
	if err != nil {
		t.Fatalf("mirror not written: %v", err)
	}
	if string(data) != "the rules" {
		t.Errorf("mirror = %q", data)
	}
}

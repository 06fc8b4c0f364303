// Package config defines the gateway configuration surface: the YAML/JSONC
// file schema, flag and environment overlays, validation, and the immutable
// per-request Snapshot handlers read from.
package config

import (
	"strings"
	"time"
)

// ModelMode controls how the configured default model interacts with the
// model named in a request.
type ModelMode string

const (
	// ModelModeFallback substitutes the default model only when the request
	// names none.
	ModelModeFallback ModelMode = "fallback"

	// ModelModeForce overwrites the request's model with the default model
	// unconditionally.
	ModelModeForce ModelMode = "force"
)

// PromptInjectMode controls how a configured system-prompt file combines
// with the system text a request already carries.
type PromptInjectMode string

const (
	// PromptInjectOverwrite replaces the request's system text with the file
	// content.
	PromptInjectOverwrite PromptInjectMode = "overwrite"

	// PromptInjectAppend appends the file content after the request's system
	// text.
	PromptInjectAppend PromptInjectMode = "append"
)

// PromptLogMode selects where request/response prompt dumps go.
type PromptLogMode string

const (
	// PromptLogNone disables prompt logging.
	PromptLogNone PromptLogMode = "none"

	// PromptLogConsole writes prompt dumps to the process log.
	PromptLogConsole PromptLogMode = "console"

	// PromptLogFile writes prompt dumps to a dated file next to the binary.
	PromptLogFile PromptLogMode = "file"
)

// Config is the full gateway configuration, loaded once at startup.
// Request handlers never touch it directly; they receive a Snapshot.
type Config struct {
	// Host is the listen address. Defaults to localhost; set 0.0.0.0 to
	// accept remote clients.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is the listen port.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// APIKey is the key callers must present. Shorthand for a single-entry
	// APIKeys list.
	APIKey string `yaml:"api-key,omitempty" json:"api-key,omitempty"`

	// APIKeys lists every accepted caller key. Empty disables caller
	// authentication.
	APIKeys []string `yaml:"api-keys,omitempty" json:"api-keys,omitempty"`

	// ModelProvider is the default upstream when neither the request path
	// nor the model-provider header names one.
	ModelProvider Provider `yaml:"model-provider,omitempty" json:"model-provider,omitempty"`

	// DefaultModel substitutes or overrides the request's model per
	// DefaultModelMode.
	DefaultModel string `yaml:"default-model,omitempty" json:"default-model,omitempty"`

	// DefaultModelMode is fallback or force. Defaults to fallback.
	DefaultModelMode ModelMode `yaml:"default-model-mode,omitempty" json:"default-model-mode,omitempty"`

	// GeminiCLI configures the gemini-cli provider.
	GeminiCLI GeminiCLIConfig `yaml:"gemini-cli,omitempty" json:"gemini-cli,omitempty"`

	// OpenAI configures the openai-custom provider.
	OpenAI OpenAIConfig `yaml:"openai,omitempty" json:"openai,omitempty"`

	// Claude configures the claude-custom provider.
	Claude ClaudeConfig `yaml:"claude,omitempty" json:"claude,omitempty"`

	// Kiro configures the kiro-api provider.
	Kiro KiroConfig `yaml:"kiro,omitempty" json:"kiro,omitempty"`

	// SystemPromptFile injects file content as the system prompt of every
	// request. Empty disables injection.
	SystemPromptFile string `yaml:"system-prompt-file,omitempty" json:"system-prompt-file,omitempty"`

	// SystemPromptMode is overwrite or append. Defaults to overwrite.
	SystemPromptMode PromptInjectMode `yaml:"system-prompt-mode,omitempty" json:"system-prompt-mode,omitempty"`

	// SystemPromptMirrorFile, when set, is kept equal to the system text of
	// the most recent request. Written atomically, cleared when a request
	// carries none.
	SystemPromptMirrorFile string `yaml:"system-prompt-mirror-file,omitempty" json:"system-prompt-mirror-file,omitempty"`

	// LogPrompts is none, console or file.
	LogPrompts PromptLogMode `yaml:"log-prompts,omitempty" json:"log-prompts,omitempty"`

	// PromptLogBaseName prefixes dated prompt log files. Defaults to
	// "prompt_log".
	PromptLogBaseName string `yaml:"prompt-log-base-name,omitempty" json:"prompt-log-base-name,omitempty"`

	// RequestMaxRetries bounds retries of upstream 429/5xx responses.
	RequestMaxRetries int `yaml:"request-max-retries,omitempty" json:"request-max-retries,omitempty"`

	// RequestBaseDelay is the backoff base in milliseconds; attempt n waits
	// base * 2^n.
	RequestBaseDelay int `yaml:"request-base-delay,omitempty" json:"request-base-delay,omitempty"`

	// CronNearMinutes is both the refresh sweep interval and the "near
	// expiry" window for OAuth tokens.
	CronNearMinutes int `yaml:"cron-near-minutes,omitempty" json:"cron-near-minutes,omitempty"`

	// CronRefreshToken enables the background token refresh sweep.
	// Defaults to true.
	CronRefreshToken *bool `yaml:"cron-refresh-token,omitempty" json:"cron-refresh-token,omitempty"`

	// ProxyURL routes all upstream traffic through an HTTP(S) or SOCKS5
	// proxy.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// Log configures process logging.
	Log LogConfig `yaml:"log,omitempty" json:"log,omitempty"`

	// Usage configures the optional usage statistics backend.
	Usage UsageConfig `yaml:"usage,omitempty" json:"usage,omitempty"`

	// Store configures the optional remote credential store.
	Store StoreConfig `yaml:"store,omitempty" json:"store,omitempty"`
}

// LogConfig configures process logging.
type LogConfig struct {
	// Level is trace, debug, info, warn or error. Defaults to info.
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// File redirects log output to a rotating file instead of stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// UsageConfig configures the usage statistics backend.
type UsageConfig struct {
	// DSN selects the backend: a file path or sqlite:// URL for SQLite,
	// postgres:// for PostgreSQL. Empty disables usage recording.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// BatchSize is the number of records buffered before a write.
	BatchSize int `yaml:"batch-size,omitempty" json:"batch-size,omitempty"`

	// FlushInterval is a duration string bounding how long records buffer.
	FlushInterval string `yaml:"flush-interval,omitempty" json:"flush-interval,omitempty"`

	// RetentionDays prunes records older than this many days.
	RetentionDays int `yaml:"retention-days,omitempty" json:"retention-days,omitempty"`
}

// StoreConfig configures the remote credential store used to sync OAuth
// credential files across gateway instances.
type StoreConfig struct {
	// URL selects the store: s3:// for object storage, a git URL for a
	// repository. Empty keeps credentials local.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// NewDefaultConfig returns a Config with every default applied.
func NewDefaultConfig() *Config {
	return &Config{
		Host:              "localhost",
		Port:              3000,
		ModelProvider:     ProviderGeminiCLI,
		DefaultModelMode:  ModelModeFallback,
		SystemPromptMode:  PromptInjectOverwrite,
		LogPrompts:        PromptLogNone,
		PromptLogBaseName: "prompt_log",
		RequestMaxRetries: 3,
		RequestBaseDelay:  1000,
		CronNearMinutes:   15,
	}
}

// CronEnabled reports whether the background refresh sweep runs.
// Defaults to true.
func (cfg *Config) CronEnabled() bool {
	if cfg.CronRefreshToken == nil {
		return true
	}
	return *cfg.CronRefreshToken
}

// AllAPIKeys merges APIKey into APIKeys, trimmed and deduplicated.
func (cfg *Config) AllAPIKeys() []string {
	keys := make([]string, 0, len(cfg.APIKeys)+1)
	seen := make(map[string]struct{}, len(cfg.APIKeys)+1)
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" {
			return
		}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	add(cfg.APIKey)
	for _, k := range cfg.APIKeys {
		add(k)
	}
	return keys
}

// BaseDelay returns the retry backoff base as a duration.
func (cfg *Config) BaseDelay() time.Duration {
	if cfg.RequestBaseDelay <= 0 {
		return time.Second
	}
	return time.Duration(cfg.RequestBaseDelay) * time.Millisecond
}

// NearWindow returns the token-expiry window as a duration.
func (cfg *Config) NearWindow() time.Duration {
	if cfg.CronNearMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(cfg.CronNearMinutes) * time.Minute
}

// Sanitize normalizes free-form fields in place: enum casing, trailing
// slashes on URLs, blank keys. It never rejects; Validate does.
func (cfg *Config) Sanitize() {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.ModelProvider = Provider(strings.ToLower(strings.TrimSpace(string(cfg.ModelProvider))))
	cfg.DefaultModel = strings.TrimSpace(cfg.DefaultModel)
	cfg.DefaultModelMode = ModelMode(strings.ToLower(strings.TrimSpace(string(cfg.DefaultModelMode))))
	cfg.SystemPromptMode = PromptInjectMode(strings.ToLower(strings.TrimSpace(string(cfg.SystemPromptMode))))
	cfg.LogPrompts = PromptLogMode(strings.ToLower(strings.TrimSpace(string(cfg.LogPrompts))))

	if cfg.DefaultModelMode == "" {
		cfg.DefaultModelMode = ModelModeFallback
	}
	if cfg.SystemPromptMode == "" {
		cfg.SystemPromptMode = PromptInjectOverwrite
	}
	if cfg.LogPrompts == "" {
		cfg.LogPrompts = PromptLogNone
	}
	if cfg.PromptLogBaseName = strings.TrimSpace(cfg.PromptLogBaseName); cfg.PromptLogBaseName == "" {
		cfg.PromptLogBaseName = "prompt_log"
	}

	cfg.OpenAI.APIKey = strings.TrimSpace(cfg.OpenAI.APIKey)
	cfg.Claude.APIKey = strings.TrimSpace(cfg.Claude.APIKey)
	cfg.GeminiCLI.ProjectID = strings.TrimSpace(cfg.GeminiCLI.ProjectID)

	cfg.GeminiCLI.BaseURL = trimBaseURL(cfg.GeminiCLI.BaseURL)
	cfg.OpenAI.BaseURL = trimBaseURL(cfg.OpenAI.BaseURL)
	cfg.Claude.BaseURL = trimBaseURL(cfg.Claude.BaseURL)
	cfg.Kiro.BaseURL = trimBaseURL(cfg.Kiro.BaseURL)
}

func trimBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// Validate rejects configurations the gateway cannot start with.
func (cfg *Config) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{Field: "port", Message: "must be between 1 and 65535"}
	}
	if _, ok := ParseProvider(string(cfg.ModelProvider)); !ok {
		return &ValidationError{Field: "model-provider", Message: "unknown provider " + string(cfg.ModelProvider)}
	}
	switch cfg.DefaultModelMode {
	case ModelModeFallback, ModelModeForce:
	default:
		return &ValidationError{Field: "default-model-mode", Message: "must be fallback or force"}
	}
	switch cfg.SystemPromptMode {
	case PromptInjectOverwrite, PromptInjectAppend:
	default:
		return &ValidationError{Field: "system-prompt-mode", Message: "must be overwrite or append"}
	}
	switch cfg.LogPrompts {
	case PromptLogNone, PromptLogConsole, PromptLogFile:
	default:
		return &ValidationError{Field: "log-prompts", Message: "must be none, console or file"}
	}
	if cfg.RequestMaxRetries < 0 {
		return &ValidationError{Field: "request-max-retries", Message: "must not be negative"}
	}
	return cfg.validateProviderCredentials()
}

// Snapshot is the immutable view a single request works against. The base
// Config stays shared; a Snapshot overlays only the fields routing may
// change, so handlers never write through to shared state.
type Snapshot struct {
	cfg      *Config
	provider Provider
}

// Snapshot returns a request view routed at the given provider. An empty
// provider keeps the configured default.
func (cfg *Config) Snapshot(p Provider) Snapshot {
	if p == "" {
		p = cfg.ModelProvider
	}
	return Snapshot{cfg: cfg, provider: p}
}

// Provider is the upstream this request routes to.
func (s Snapshot) Provider() Provider { return s.provider }

// DefaultModel is the configured default model name.
func (s Snapshot) DefaultModel() string { return s.cfg.DefaultModel }

// DefaultModelMode is the configured default-model policy.
func (s Snapshot) DefaultModelMode() ModelMode { return s.cfg.DefaultModelMode }

// MaxRetries bounds upstream 429/5xx retries for this request.
func (s Snapshot) MaxRetries() int { return s.cfg.RequestMaxRetries }

// BaseDelay is the retry backoff base.
func (s Snapshot) BaseDelay() time.Duration { return s.cfg.BaseDelay() }

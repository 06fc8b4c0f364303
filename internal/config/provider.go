package config

import "strings"

// Provider identifies an upstream account type the gateway can route to.
type Provider string

const (
	// ProviderGeminiCLI forwards through Google's Code Assist API using
	// personal OAuth2 credentials, the same account a gemini CLI login
	// produces.
	ProviderGeminiCLI Provider = "gemini-cli"

	// ProviderOpenAICustom forwards to any OpenAI-compatible endpoint
	// (OpenAI, OpenRouter, DeepSeek, a local llama server) with a static
	// bearer key.
	ProviderOpenAICustom Provider = "openai-custom"

	// ProviderClaudeCustom forwards to an Anthropic-compatible Messages API
	// with a static x-api-key.
	ProviderClaudeCustom Provider = "claude-custom"

	// ProviderKiroAPI forwards to the AWS CodeWhisperer endpoint using Kiro
	// SSO tokens.
	ProviderKiroAPI Provider = "kiro-api"
)

// KnownProviders lists every routable provider in display order.
func KnownProviders() []Provider {
	return []Provider{ProviderGeminiCLI, ProviderOpenAICustom, ProviderClaudeCustom, ProviderKiroAPI}
}

// ParseProvider normalizes s and reports whether it names a known provider.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownProviders() {
		if p == known {
			return known, true
		}
	}
	return "", false
}

// GeminiCLIConfig carries Google Code Assist credentials and endpoint
// settings for the gemini-cli provider.
type GeminiCLIConfig struct {
	// OAuthCredsBase64 is a base64-encoded oauth_creds.json blob, useful for
	// injecting credentials through the environment. Takes precedence over
	// OAuthCredsFile.
	OAuthCredsBase64 string `yaml:"oauth-creds-base64,omitempty" json:"oauth-creds-base64,omitempty"`

	// OAuthCredsFile points to an oauth_creds.json file.
	// Defaults to ~/.gemini/oauth_creds.json.
	OAuthCredsFile string `yaml:"oauth-creds-file,omitempty" json:"oauth-creds-file,omitempty"`

	// ProjectID pins the GCP project used for Code Assist calls. When empty
	// the gateway discovers one at startup via loadCodeAssist/onboardUser.
	// The literal value "default" is rejected.
	ProjectID string `yaml:"project-id,omitempty" json:"project-id,omitempty"`

	// BaseURL overrides the Code Assist endpoint.
	// Defaults to https://cloudcode-pa.googleapis.com.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`
}

// OpenAIConfig carries credentials for the openai-custom provider.
type OpenAIConfig struct {
	// APIKey is sent as a bearer token on every request.
	APIKey string `yaml:"api-key,omitempty" json:"api-key,omitempty"`

	// BaseURL is the OpenAI-compatible endpoint root, without the trailing
	// /chat/completions. Defaults to https://api.openai.com/v1.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`

	// SiteReferer sets the HTTP-Referer header for OpenRouter rankings.
	// Only sent when the base URL is an openrouter.ai endpoint.
	SiteReferer string `yaml:"site-referer,omitempty" json:"site-referer,omitempty"`

	// SiteTitle sets the X-Title header for OpenRouter rankings.
	SiteTitle string `yaml:"site-title,omitempty" json:"site-title,omitempty"`
}

// ClaudeConfig carries credentials for the claude-custom provider.
type ClaudeConfig struct {
	// APIKey is sent as the x-api-key header on every request.
	APIKey string `yaml:"api-key,omitempty" json:"api-key,omitempty"`

	// BaseURL is the Anthropic-compatible endpoint root.
	// Defaults to https://api.anthropic.com/v1.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`
}

// KiroConfig carries Kiro SSO credentials for the kiro-api provider.
type KiroConfig struct {
	// OAuthCredsBase64 is a base64-encoded token blob. Takes precedence over
	// OAuthCredsFile.
	OAuthCredsBase64 string `yaml:"oauth-creds-base64,omitempty" json:"oauth-creds-base64,omitempty"`

	// OAuthCredsFile points to a kiro-auth-token.json file. When empty the
	// gateway merges every JSON file under ~/.aws/sso/cache, with
	// kiro-auth-token.json fields taking priority.
	OAuthCredsFile string `yaml:"oauth-creds-file,omitempty" json:"oauth-creds-file,omitempty"`

	// BaseURL overrides the CodeWhisperer endpoint. Defaults to the
	// region-scoped https://codewhisperer.<region>.amazonaws.com.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`

	// Region selects the AWS region when BaseURL is not set and the
	// credential blob carries none. Defaults to us-east-1.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
}

// ValidationError reports a rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

// validateProviderCredentials checks that the selected default provider has
// enough configuration to start. OAuth providers are allowed to start
// without credentials; they fall back to credential files on disk or the
// interactive login flow.
func (cfg *Config) validateProviderCredentials() error {
	switch cfg.ModelProvider {
	case ProviderOpenAICustom:
		if cfg.OpenAI.APIKey == "" {
			return &ValidationError{Field: "openai.api-key", Message: "required for model-provider openai-custom"}
		}
	case ProviderClaudeCustom:
		if cfg.Claude.APIKey == "" {
			return &ValidationError{Field: "claude.api-key", Message: "required for model-provider claude-custom"}
		}
	}
	if cfg.GeminiCLI.ProjectID == "default" {
		return &ValidationError{Field: "gemini-cli.project-id", Message: `literal "default" is not a project id; leave empty for discovery`}
	}
	return nil
}

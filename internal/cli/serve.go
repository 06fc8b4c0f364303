package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aigate-dev/aigate/internal/bootstrap"
	"github.com/aigate-dev/aigate/internal/config"
)

var serveFlags struct {
	host              string
	port              int
	apiKey            string
	modelProvider     string
	defaultModel      string
	defaultModelMode  string
	openaiAPIKey      string
	openaiBaseURL     string
	openrouterReferer string
	openrouterTitle   string
	claudeAPIKey      string
	claudeBaseURL     string
	kiroBaseURL       string
	kiroRegion        string
	geminiCredsB64    string
	geminiCredsFile   string
	geminiProjectID   string
	kiroCredsB64      string
	kiroCredsFile     string
	systemPromptFile  string
	systemPromptMode  string
	logPrompts        string
	promptLogBaseName string
	maxRetries        int
	baseDelay         int
	cronNearMinutes   int
	cronRefresh       bool
	logLevel          string
	logFile           string
	proxyURL          string
	usageDSN          string
	storeURL          string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the HTTP gateway. Configuration is read from the config file,
overridden by AIGATE_* environment variables, then by any flags given here.
The server runs in the foreground until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// applyServeFlags overlays flags the user actually set onto cfg. Flags win
// over both the file and environment overrides.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}

	set("host", func() { cfg.Host = serveFlags.host })
	set("port", func() { cfg.Port = serveFlags.port })
	set("api-key", func() { cfg.APIKey = serveFlags.apiKey })
	set("model-provider", func() { cfg.ModelProvider = config.Provider(serveFlags.modelProvider) })
	set("default-model", func() { cfg.DefaultModel = serveFlags.defaultModel })
	set("default-model-mode", func() { cfg.DefaultModelMode = config.ModelMode(serveFlags.defaultModelMode) })
	set("openai-api-key", func() { cfg.OpenAI.APIKey = serveFlags.openaiAPIKey })
	set("openai-base-url", func() { cfg.OpenAI.BaseURL = serveFlags.openaiBaseURL })
	set("openrouter-referer", func() { cfg.OpenAI.SiteReferer = serveFlags.openrouterReferer })
	set("openrouter-title", func() { cfg.OpenAI.SiteTitle = serveFlags.openrouterTitle })
	set("claude-api-key", func() { cfg.Claude.APIKey = serveFlags.claudeAPIKey })
	set("claude-base-url", func() { cfg.Claude.BaseURL = serveFlags.claudeBaseURL })
	set("kiro-base-url", func() { cfg.Kiro.BaseURL = serveFlags.kiroBaseURL })
	set("kiro-region", func() { cfg.Kiro.Region = serveFlags.kiroRegion })
	set("gemini-oauth-creds-base64", func() { cfg.GeminiCLI.OAuthCredsBase64 = serveFlags.geminiCredsB64 })
	set("gemini-oauth-creds-file", func() { cfg.GeminiCLI.OAuthCredsFile = serveFlags.geminiCredsFile })
	set("project-id", func() { cfg.GeminiCLI.ProjectID = serveFlags.geminiProjectID })
	set("kiro-oauth-creds-base64", func() { cfg.Kiro.OAuthCredsBase64 = serveFlags.kiroCredsB64 })
	set("kiro-oauth-creds-file", func() { cfg.Kiro.OAuthCredsFile = serveFlags.kiroCredsFile })
	set("system-prompt-file", func() { cfg.SystemPromptFile = serveFlags.systemPromptFile })
	set("system-prompt-mode", func() { cfg.SystemPromptMode = config.PromptInjectMode(serveFlags.systemPromptMode) })
	set("log-prompts", func() { cfg.LogPrompts = config.PromptLogMode(serveFlags.logPrompts) })
	set("prompt-log-base-name", func() { cfg.PromptLogBaseName = serveFlags.promptLogBaseName })
	set("request-max-retries", func() { cfg.RequestMaxRetries = serveFlags.maxRetries })
	set("request-base-delay", func() { cfg.RequestBaseDelay = serveFlags.baseDelay })
	set("cron-near-minutes", func() { cfg.CronNearMinutes = serveFlags.cronNearMinutes })
	set("cron-refresh-token", func() { v := serveFlags.cronRefresh; cfg.CronRefreshToken = &v })
	set("log-level", func() { cfg.Log.Level = serveFlags.logLevel })
	set("log-file", func() { cfg.Log.File = serveFlags.logFile })
	set("proxy-url", func() { cfg.ProxyURL = serveFlags.proxyURL })
	set("usage-dsn", func() { cfg.Usage.DSN = serveFlags.usageDSN })
	set("store-url", func() { cfg.Store.URL = serveFlags.storeURL })
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.host, "host", "localhost", "listen address")
	f.IntVarP(&serveFlags.port, "port", "p", 3000, "listen port")
	f.StringVar(&serveFlags.apiKey, "api-key", "", "key callers must present (empty disables caller auth)")
	f.StringVar(&serveFlags.modelProvider, "model-provider", "", "default upstream: gemini-cli, openai-custom, claude-custom or kiro-api")
	f.StringVar(&serveFlags.defaultModel, "default-model", "", "model substituted per default-model-mode")
	f.StringVar(&serveFlags.defaultModelMode, "default-model-mode", "", "fallback or force")
	f.StringVar(&serveFlags.openaiAPIKey, "openai-api-key", "", "key for the openai-custom provider")
	f.StringVar(&serveFlags.openaiBaseURL, "openai-base-url", "", "OpenAI-compatible endpoint root")
	f.StringVar(&serveFlags.openrouterReferer, "openrouter-referer", "", "HTTP-Referer sent to openrouter.ai")
	f.StringVar(&serveFlags.openrouterTitle, "openrouter-title", "", "X-Title sent to openrouter.ai")
	f.StringVar(&serveFlags.claudeAPIKey, "claude-api-key", "", "key for the claude-custom provider")
	f.StringVar(&serveFlags.claudeBaseURL, "claude-base-url", "", "Anthropic-compatible endpoint root")
	f.StringVar(&serveFlags.kiroBaseURL, "kiro-base-url", "", "CodeWhisperer endpoint override")
	f.StringVar(&serveFlags.kiroRegion, "kiro-region", "", "AWS region for the kiro-api provider")
	f.StringVar(&serveFlags.geminiCredsB64, "gemini-oauth-creds-base64", "", "base64 oauth_creds.json blob")
	f.StringVar(&serveFlags.geminiCredsFile, "gemini-oauth-creds-file", "", "path to oauth_creds.json")
	f.StringVar(&serveFlags.geminiProjectID, "project-id", "", "GCP project for Code Assist calls")
	f.StringVar(&serveFlags.kiroCredsB64, "kiro-oauth-creds-base64", "", "base64 Kiro token blob")
	f.StringVar(&serveFlags.kiroCredsFile, "kiro-oauth-creds-file", "", "path to kiro-auth-token.json")
	f.StringVar(&serveFlags.systemPromptFile, "system-prompt-file", "", "inject this file as the system prompt")
	f.StringVar(&serveFlags.systemPromptMode, "system-prompt-mode", "", "overwrite or append")
	f.StringVar(&serveFlags.logPrompts, "log-prompts", "", "none, console or file")
	f.StringVar(&serveFlags.promptLogBaseName, "prompt-log-base-name", "", "prefix for dated prompt logs")
	f.IntVar(&serveFlags.maxRetries, "request-max-retries", 0, "retry budget for upstream 429/5xx")
	f.IntVar(&serveFlags.baseDelay, "request-base-delay", 0, "retry backoff base in milliseconds")
	f.IntVar(&serveFlags.cronNearMinutes, "cron-near-minutes", 0, "token refresh sweep interval and expiry window")
	f.BoolVar(&serveFlags.cronRefresh, "cron-refresh-token", true, "refresh OAuth tokens in the background")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&serveFlags.logFile, "log-file", "", "write logs to this rotated file")
	f.StringVar(&serveFlags.proxyURL, "proxy-url", "", "route upstream traffic through this proxy")
	f.StringVar(&serveFlags.usageDSN, "usage-dsn", "", "usage database: sqlite path or postgres:// URL")
	f.StringVar(&serveFlags.storeURL, "store-url", "", "remote credential store: s3:// or git URL")

	rootCmd.AddCommand(serveCmd)
}

// Package bootstrap assembles a runnable gateway: .env and config file
// loading, environment overrides, logging, the optional credential store
// sync, upstream adapters, and the HTTP frontend.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aigate-dev/aigate/internal/api"
	"github.com/aigate-dev/aigate/internal/auth"
	"github.com/aigate-dev/aigate/internal/auth/gemini"
	kiroauth "github.com/aigate-dev/aigate/internal/auth/kiro"
	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
	"github.com/aigate-dev/aigate/internal/logging"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/resilience"
	"github.com/aigate-dev/aigate/internal/router"
	"github.com/aigate-dev/aigate/internal/store"
	"github.com/aigate-dev/aigate/internal/sysprompt"
	"github.com/aigate-dev/aigate/internal/upstream"
	"github.com/aigate-dev/aigate/internal/usage"
)

// App is a fully wired gateway plus the background workers that run with it.
type App struct {
	Config *config.Config
	Server *api.Server

	registry  *upstream.Registry
	refresher *auth.Refresher
	recorder  *usage.Recorder
	prompts   *logging.PromptLogger
	sysPrompt *sysprompt.Manager
	backend   usage.Backend
}

// LoadConfig resolves the effective configuration: .env for secrets, the
// config file when present, AIGATE_* environment overrides on top, then
// validation. A missing config file is not an error; defaults apply. An
// empty path means "the usual places": ./config.yaml, then
// ~/.aigate/config.yaml.
func LoadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("could not load .env file")
	}
	if path == "" {
		path = defaultConfigPath()
	}

	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.Sanitize()
	return cfg, nil
}

// applyEnvOverrides lets deployments adjust a baked config image without
// editing the file. Every override logs so a misbehaving deployment is
// diagnosable from its startup output.
func applyEnvOverrides(cfg *config.Config) {
	if v, ok := lookupInt("AIGATE_PORT"); ok {
		cfg.Port = v
		log.Infof("port overridden by env: %d", v)
	}
	if v, ok := os.LookupEnv("AIGATE_HOST"); ok {
		cfg.Host = v
		log.Infof("host overridden by env: %s", v)
	}
	if v, ok := os.LookupEnv("AIGATE_API_KEYS"); ok {
		cfg.APIKey = ""
		cfg.APIKeys = splitList(v)
		log.Infof("api keys overridden by env: %d key(s)", len(cfg.APIKeys))
	}
	if v, ok := os.LookupEnv("AIGATE_MODEL_PROVIDER"); ok {
		cfg.ModelProvider = config.Provider(v)
		log.Infof("model provider overridden by env: %s", v)
	}
	if v, ok := os.LookupEnv("AIGATE_DEFAULT_MODEL"); ok {
		cfg.DefaultModel = v
		log.Infof("default model overridden by env: %s", v)
	}
	if v, ok := os.LookupEnv("AIGATE_OPENAI_API_KEY"); ok {
		cfg.OpenAI.APIKey = v
		log.Info("openai api key overridden by env")
	}
	if v, ok := os.LookupEnv("AIGATE_CLAUDE_API_KEY"); ok {
		cfg.Claude.APIKey = v
		log.Info("claude api key overridden by env")
	}
	if v, ok := os.LookupEnv("AIGATE_GEMINI_OAUTH_CREDS_BASE64"); ok {
		cfg.GeminiCLI.OAuthCredsBase64 = v
		log.Info("gemini oauth credentials overridden by env")
	}
	if v, ok := os.LookupEnv("AIGATE_KIRO_OAUTH_CREDS_BASE64"); ok {
		cfg.Kiro.OAuthCredsBase64 = v
		log.Info("kiro oauth credentials overridden by env")
	}
	if v, ok := os.LookupEnv("AIGATE_PROXY_URL"); ok {
		cfg.ProxyURL = v
		log.Info("proxy url overridden by env")
	}
	if v, ok := os.LookupEnv("AIGATE_LOG_LEVEL"); ok {
		cfg.Log.Level = v
		log.Infof("log level overridden by env: %s", v)
	}
	if v, ok := os.LookupEnv("AIGATE_LOG_FILE"); ok {
		cfg.Log.File = v
		log.Infof("log file overridden by env: %s", v)
	}
	if v, ok := os.LookupEnv("AIGATE_USAGE_DSN"); ok {
		cfg.Usage.DSN = v
		log.Info("usage DSN overridden by env")
	}
	if v, ok := lookupInt("AIGATE_USAGE_RETENTION_DAYS"); ok {
		cfg.Usage.RetentionDays = v
		log.Infof("usage retention overridden by env: %d days", v)
	}
	if v, ok := os.LookupEnv("AIGATE_STORE_URL"); ok {
		cfg.Store.URL = v
		log.Info("credential store url overridden by env")
	}
	if v, ok := lookupInt("AIGATE_REQUEST_MAX_RETRIES"); ok {
		cfg.RequestMaxRetries = v
		log.Infof("request retries overridden by env: %d", v)
	}
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Warnf("ignoring %s=%q: not an integer", key, v)
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultConfigPath() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".aigate", "config.yaml")
}

// New validates cfg and wires every component. The context bounds
// startup-time network work: the credential store sync and Code Assist
// project discovery.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Setup(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	if err := converter.VerifyTable(); err != nil {
		return nil, err
	}

	// Remote credentials land on disk before any store reads its token file.
	if cfg.Store.URL != "" {
		if err := store.Sync(ctx, cfg.Store.URL, credentialDir()); err != nil {
			return nil, fmt.Errorf("credential store: %w", err)
		}
	}

	client, err := resilience.NewHTTPClient(cfg.ProxyURL, 0)
	if err != nil {
		return nil, err
	}
	retry := resilience.RetryConfig{
		MaxRetries: cfg.RequestMaxRetries,
		BaseDelay:  cfg.BaseDelay(),
	}

	app := &App{Config: cfg}

	var adapters []upstream.Adapter
	var refreshables []auth.Refreshable

	geminiStore := gemini.NewStore(cfg.GeminiCLI, client)
	switch err := geminiStore.Load(cfg.GeminiCLI); {
	case err == nil:
		adapter := upstream.NewGeminiCLI(cfg.GeminiCLI, geminiStore, client, retry, cfg.NearWindow())
		if err := adapter.Init(ctx); err != nil {
			log.WithError(err).Warn("gemini-cli: project discovery failed, retrying on first request")
		}
		adapters = append(adapters, adapter)
		refreshables = append(refreshables, geminiStore)
	case errors.Is(err, auth.ErrNoCredentials):
		log.Info("gemini-cli: no credentials found, provider disabled (run `aigate login gemini`)")
	default:
		log.WithError(err).Warn("gemini-cli: credentials unusable, provider disabled")
	}

	if cfg.OpenAI.APIKey != "" {
		adapters = append(adapters, upstream.NewOpenAICustom(cfg.OpenAI, client, retry))
	}
	if cfg.Claude.APIKey != "" {
		adapters = append(adapters, upstream.NewClaudeCustom(cfg.Claude, client, retry))
	}

	kiroStore := kiroauth.NewStore(client)
	switch err := kiroStore.Load(cfg.Kiro); {
	case err == nil:
		adapters = append(adapters, upstream.NewKiroAPI(cfg.Kiro, kiroStore, client, retry, cfg.NearWindow()))
		refreshables = append(refreshables, kiroStore)
	case errors.Is(err, auth.ErrNoCredentials):
		log.Info("kiro-api: no credentials found, provider disabled (run `aigate login kiro`)")
	default:
		log.WithError(err).Warn("kiro-api: credentials unusable, provider disabled")
	}

	if len(adapters) == 0 {
		return nil, errors.New("no provider is usable: configure an API key or log in")
	}
	app.registry = upstream.NewRegistry(adapters...)
	for _, a := range adapters {
		log.Infof("provider %s ready", a.Provider())
	}

	if cfg.CronEnabled() && len(refreshables) > 0 {
		app.refresher = auth.NewRefresher(cfg.NearWindow(), refreshables...)
	}

	app.sysPrompt, err = sysprompt.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("system prompt: %w", err)
	}

	app.prompts, err = logging.NewPromptLogger(logging.PromptMode(cfg.LogPrompts), cfg.PromptLogBaseName)
	if err != nil {
		return nil, fmt.Errorf("prompt log: %w", err)
	}
	if path := app.prompts.Path(); path != "" {
		log.Infof("prompt log: %s", path)
	}

	if cfg.Usage.DSN != "" {
		backend, err := usage.Open(usageConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("usage backend: %w", err)
		}
		recorder, err := usage.NewRecorder(backend)
		if err != nil {
			return nil, fmt.Errorf("usage backend: %w", err)
		}
		app.backend = backend
		app.recorder = recorder
		log.Infof("usage accounting: %s", cfg.Usage.DSN)
	}

	rt := router.New(cfg, app.sysPrompt)
	app.Server = api.New(cfg, rt, app.registry, app.prompts, app.recorder)
	return app, nil
}

func usageConfig(cfg *config.Config) usage.Config {
	out := usage.Config{
		DSN:           cfg.Usage.DSN,
		BatchSize:     cfg.Usage.BatchSize,
		RetentionDays: cfg.Usage.RetentionDays,
	}
	if cfg.Usage.FlushInterval != "" {
		if d, err := time.ParseDuration(cfg.Usage.FlushInterval); err == nil {
			out.FlushInterval = d
		} else {
			log.Warnf("ignoring usage flush-interval %q: %v", cfg.Usage.FlushInterval, err)
		}
	}
	return out
}

// credentialDir is where the remote store syncs files to. Provider stores
// do not read it implicitly; point oauth-creds-file at the synced names.
func credentialDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aigate-credentials"
	}
	return filepath.Join(home, ".aigate", "credentials")
}

// Run starts the background workers and serves until ctx is canceled. All
// workers are stopped and flushed before it returns.
func (a *App) Run(ctx context.Context) error {
	if a.sysPrompt != nil {
		a.sysPrompt.Start()
		defer a.sysPrompt.Close()
	}
	if a.refresher != nil {
		a.refresher.Start()
		defer a.refresher.Stop()
	}
	if a.backend != nil {
		defer a.stopUsage()
	}
	if a.prompts != nil {
		defer a.prompts.Close()
	}
	return a.Server.Run(ctx)
}

func (a *App) stopUsage() {
	if err := a.backend.Stop(); err != nil {
		log.WithError(err).Warn("usage backend shutdown")
	}
}

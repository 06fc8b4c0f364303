package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/aigate-dev/aigate/internal/json"
	"github.com/aigate-dev/aigate/internal/util"
)

// Load reads, parses and sanitizes the config file at path. YAML is the
// native format; .json and .jsonc files are accepted and may carry comments
// and trailing commas. Unset keys keep their defaults.
func Load(path string) (*Config, error) {
	expanded, err := util.ExpandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := NewDefaultConfig()
	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".json", ".jsonc":
		std, errStd := hujson.Standardize(data)
		if errStd != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, errStd)
		}
		if errJSON := json.Unmarshal(std, cfg); errJSON != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, errJSON)
		}
	default:
		if errYAML := yaml.Unmarshal(data, cfg); errYAML != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, errYAML)
		}
	}

	cfg.Sanitize()
	return cfg, nil
}

// LoadOptional behaves like Load but returns default configuration when the
// file does not exist.
func LoadOptional(path string) (*Config, error) {
	expanded, err := util.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		return NewDefaultConfig(), nil
	}
	return Load(path)
}

// GenerateDefaultConfigYAML renders the config template written on first
// run.
func GenerateDefaultConfigYAML() []byte {
	return []byte(`# aigate configuration.
# Flags override these values; secrets may come from a .env file.

host: localhost
port: 3000

# Keys callers must present (Authorization: Bearer, x-api-key,
# x-goog-api-key or ?key=). An empty list disables caller auth.
api-keys: []

# Default upstream: gemini-cli, openai-custom, claude-custom or kiro-api.
# Requests may override per call with a path prefix (/gemini-cli/v1/...)
# or a model-provider header.
model-provider: gemini-cli

# default-model: gemini-2.5-pro
# default-model-mode: fallback   # or force

# gemini-cli:
#   project-id: my-gcp-project
#   oauth-creds-file: ~/.gemini/oauth_creds.json

# openai:
#   api-key: sk-...
#   base-url: https://api.openai.com/v1

# claude:
#   api-key: sk-ant-...

# kiro:
#   region: us-east-1

# system-prompt-file: system.txt
# system-prompt-mode: overwrite   # or append

# log-prompts: none   # none, console or file
# request-max-retries: 3
# request-base-delay: 1000
# cron-near-minutes: 15

# log:
#   level: info

# usage:
#   dsn: aigate-usage.db
`)
}

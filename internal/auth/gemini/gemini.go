// Package gemini manages the Google OAuth2 credentials behind the
// gemini-cli provider: the oauth_creds.json file format, serialized token
// refresh, and the interactive consent flow.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/aigate-dev/aigate/internal/auth"
	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/json"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/util"
)

// OAuth client of the public gemini CLI. Tokens minted against it carry the
// Code Assist entitlements personal accounts get from the CLI login.
const (
	oauthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	oauthClientSecret = "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"
)

var oauthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// defaultCredsPath is where the gemini CLI keeps its token.
func defaultCredsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gemini", "oauth_creds.json")
}

// credentials mirrors oauth_creds.json. ExpiryDate is a millisecond epoch,
// matching what the gemini CLI writes.
type credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiryDate   int64  `json:"expiry_date"`
}

func (c credentials) expiry() time.Time {
	if c.ExpiryDate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiryDate)
}

// expiryBuffer is how much remaining lifetime a token needs to be handed
// out without a refresh.
const expiryBuffer = 30 * time.Second

// Store is the token source for the gemini-cli provider. Reads are cheap
// snapshots under RLock; the only writer is the singleflight refresh path.
type Store struct {
	mu        sync.RWMutex
	creds     credentials
	credsPath string

	oauthCfg *oauth2.Config
	client   *http.Client
	sf       singleflight.Group
}

// NewStore builds a store from config. No I/O happens until Load.
func NewStore(cfg config.GeminiCLIConfig, client *http.Client) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	s := &Store{
		oauthCfg: &oauth2.Config{
			ClientID:     oauthClientID,
			ClientSecret: oauthClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       oauthScopes,
			RedirectURL:  fmt.Sprintf("http://localhost:%d%s", consentPort, consentPath),
		},
		client: client,
	}
	// A login before any Load must still know where to persist.
	s.credsPath = s.persistPath(cfg)
	return s
}

// Name implements auth.Refreshable.
func (s *Store) Name() string { return string(config.ProviderGeminiCLI) }

// Load resolves credentials in priority order: base64 blob, configured file,
// default ~/.gemini path. Returns auth.ErrNoCredentials when none exist.
func (s *Store) Load(cfg config.GeminiCLIConfig) error {
	if cfg.OAuthCredsBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.OAuthCredsBase64)
		if err != nil {
			return fmt.Errorf("gemini oauth-creds-base64: %w", err)
		}
		return s.adopt(raw, s.persistPath(cfg))
	}

	path := s.persistPath(cfg)
	if path == "" {
		return auth.ErrNoCredentials
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return auth.ErrNoCredentials
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return s.adopt(raw, path)
}

// persistPath is where refreshed tokens are written back: the configured
// file when set, the gemini CLI default otherwise.
func (s *Store) persistPath(cfg config.GeminiCLIConfig) string {
	if cfg.OAuthCredsFile != "" {
		expanded, err := util.ExpandHome(cfg.OAuthCredsFile)
		if err == nil {
			return expanded
		}
	}
	return defaultCredsPath()
}

func (s *Store) adopt(raw []byte, path string) error {
	var creds credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return fmt.Errorf("parse oauth credentials: %w", err)
	}
	if creds.RefreshToken == "" && creds.AccessToken == "" {
		return auth.ErrNoCredentials
	}

	s.mu.Lock()
	s.creds = creds
	s.credsPath = path
	s.mu.Unlock()
	return nil
}

// Token returns a valid access token, refreshing first when the stored one
// has less than expiryBuffer of life left.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	creds := s.creds
	s.mu.RUnlock()

	if creds.AccessToken != "" && time.Now().Add(expiryBuffer).Before(creds.expiry()) {
		return creds.AccessToken, nil
	}

	if err := s.ForceRefresh(ctx); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken, nil
}

// ForceRefresh exchanges the refresh token for a new access token and
// atomically rewrites the credential file. Concurrent callers share one
// exchange.
func (s *Store) ForceRefresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		s.mu.RLock()
		refreshToken := s.creds.RefreshToken
		s.mu.RUnlock()

		if refreshToken == "" {
			return nil, auth.ErrNoCredentials
		}

		refreshCtx := context.WithValue(ctx, oauth2.HTTPClient, s.client)
		tok, err := s.oauthCfg.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return nil, fmt.Errorf("gemini token refresh: %w", err)
		}

		s.update(tok)
		log.Infof("gemini-cli: access token refreshed, expires %s", tok.Expiry.Format(time.RFC3339))
		return nil, nil
	})
	return err
}

// update stores tok and persists it. A refresh response without a new
// refresh token keeps the old one, per OAuth2 semantics.
func (s *Store) update(tok *oauth2.Token) {
	s.mu.Lock()
	s.creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.creds.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		s.creds.TokenType = tok.TokenType
	}
	if id, ok := tok.Extra("id_token").(string); ok && id != "" {
		s.creds.IDToken = id
	}
	s.creds.ExpiryDate = tok.Expiry.UnixMilli()
	creds := s.creds
	path := s.credsPath
	s.mu.Unlock()

	if path == "" {
		return
	}
	if err := persist(path, creds); err != nil {
		log.WithError(err).Warnf("gemini-cli: could not persist credentials to %s", path)
	}
}

func persist(path string, creds credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data, 0o600)
}

// ExpiryNear reports whether the token expires within the window.
func (s *Store) ExpiryNear(window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp := s.creds.expiry()
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) <= window
}

// snapshot returns the current credentials for tests and the login flow.
func (s *Store) snapshot() credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

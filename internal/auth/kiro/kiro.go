// Package kiro manages Kiro SSO credentials for the kiro-api provider: the
// merged ~/.aws/sso/cache token blob, the social and IdC refresh exchanges,
// and atomic persistence that preserves unknown keys.
package kiro

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aigate-dev/aigate/internal/auth"
	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/json"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/util"
)

const (
	// tokenFileName is the blob the Kiro desktop app maintains; its fields
	// win over the other SSO cache files during the merge.
	tokenFileName = "kiro-auth-token.json"

	defaultRegion = "us-east-1"

	// authMethodSocial marks tokens from the kiro.dev social login; anything
	// else refreshes through the AWS IdC OIDC endpoint.
	authMethodSocial = "social"

	expiryBuffer   = 30 * time.Second
	refreshTimeout = 30 * time.Second
)

// Record is the merged credential blob. ExpiresAt stays a string on the
// wire (ISO-8601); expiry() parses it.
type Record struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	Region       string `json:"region,omitempty"`
	AuthMethod   string `json:"authMethod,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

func (r Record) expiry() time.Time {
	if r.ExpiresAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, r.ExpiresAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (r Record) region() string {
	if r.Region != "" {
		return r.Region
	}
	return defaultRegion
}

func (r Record) social() bool {
	return r.AuthMethod == "" || strings.EqualFold(r.AuthMethod, authMethodSocial)
}

// Store is the token source for the kiro-api provider.
type Store struct {
	mu     sync.RWMutex
	record Record
	path   string

	client *http.Client
	sf     singleflight.Group

	// test seams; empty means the live endpoints
	socialURL string
	oidcURL   string
}

// NewStore builds a store; no I/O until Load.
func NewStore(client *http.Client) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{client: client}
}

// Name implements auth.Refreshable.
func (s *Store) Name() string { return string(config.ProviderKiroAPI) }

// ssoCacheDir is where AWS SSO tooling and the Kiro app drop token files.
func ssoCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aws", "sso", "cache")
}

// Load resolves credentials: base64 blob, configured file, or the merge of
// every JSON file in the SSO cache directory.
func (s *Store) Load(cfg config.KiroConfig) error {
	if cfg.OAuthCredsBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.OAuthCredsBase64)
		if err != nil {
			return fmt.Errorf("kiro oauth-creds-base64: %w", err)
		}
		return s.adopt(raw, s.persistPath(cfg), cfg)
	}

	if cfg.OAuthCredsFile != "" {
		path, err := util.ExpandHome(cfg.OAuthCredsFile)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return auth.ErrNoCredentials
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return s.adopt(raw, path, cfg)
	}

	merged, err := mergeCacheDir(ssoCacheDir())
	if err != nil {
		return err
	}
	return s.adopt(merged, s.persistPath(cfg), cfg)
}

func (s *Store) persistPath(cfg config.KiroConfig) string {
	if cfg.OAuthCredsFile != "" {
		if expanded, err := util.ExpandHome(cfg.OAuthCredsFile); err == nil {
			return expanded
		}
	}
	dir := ssoCacheDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, tokenFileName)
}

func (s *Store) adopt(raw []byte, path string, cfg config.KiroConfig) error {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("parse kiro credentials: %w", err)
	}
	if rec.AccessToken == "" && rec.RefreshToken == "" {
		return auth.ErrNoCredentials
	}
	if rec.Region == "" {
		rec.Region = cfg.Region
	}

	s.mu.Lock()
	s.record = rec
	s.path = path
	s.mu.Unlock()
	return nil
}

// mergeCacheDir folds every *.json in dir into one credential blob. Token
// files and client-registration files each carry part of the record; the
// Kiro token file is applied last so its fields win.
func mergeCacheDir(dir string) ([]byte, error) {
	if dir == "" {
		return nil, auth.ErrNoCredentials
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, auth.ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || e.Name() == tokenFileName {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	names = append(names, tokenFileName)

	merged := map[string]any{}
	found := false
	for _, name := range names {
		raw, errRead := os.ReadFile(filepath.Join(dir, name))
		if errRead != nil {
			continue
		}
		var part map[string]any
		if json.Unmarshal(raw, &part) != nil {
			continue
		}
		for k, v := range part {
			merged[k] = v
		}
		found = true
	}
	if !found {
		return nil, auth.ErrNoCredentials
	}
	return json.Marshal(merged)
}

// Snapshot returns the current credential record.
func (s *Store) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// Region returns the credential region, falling back to us-east-1.
func (s *Store) Region() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.region()
}

// ProfileArn returns the CodeWhisperer profile ARN from the blob, empty when
// the record does not carry one.
func (s *Store) ProfileArn() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.ProfileArn
}

// Social reports whether the credentials came from the kiro.dev social
// login rather than AWS IdC.
func (s *Store) Social() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.social()
}

// Token returns a valid access token, refreshing when expired or near it.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	rec := s.record
	s.mu.RUnlock()

	if rec.AccessToken != "" {
		exp := rec.expiry()
		if exp.IsZero() || time.Now().Add(expiryBuffer).Before(exp) {
			return rec.AccessToken, nil
		}
	}

	if err := s.ForceRefresh(ctx); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.AccessToken, nil
}

// ExpiryNear reports whether the token expires within the window. Records
// without a parseable expiry are never near; they fail over to the 403
// refresh path instead.
func (s *Store) ExpiryNear(window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp := s.record.expiry()
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) <= window
}

type socialRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt"`
	ProfileArn   string `json:"profileArn"`
}

type oidcRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// ForceRefresh exchanges the refresh token through the endpoint matching the
// record's auth method and persists the updated blob. Concurrent callers
// share one exchange.
func (s *Store) ForceRefresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		s.mu.RLock()
		rec := s.record
		s.mu.RUnlock()

		if rec.RefreshToken == "" {
			return nil, auth.ErrNoCredentials
		}

		refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()

		var updated Record
		var err error
		if rec.social() {
			updated, err = s.refreshSocial(refreshCtx, rec)
		} else {
			updated, err = s.refreshOIDC(refreshCtx, rec)
		}
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.record = updated
		path := s.path
		s.mu.Unlock()

		if path != "" {
			if errPersist := s.persist(path, updated); errPersist != nil {
				log.WithError(errPersist).Warnf("kiro-api: could not persist credentials to %s", path)
			}
		}
		endpoint := "oidc"
		if rec.social() {
			endpoint = "social"
		}
		log.Infof("kiro-api: access token refreshed via %s endpoint", endpoint)
		return nil, nil
	})
	return err
}

func (s *Store) refreshSocial(ctx context.Context, rec Record) (Record, error) {
	url := s.socialURL
	if url == "" {
		url = fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev/refreshToken", rec.region())
	}
	body, err := s.postJSON(ctx, url, map[string]string{"refreshToken": rec.RefreshToken})
	if err != nil {
		return rec, err
	}

	var resp socialRefreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return rec, fmt.Errorf("parse social refresh response: %w", err)
	}
	if resp.AccessToken == "" {
		return rec, fmt.Errorf("social refresh returned no access token")
	}

	rec.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		rec.RefreshToken = resp.RefreshToken
	}
	if resp.ExpiresAt != "" {
		rec.ExpiresAt = resp.ExpiresAt
	}
	if resp.ProfileArn != "" {
		rec.ProfileArn = resp.ProfileArn
	}
	return rec, nil
}

func (s *Store) refreshOIDC(ctx context.Context, rec Record) (Record, error) {
	if rec.ClientID == "" || rec.ClientSecret == "" {
		return rec, fmt.Errorf("idc refresh needs clientId and clientSecret in the credential blob")
	}
	url := s.oidcURL
	if url == "" {
		url = fmt.Sprintf("https://oidc.%s.amazonaws.com/token", rec.region())
	}
	body, err := s.postJSON(ctx, url, map[string]string{
		"clientId":     rec.ClientID,
		"clientSecret": rec.ClientSecret,
		"refreshToken": rec.RefreshToken,
		"grantType":    "refresh_token",
	})
	if err != nil {
		return rec, err
	}

	var resp oidcRefreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return rec, fmt.Errorf("parse oidc refresh response: %w", err)
	}
	if resp.AccessToken == "" {
		return rec, fmt.Errorf("oidc refresh returned no access token")
	}

	rec.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		rec.RefreshToken = resp.RefreshToken
	}
	if resp.ExpiresIn > 0 {
		rec.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).Format(time.RFC3339)
	}
	return rec, nil
}

func (s *Store) postJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kiro token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kiro token refresh: status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

// persist rewrites the blob file, overlaying the record onto whatever other
// keys the file already carries.
func (s *Store) persist(path string, rec Record) error {
	existing := map[string]any{}
	if raw, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(raw, &existing)
	}

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var recMap map[string]any
	if err := json.Unmarshal(recJSON, &recMap); err != nil {
		return err
	}
	for k, v := range recMap {
		existing[k] = v
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data, 0o600)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Import adopts credentials from path, or from the merged SSO cache when
// path is empty, validates them with one refresh exchange, and persists the
// result to the default token file. This is the `login kiro` flow: Kiro has
// no browser consent of its own, the desktop app or AWS SSO already left a
// token behind.
func (s *Store) Import(ctx context.Context, path string) error {
	var raw []byte
	var err error
	if path != "" {
		expanded, errExpand := util.ExpandHome(path)
		if errExpand != nil {
			return errExpand
		}
		raw, err = os.ReadFile(expanded)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	} else {
		raw, err = mergeCacheDir(ssoCacheDir())
		if err != nil {
			return err
		}
	}

	if err := s.adopt(raw, s.persistPath(config.KiroConfig{}), config.KiroConfig{}); err != nil {
		return err
	}
	if err := s.ForceRefresh(ctx); err != nil {
		return fmt.Errorf("validate imported credentials: %w", err)
	}
	return nil
}

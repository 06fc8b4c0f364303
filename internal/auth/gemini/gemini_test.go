package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/aigate-dev/aigate/internal/auth"
	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/json"
)

func writeCreds(t *testing.T, path string, creds credentials) {
	t.Helper()
	data, err := json.Marshal(creds)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadBase64WinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	writeCreds(t, path, credentials{AccessToken: "from-file", RefreshToken: "rt-file"})

	blob, _ := json.Marshal(credentials{AccessToken: "from-blob", RefreshToken: "rt-blob"})
	cfg := config.GeminiCLIConfig{
		OAuthCredsBase64: base64.StdEncoding.EncodeToString(blob),
		OAuthCredsFile:   path,
	}
	s := NewStore(cfg, nil)
	if err := s.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.snapshot().AccessToken; got != "from-blob" {
		t.Errorf("AccessToken = %q, want from-blob", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	writeCreds(t, path, credentials{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiryDate:   time.Now().Add(time.Hour).UnixMilli(),
	})

	cfg := config.GeminiCLIConfig{OAuthCredsFile: path}
	s := NewStore(cfg, nil)
	if err := s.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	tok, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "at" {
		t.Errorf("Token = %q, want at", tok)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := config.GeminiCLIConfig{OAuthCredsFile: filepath.Join(t.TempDir(), "absent.json")}
	s := NewStore(cfg, nil)
	if err := s.Load(cfg); !errors.Is(err, auth.ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}

func TestLoadRejectsEmptyTokens(t *testing.T) {
	blob, _ := json.Marshal(credentials{Scope: "something"})
	cfg := config.GeminiCLIConfig{OAuthCredsBase64: base64.StdEncoding.EncodeToString(blob)}
	s := NewStore(cfg, nil)
	if err := s.Load(cfg); !errors.Is(err, auth.ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}

func TestLoadRejectsBadBase64(t *testing.T) {
	cfg := config.GeminiCLIConfig{OAuthCredsBase64: "%%%not-base64%%%"}
	s := NewStore(cfg, nil)
	if err := s.Load(cfg); err == nil {
		t.Error("expected decode error")
	}
}

func TestForceRefreshUpdatesAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.Form.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":3600,"id_token":"idt"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	writeCreds(t, path, credentials{AccessToken: "at-old", RefreshToken: "rt-old", ExpiryDate: 1})

	cfg := config.GeminiCLIConfig{OAuthCredsFile: path}
	s := NewStore(cfg, srv.Client())
	s.oauthCfg.Endpoint = oauth2.Endpoint{TokenURL: srv.URL}
	if err := s.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tok, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "at-new" {
		t.Errorf("Token = %q, want at-new", tok)
	}

	creds := s.snapshot()
	if creds.RefreshToken != "rt-old" {
		t.Errorf("RefreshToken = %q, a response without one must keep the old", creds.RefreshToken)
	}
	if creds.IDToken != "idt" {
		t.Errorf("IDToken = %q", creds.IDToken)
	}
	if creds.ExpiryDate <= time.Now().UnixMilli() {
		t.Errorf("ExpiryDate %d not in the future", creds.ExpiryDate)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk credentials
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.AccessToken != "at-new" || onDisk.RefreshToken != "rt-old" {
		t.Errorf("persisted creds = %+v", onDisk)
	}
}

func TestForceRefreshWithoutRefreshToken(t *testing.T) {
	blob, _ := json.Marshal(credentials{AccessToken: "at-only"})
	cfg := config.GeminiCLIConfig{OAuthCredsBase64: base64.StdEncoding.EncodeToString(blob)}
	s := NewStore(cfg, nil)
	if err := s.Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.ForceRefresh(context.Background()); !errors.Is(err, auth.ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}

func TestExpiryNear(t *testing.T) {
	tests := []struct {
		name   string
		expiry int64
		window time.Duration
		want   bool
	}{
		{"inside window", time.Now().Add(5 * time.Minute).UnixMilli(), 15 * time.Minute, true},
		{"outside window", time.Now().Add(time.Hour).UnixMilli(), 15 * time.Minute, false},
		{"already expired", time.Now().Add(-time.Minute).UnixMilli(), 15 * time.Minute, true},
		{"no expiry", 0, 15 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Store{creds: credentials{AccessToken: "at", ExpiryDate: tt.expiry}}
			if got := s.ExpiryNear(tt.window); got != tt.want {
				t.Errorf("ExpiryNear = %v, want %v", got, tt.want)
			}
		})
	}
}

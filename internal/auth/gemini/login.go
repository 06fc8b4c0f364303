package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/skratchdot/open-golang/open"
	"golang.org/x/oauth2"

	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/oauth/pkce"
)

// The consent flow listens on a fixed loopback port; the OAuth client's
// registered redirect URI pins it.
const (
	consentPort = 8085
	consentPath = "/oauth2callback"
)

// LoginOptions tunes the interactive consent flow.
type LoginOptions struct {
	// NoBrowser prints the consent URL instead of opening a browser.
	NoBrowser bool

	// Timeout bounds the wait for the OAuth callback. Zero means 5 minutes.
	Timeout time.Duration
}

type callbackResult struct {
	code string
	err  error
}

// Login runs the interactive consent flow: start the loopback listener,
// send the user to Google's consent page, exchange the returned code, and
// persist the token file. The store is ready for Token calls afterwards.
func (s *Store) Login(ctx context.Context, opts LoginOptions) error {
	codes, err := pkce.Generate()
	if err != nil {
		return fmt.Errorf("generate pkce codes: %w", err)
	}
	state, err := pkce.State()
	if err != nil {
		return fmt.Errorf("generate oauth state: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", consentPort))
	if err != nil {
		return fmt.Errorf("consent flow needs port %d: %w", consentPort, err)
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(consentPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, "Authentication failed: "+errCode, http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("consent denied: %s", errCode)}
			return
		}
		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			results <- callbackResult{err: errors.New("oauth state mismatch")}
			return
		}
		fmt.Fprintln(w, "Authentication complete. You can close this tab and return to the terminal.")
		results <- callbackResult{code: q.Get("code")}
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if errServe := srv.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			results <- callbackResult{err: errServe}
		}
	}()
	defer srv.Shutdown(context.Background())

	authURL := s.oauthCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", codes.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	if opts.NoBrowser {
		color.Cyan("Visit this URL to authorize the gateway:")
		fmt.Println(authURL)
	} else {
		color.Cyan("Opening browser for Google sign-in...")
		if errOpen := open.Run(authURL); errOpen != nil {
			log.WithError(errOpen).Warn("could not open a browser")
			color.Cyan("Visit this URL to authorize the gateway:")
			fmt.Println(authURL)
		}
	}
	fmt.Println("Waiting for authentication callback...")

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	var code string
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.New("timed out waiting for the OAuth callback")
	case res := <-results:
		if res.err != nil {
			return res.err
		}
		code = res.code
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.oauthCfg.Exchange(exchangeCtx, code,
		oauth2.SetAuthURLParam("code_verifier", codes.CodeVerifier),
	)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	s.update(tok)
	color.Green("Login successful. Credentials saved to %s", s.credsPath)
	return nil
}

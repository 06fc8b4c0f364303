// Package auth owns upstream credential lifecycles: loading OAuth token
// files, serialized refreshes, atomic persistence, and the background sweep
// that refreshes tokens before they expire.
package auth

import (
	"context"
	"errors"
	"time"

	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/util"
)

// ErrNoCredentials is returned when no credential source yields a token:
// no base64 blob, no configured file, nothing at the default path.
var ErrNoCredentials = errors.New("auth: no credentials found")

// TokenSource hands out live access tokens for one provider.
//
// Implementations keep a single writer: ForceRefresh is serialized per
// source, and Token calls that collide with a refresh block until it
// finishes and then observe the new token.
type TokenSource interface {
	// Token returns a currently valid access token, refreshing first when
	// the stored one is expired or about to expire.
	Token(ctx context.Context) (string, error)

	// ForceRefresh exchanges the refresh token for a new access token and
	// persists it. Concurrent calls coalesce into one upstream exchange.
	ForceRefresh(ctx context.Context) error

	// ExpiryNear reports whether the token expires within the window.
	ExpiryNear(window time.Duration) bool
}

// Refreshable is a named token source the background sweep can maintain.
type Refreshable interface {
	TokenSource
	Name() string
}

// Refresher periodically refreshes any registered token nearing expiry.
// One sweep goroutine serves every provider; per-source serialization is
// the TokenSource's job.
type Refresher struct {
	window  time.Duration
	sources []Refreshable
	stop    chan struct{}
	done    chan struct{}
}

// NewRefresher builds a sweep over sources waking every window.
func NewRefresher(window time.Duration, sources ...Refreshable) *Refresher {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Refresher{
		window:  window,
		sources: sources,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the sweep goroutine. Call Stop to end it.
func (r *Refresher) Start() {
	go r.run()
}

// Stop ends the sweep and waits for the current iteration to finish.
func (r *Refresher) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Refresher) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.window)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Refresher) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, src := range r.sources {
		if !src.ExpiryNear(r.window) {
			continue
		}
		log.Infof("auth: token for %s is near expiry, refreshing", src.Name())
		if _, err := util.WithRetry(ctx, 2, "auth refresh "+src.Name(), func(ctx context.Context) (struct{}, error) {
			return struct{}{}, src.ForceRefresh(ctx)
		}); err != nil {
			log.WithError(err).Warnf("auth: background refresh for %s failed", src.Name())
		}
	}
}

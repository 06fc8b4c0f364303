package upstream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aigate-dev/aigate/internal/auth"
	log "github.com/aigate-dev/aigate/internal/logging"
	"github.com/aigate-dev/aigate/internal/resilience"
)

const (
	errorBodyLimit    = 1 << 20
	chunkBufferSize   = 16
	scannerBufferSize = 64 * 1024
	scannerMaxSize    = 2 * 1024 * 1024
	defaultIdle       = 5 * time.Minute
)

var (
	dataTag    = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// buildFunc constructs a fresh outbound request. It runs once per attempt,
// so the body reader and auth header are rebuilt after retries and token
// refreshes.
type buildFunc func(ctx context.Context) (*http.Request, error)

// caller bundles what every adapter needs for upstream exchanges: retry
// policy, circuit breakers, and the optional token source behind the
// refresh-and-retry-once behavior.
type caller struct {
	provider  string
	http      *http.Client
	exec      *resilience.Executor[*http.Response]
	streamRun *resilience.Executor[*http.Response]
	streamBr  *resilience.StreamBreaker
	tokens    auth.TokenSource
	authCodes []int
}

// newCaller wires a caller. tokens may be nil for static-key providers;
// authCodes are the statuses that trigger the single refresh-and-retry.
func newCaller(provider string, client *http.Client, retry resilience.RetryConfig, tokens auth.TokenSource, authCodes ...int) *caller {
	if client == nil {
		client = http.DefaultClient
	}
	retry.ShouldRetry = IsRetryable

	breakerCfg := resilience.DefaultBreakerConfig(provider)
	breakerCfg.IsSuccessful = breakerExempt
	streamCfg := resilience.DefaultBreakerConfig(provider + "-stream")
	streamCfg.IsSuccessful = breakerExempt

	return &caller{
		provider:  provider,
		http:      client,
		exec:      resilience.NewExecutor[*http.Response](retry, &breakerCfg),
		streamRun: resilience.NewExecutor[*http.Response](retry, nil),
		streamBr:  resilience.NewStreamBreaker(streamCfg),
		tokens:    tokens,
		authCodes: authCodes,
	}
}

// send performs a single exchange. Non-2xx responses are drained into a
// StatusError; network failures become TransportErrors.
func (c *caller) send(ctx context.Context, build buildFunc) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", resilience.AcceptEncoding)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: c.provider, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	resp.Body.Close()
	return nil, NewStatusError(c.provider, resp.StatusCode, body)
}

// attempt is one retry-policy attempt: a send plus, on an auth status, a
// single token refresh and re-send. Keeping the refresh inside the attempt
// means it never consumes retry budget.
func (c *caller) attempt(ctx context.Context, build buildFunc) (*http.Response, error) {
	resp, err := c.send(ctx, build)
	if err == nil || c.tokens == nil || !isStatus(err, c.authCodes...) {
		return resp, err
	}

	log.Warnf("%s: upstream rejected credentials, refreshing token and retrying once", c.provider)
	if refreshErr := c.tokens.ForceRefresh(ctx); refreshErr != nil {
		log.WithError(refreshErr).Errorf("%s: token refresh failed", c.provider)
		return nil, err
	}
	return c.send(ctx, build)
}

// Do performs a unary exchange and returns the decoded response body.
func (c *caller) Do(ctx context.Context, build buildFunc) ([]byte, error) {
	resp, err := c.exec.Execute(ctx, func() (*http.Response, error) {
		return c.attempt(ctx, build)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := resilience.DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, &ProtocolError{Provider: c.provider, Err: err}
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &TransportError{Provider: c.provider, Err: err}
	}
	return data, nil
}

// OpenStream performs the exchange for a streaming call and returns the
// decoded body plus the stream-breaker completion callback. The callback
// must be invoked exactly once when the stream ends.
func (c *caller) OpenStream(ctx context.Context, build buildFunc) (io.ReadCloser, func(success bool), error) {
	done, err := c.streamBr.Allow()
	if err != nil {
		return nil, nil, &TransportError{Provider: c.provider, Err: err}
	}

	resp, err := c.streamRun.Execute(ctx, func() (*http.Response, error) {
		return c.attempt(ctx, build)
	})
	if err != nil {
		done(breakerExempt(err))
		return nil, nil, err
	}

	body, err := resilience.DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		resp.Body.Close()
		done(false)
		return nil, nil, &ProtocolError{Provider: c.provider, Err: err}
	}
	return body, done, nil
}

// sseOptions adjusts SSE forwarding per provider.
type sseOptions struct {
	// unwrap transforms each data payload before forwarding (Code Assist
	// envelope removal). nil leaves payloads as-is.
	unwrap func(payload []byte) []byte
	// stopOnDone consumes a [DONE] marker as end of stream.
	stopOnDone bool
	// terminal reports that a payload is the final event; it is forwarded
	// and then the stream ends.
	terminal func(payload []byte) bool
	// idleTimeout closes the stream when upstream stalls. Zero uses the
	// shared default.
	idleTimeout time.Duration
}

// forwardSSE reads the SSE body and forwards one chunk per event block.
// Data lines within a block are joined; comment and field lines other
// than data are dropped. The channel closes when the stream ends.
func (c *caller) forwardSSE(ctx context.Context, body io.ReadCloser, done func(success bool), opts sseOptions) <-chan StreamChunk {
	out := make(chan StreamChunk, chunkBufferSize)

	go func() {
		defer close(out)
		success := true
		defer func() { done(success) }()

		idle := opts.idleTimeout
		if idle <= 0 {
			idle = defaultIdle
		}
		reader := newStreamBody(ctx, body, idle, c.provider)
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, scannerBufferSize), scannerMaxSize)

		var pending [][]byte
		flush := func() (stop bool) {
			if len(pending) == 0 {
				return false
			}
			payload := bytes.Join(pending, []byte("\n"))
			pending = pending[:0]
			if opts.unwrap != nil {
				payload = opts.unwrap(payload)
			}
			if len(payload) == 0 {
				return false
			}
			if !c.emit(ctx, out, StreamChunk{Data: payload}) {
				return true
			}
			return opts.terminal != nil && opts.terminal(payload)
		}

		for scanner.Scan() {
			line := scanner.Bytes()
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) == 0 {
				if flush() {
					return
				}
				continue
			}
			if !bytes.HasPrefix(trimmed, dataTag) {
				continue
			}
			payload := bytes.TrimSpace(trimmed[len(dataTag):])
			if opts.stopOnDone && bytes.Equal(payload, doneMarker) {
				flush()
				return
			}
			pending = append(pending, append([]byte(nil), payload...))
		}
		flush()

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			success = false
			c.emit(ctx, out, StreamChunk{Err: &TransportError{Provider: c.provider, Err: err}})
		}
	}()

	return out
}

// emit delivers a chunk unless the caller has gone away.
func (c *caller) emit(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

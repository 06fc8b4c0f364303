package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// StatusError is a non-2xx upstream response. RetryAfter carries the
// server-requested delay when the body includes one (Google RetryInfo).
type StatusError struct {
	Provider   string
	StatusCode int
	Body       []byte
	RetryAfter *time.Duration
}

// NewStatusError builds a StatusError, extracting a server retry hint on 429.
func NewStatusError(provider string, status int, body []byte) *StatusError {
	e := &StatusError{Provider: provider, StatusCode: status, Body: body}
	if status == http.StatusTooManyRequests {
		e.RetryAfter = parseRetryDelay(body)
	}
	return e
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: status %d: %s", e.Provider, e.StatusCode, summarizeBody(e.Body))
}

// Temporary reports whether the status is worth retrying: rate limits and
// server-side failures.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AuthFailure reports whether the status indicates rejected credentials.
func (e *StatusError) AuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// TransportError wraps a network-level failure (dial, reset, EOF mid-read)
// so the retry policy can tell it apart from request construction errors.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError marks an upstream payload the gateway could not interpret.
type ProtocolError struct {
	Provider string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream %s: unparseable response: %v", e.Provider, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsRetryable decides whether the retry policy should run another attempt:
// 429 and 5xx statuses, and transport failures that are not cancellations.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	var transport *TransportError
	return errors.As(err, &transport)
}

// isStatus reports whether err is a StatusError with one of the given codes.
func isStatus(err error, codes ...int) bool {
	var status *StatusError
	if !errors.As(err, &status) {
		return false
	}
	for _, c := range codes {
		if status.StatusCode == c {
			return true
		}
	}
	return false
}

// breakerExempt keeps caller mistakes from tripping the circuit breaker:
// only transport failures, rate limits, and 5xx count against it.
func breakerExempt(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		return !status.Temporary()
	}
	return false
}

// parseRetryDelay extracts RetryInfo.retryDelay from a Google 429 body,
// handling both object and array-wrapped error envelopes.
func parseRetryDelay(body []byte) *time.Duration {
	for _, path := range []string{"error.details", "0.error.details"} {
		details := gjson.GetBytes(body, path)
		if !details.Exists() || !details.IsArray() {
			continue
		}
		for _, detail := range details.Array() {
			if detail.Get("@type").String() != "type.googleapis.com/google.rpc.RetryInfo" {
				continue
			}
			if raw := detail.Get("retryDelay").String(); raw != "" {
				if d, err := time.ParseDuration(raw); err == nil && d > 0 {
					return &d
				}
			}
		}
	}
	return nil
}

func summarizeBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}

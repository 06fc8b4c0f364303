package resilience

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stateChanges := make([]gobreaker.State, 0)
	cfg := DefaultBreakerConfig("test")
	cfg.MinRequests = 3
	cfg.FailureThreshold = 3
	cfg.OnStateChange = func(_ string, _, to gobreaker.State) {
		stateChanges = append(stateChanges, to)
	}

	breaker := NewCircuitBreaker(cfg)

	for i := 0; i < 5; i++ {
		breaker.Execute(func() (any, error) { return nil, errors.New("fail") })
	}

	if breaker.State() != gobreaker.StateOpen {
		t.Errorf("expected StateOpen, got %v", breaker.State())
	}
	if len(stateChanges) == 0 || stateChanges[len(stateChanges)-1] != gobreaker.StateOpen {
		t.Errorf("expected state change to Open, got %v", stateChanges)
	}
}

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	cfg := DefaultBreakerConfig("test-success")
	cfg.MinRequests = 3
	cfg.FailureThreshold = 5

	breaker := NewCircuitBreaker(cfg)

	for i := 0; i < 10; i++ {
		breaker.Execute(func() (any, error) { return "ok", nil })
	}

	if breaker.State() != gobreaker.StateClosed {
		t.Errorf("expected StateClosed, got %v", breaker.State())
	}
}

func TestCircuitBreakerIgnoresExemptErrors(t *testing.T) {
	callerErr := errors.New("caller mistake")
	cfg := DefaultBreakerConfig("test-exempt")
	cfg.MinRequests = 2
	cfg.FailureThreshold = 2
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, callerErr)
	}

	breaker := NewCircuitBreaker(cfg)

	for i := 0; i < 10; i++ {
		breaker.Execute(func() (any, error) { return nil, callerErr })
	}

	if breaker.State() != gobreaker.StateClosed {
		t.Errorf("caller errors tripped the breaker: state %v", breaker.State())
	}
}

func TestStreamBreakerTwoPhase(t *testing.T) {
	cfg := DefaultBreakerConfig("test-stream")
	cfg.MinRequests = 3
	cfg.FailureThreshold = 3

	breaker := NewStreamBreaker(cfg)

	for i := 0; i < 3; i++ {
		done, err := breaker.Allow()
		if err != nil {
			t.Fatalf("Allow() attempt %d: %v", i, err)
		}
		done(false)
	}

	if breaker.State() != gobreaker.StateOpen {
		t.Fatalf("expected StateOpen after failed streams, got %v", breaker.State())
	}
	if _, err := breaker.Allow(); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Allow() on open breaker = %v, want ErrOpenState", err)
	}
}

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	exec := NewExecutor[string](RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, nil)

	got, err := exec.Execute(context.Background(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Errorf("got %q after %d attempts, want ok after 3", got, attempts)
	}
}

func TestExecutorHonorsShouldRetry(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	exec := NewExecutor[string](RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, permanent)
		},
	}, nil)

	_, err := exec.Execute(context.Background(), func() (string, error) {
		attempts++
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Execute = %v, want permanent error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a non-retryable error", attempts)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name      string
		attempt   int
		baseDelay time.Duration
		maxDelay  time.Duration
		want      time.Duration
	}{
		{
			name:      "first attempt",
			attempt:   0,
			baseDelay: time.Second,
			maxDelay:  30 * time.Second,
			want:      time.Second,
		},
		{
			name:      "second attempt doubles",
			attempt:   1,
			baseDelay: time.Second,
			maxDelay:  30 * time.Second,
			want:      2 * time.Second,
		},
		{
			name:      "third attempt quadruples",
			attempt:   2,
			baseDelay: time.Second,
			maxDelay:  30 * time.Second,
			want:      4 * time.Second,
		},
		{
			name:      "capped at max",
			attempt:   10,
			baseDelay: time.Second,
			maxDelay:  30 * time.Second,
			want:      30 * time.Second,
		},
		{
			name:      "zero base",
			attempt:   3,
			baseDelay: 0,
			maxDelay:  30 * time.Second,
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBackoff(tt.attempt, tt.baseDelay, tt.maxDelay)
			if got != tt.want {
				t.Errorf("CalculateBackoff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaitWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitWithContext(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitWithContext = %v, want context.Canceled", err)
	}
}

func TestDecodeBodyGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte("hello upstream")); err != nil {
		t.Fatal(err)
	}
	zw.Close()

	rc, err := DecodeBody(io.NopCloser(&buf), "gzip")
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello upstream" {
		t.Errorf("decoded body = %q, want %q", got, "hello upstream")
	}
}

func TestDecodeBodyIdentityPassthrough(t *testing.T) {
	rc, err := DecodeBody(io.NopCloser(bytes.NewReader([]byte("plain"))), "")
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "plain" {
		t.Errorf("body = %q, want plain", got)
	}
}

func TestDecodeBodyUnknownEncoding(t *testing.T) {
	if _, err := DecodeBody(io.NopCloser(bytes.NewReader(nil)), "snappy"); err == nil {
		t.Error("DecodeBody accepted an unknown encoding")
	}
}

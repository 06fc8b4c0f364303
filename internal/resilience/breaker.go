package resilience

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures a per-provider circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
	OnStateChange    func(name string, from, to gobreaker.State)

	// IsSuccessful decides whether an error counts against the breaker.
	// Caller mistakes (bad request bodies, unknown models) must not trip it;
	// only upstream health should. Nil counts every error.
	IsSuccessful func(err error) bool
}

// DefaultBreakerConfig returns breaker settings tuned for a single upstream
// account: open after five consecutive failures or a 50% failure ratio over
// at least ten calls, probe again after 30s.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

func (cfg BreakerConfig) settings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: cfg.OnStateChange,
		IsSuccessful:  cfg.IsSuccessful,
	}
}

// CircuitBreaker guards unary upstream calls.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker from cfg.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(cfg.settings())}
}

// Execute runs fn if the breaker permits it and records the outcome.
func (c *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	return c.cb.Execute(fn)
}

// State returns the breaker state.
func (c *CircuitBreaker) State() gobreaker.State { return c.cb.State() }

// Counts returns the breaker counters.
func (c *CircuitBreaker) Counts() gobreaker.Counts { return c.cb.Counts() }

// Name returns the breaker name.
func (c *CircuitBreaker) Name() string { return c.cb.Name() }

// StreamBreaker guards streaming calls, where the outcome is unknown until
// the stream finishes. Allow admits the call and hands back a done callback;
// the stream reader reports success or failure when the connection closes.
type StreamBreaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

// NewStreamBreaker builds a two-step breaker from cfg.
func NewStreamBreaker(cfg BreakerConfig) *StreamBreaker {
	return &StreamBreaker{cb: gobreaker.NewTwoStepCircuitBreaker(cfg.settings())}
}

// Allow asks the breaker to admit a stream. The returned done callback must
// be invoked exactly once when the stream ends: done(true) on a clean
// finish, done(false) on any failure. Returns gobreaker.ErrOpenState when
// the circuit is open.
func (s *StreamBreaker) Allow() (done func(success bool), err error) {
	return s.cb.Allow()
}

// State returns the breaker state.
func (s *StreamBreaker) State() gobreaker.State { return s.cb.State() }

// Counts returns the breaker counters.
func (s *StreamBreaker) Counts() gobreaker.Counts { return s.cb.Counts() }

// Name returns the breaker name.
func (s *StreamBreaker) Name() string { return s.cb.Name() }

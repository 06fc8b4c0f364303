package usage

import "sync/atomic"

// Counters keeps live totals without locks; every request bumps them so the
// usage command can answer instantly, with history coming from the backend.
type Counters struct {
	requests    atomic.Int64
	succeeded   atomic.Int64
	failed      atomic.Int64
	totalTokens atomic.Int64
}

// NewCounters returns a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// Record tallies one finished request.
func (c *Counters) Record(failed bool, tokens int64) {
	if c == nil {
		return
	}
	c.requests.Add(1)
	if failed {
		c.failed.Add(1)
	} else {
		c.succeeded.Add(1)
	}
	c.totalTokens.Add(tokens)
}

// Bootstrap seeds the counters from persisted history. Called once before
// the first Record.
func (c *Counters) Bootstrap(requests, succeeded, failed, tokens int64) {
	if c == nil {
		return
	}
	c.requests.Store(requests)
	c.succeeded.Store(succeeded)
	c.failed.Store(failed)
	c.totalTokens.Store(tokens)
}

// Snapshot returns a point-in-time view.
func (c *Counters) Snapshot() CounterSnapshot {
	if c == nil {
		return CounterSnapshot{}
	}
	return CounterSnapshot{
		Requests:    c.requests.Load(),
		Succeeded:   c.succeeded.Load(),
		Failed:      c.failed.Load(),
		TotalTokens: c.totalTokens.Load(),
	}
}

// CounterSnapshot is an immutable copy of the live counters.
type CounterSnapshot struct {
	Requests    int64 `json:"requests"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	TotalTokens int64 `json:"total_tokens"`
}

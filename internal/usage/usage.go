// Package usage records per-request token consumption. Records are buffered
// through a non-blocking queue and batch-written to SQLite or PostgreSQL;
// lock-free counters keep instant totals for the CLI.
package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/aigate-dev/aigate/internal/logging"
)

// Record is one completed request, successful or not.
type Record struct {
	Provider     string
	Model        string
	APIKey       string
	RequestedAt  time.Time
	Failed       bool
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Backend persists usage records. Implementations batch writes off the
// request path and must be safe for concurrent use.
type Backend interface {
	// Enqueue queues a record for persistence without blocking; the record
	// is dropped with a warning when the queue is full.
	Enqueue(record Record)

	// Flush writes every queued record now.
	Flush(ctx context.Context) error

	// Totals aggregates all records since the given time.
	Totals(ctx context.Context, since time.Time) (*Totals, error)

	// Daily aggregates per calendar day since the given time.
	Daily(ctx context.Context, since time.Time) ([]DailyStat, error)

	// Providers aggregates per provider since the given time.
	Providers(ctx context.Context, since time.Time) ([]ProviderStat, error)

	// Models aggregates per model since the given time.
	Models(ctx context.Context, since time.Time) ([]ModelStat, error)

	// Cleanup deletes records older than the given time and reports how
	// many went away.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	// Start launches the write and cleanup workers.
	Start() error

	// Stop flushes pending records and releases the store.
	Stop() error
}

// Config selects and tunes a backend.
type Config struct {
	// DSN is a sqlite file path, a sqlite:// URL, or a postgres:// URL.
	DSN string

	// BatchSize bounds how many records accumulate before a write.
	BatchSize int

	// FlushInterval bounds how long records may sit queued.
	FlushInterval time.Duration

	// RetentionDays prunes records older than this many days.
	RetentionDays int
}

// Open builds the backend the DSN names. It does not start workers.
func Open(cfg Config) (Backend, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	switch {
	case dsn == "":
		return nil, fmt.Errorf("usage DSN is empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresBackend(dsn, cfg)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteBackend(strings.TrimPrefix(dsn, "sqlite://"), cfg)
	default:
		// A bare value is a SQLite file path.
		return NewSQLiteBackend(dsn, cfg)
	}
}

// Recorder is the request-path entry point: it bumps the in-memory counters
// and hands the record to the backend. All methods tolerate a nil receiver
// so handlers need no "is usage on" branching.
type Recorder struct {
	counters *Counters
	backend  Backend
}

// NewRecorder starts the backend and seeds the counters from history.
func NewRecorder(backend Backend) (*Recorder, error) {
	if err := backend.Start(); err != nil {
		return nil, err
	}
	r := &Recorder{counters: NewCounters(), backend: backend}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	totals, err := backend.Totals(ctx, time.Time{})
	if err != nil {
		log.Warnf("usage: counter bootstrap from history failed: %v", err)
		return r, nil
	}
	r.counters.Bootstrap(totals.Requests, totals.Succeeded, totals.Failed, totals.TotalTokens)
	log.Infof("usage: resumed counters at %d requests, %d tokens", totals.Requests, totals.TotalTokens)
	return r, nil
}

// Observe records one finished request.
func (r *Recorder) Observe(rec Record) {
	if r == nil {
		return
	}
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now()
	}
	if rec.Model == "" {
		rec.Model = "unknown"
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}
	r.counters.Record(rec.Failed, rec.TotalTokens)
	if r.backend != nil {
		r.backend.Enqueue(rec)
	}
}

// Snapshot returns the live counter values.
func (r *Recorder) Snapshot() CounterSnapshot {
	if r == nil {
		return CounterSnapshot{}
	}
	return r.counters.Snapshot()
}

// Backend exposes the store for query commands.
func (r *Recorder) Backend() Backend {
	if r == nil {
		return nil
	}
	return r.backend
}

// Close flushes and stops the backend.
func (r *Recorder) Close() error {
	if r == nil || r.backend == nil {
		return nil
	}
	return r.backend.Stop()
}

package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"), Config{BatchSize: 10})
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}
	t.Cleanup(func() { b.Stop() })
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return b
}

func TestOpenDispatchesOnDSN(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Config{DSN: filepath.Join(dir, "plain.db")})
	if err != nil {
		t.Fatalf("Open(plain path) error = %v", err)
	}
	if _, ok := b.(*SQLiteBackend); !ok {
		t.Errorf("Open(plain path) = %T, want *SQLiteBackend", b)
	}
	b.Stop()

	b, err = Open(Config{DSN: "sqlite://" + filepath.Join(dir, "url.db")})
	if err != nil {
		t.Fatalf("Open(sqlite url) error = %v", err)
	}
	if _, ok := b.(*SQLiteBackend); !ok {
		t.Errorf("Open(sqlite url) = %T, want *SQLiteBackend", b)
	}
	b.Stop()

	if _, err := Open(Config{DSN: ""}); err == nil {
		t.Error("Open(empty DSN) did not fail")
	}
}

func TestSQLiteEnqueueFlushQuery(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []Record{
		{Provider: "gemini-cli", Model: "gemini-2.5-pro", RequestedAt: now, InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		{Provider: "gemini-cli", Model: "gemini-2.5-flash", RequestedAt: now, InputTokens: 5, OutputTokens: 5, TotalTokens: 10, Failed: true},
		{Provider: "kiro-api", Model: "claude-sonnet-4-20250514", RequestedAt: now, InputTokens: 7, OutputTokens: 3, TotalTokens: 10},
	}
	for _, r := range records {
		b.Enqueue(r)
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	totals, err := b.Totals(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if totals.Requests != 3 || totals.Succeeded != 2 || totals.Failed != 1 {
		t.Errorf("Totals() = %+v", totals)
	}
	if totals.TotalTokens != 50 {
		t.Errorf("TotalTokens = %d, want 50", totals.TotalTokens)
	}

	providers, err := b.Providers(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Providers() error = %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("Providers() returned %d rows, want 2", len(providers))
	}
	if providers[0].Provider != "gemini-cli" || providers[0].Requests != 2 {
		t.Errorf("providers[0] = %+v", providers[0])
	}

	models, err := b.Models(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Models() error = %v", err)
	}
	if len(models) != 3 {
		t.Errorf("Models() returned %d rows, want 3", len(models))
	}

	daily, err := b.Daily(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Daily() error = %v", err)
	}
	if len(daily) != 1 || daily[0].Requests != 3 {
		t.Errorf("Daily() = %+v", daily)
	}
}

func TestSQLiteCleanup(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -60)
	b.Enqueue(Record{Provider: "p", Model: "m", RequestedAt: old, TotalTokens: 1})
	b.Enqueue(Record{Provider: "p", Model: "m", RequestedAt: time.Now().UTC(), TotalTokens: 1})
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	deleted, err := b.Cleanup(ctx, time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Cleanup() deleted %d, want 1", deleted)
	}

	totals, err := b.Totals(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if totals.Requests != 1 {
		t.Errorf("remaining requests = %d, want 1", totals.Requests)
	}
}

func TestRecorderObserveDefaults(t *testing.T) {
	b := newTestBackend(t)
	rec, err := NewRecorder(b)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	rec.Observe(Record{Provider: "openai-custom", InputTokens: 4, OutputTokens: 6})
	snap := rec.Snapshot()
	if snap.Requests != 1 || snap.Succeeded != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if snap.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, want computed 10", snap.TotalTokens)
	}

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	models, err := b.Models(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Models() error = %v", err)
	}
	if len(models) != 1 || models[0].Model != "unknown" {
		t.Errorf("missing model not defaulted: %+v", models)
	}
}

func TestRecorderBootstrapsFromHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.db")

	b, err := NewSQLiteBackend(path, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	b.Enqueue(Record{Provider: "p", Model: "m", RequestedAt: time.Now().UTC(), TotalTokens: 42})
	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}

	// A new process over the same file resumes the counters.
	b2, err := NewSQLiteBackend(path, Config{})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := NewRecorder(b2)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	defer rec.Close()

	snap := rec.Snapshot()
	if snap.Requests != 1 || snap.TotalTokens != 42 {
		t.Errorf("bootstrapped Snapshot() = %+v", snap)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.Observe(Record{Provider: "p"})
	if snap := rec.Snapshot(); snap.Requests != 0 {
		t.Errorf("nil Snapshot() = %+v", snap)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(empty) = %d", got)
	}
	long := "The quick brown fox jumps over the lazy dog. "
	if got := EstimateTokens(long); got <= 0 {
		t.Errorf("EstimateTokens(sentence) = %d, want > 0", got)
	}
}

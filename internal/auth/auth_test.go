package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	name      string
	near      bool
	refreshes atomic.Int64
	fail      int32
	signal    chan struct{}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Token(ctx context.Context) (string, error) { return "tok", nil }

func (f *fakeSource) ExpiryNear(window time.Duration) bool { return f.near }

func (f *fakeSource) ForceRefresh(ctx context.Context) error {
	n := f.refreshes.Add(1)
	if f.signal != nil {
		select {
		case f.signal <- struct{}{}:
		default:
		}
	}
	if n <= int64(atomic.LoadInt32(&f.fail)) {
		return errors.New("refresh failed")
	}
	return nil
}

func TestSweepRefreshesOnlyNearExpiry(t *testing.T) {
	near := &fakeSource{name: "near", near: true}
	far := &fakeSource{name: "far", near: false}

	r := NewRefresher(15*time.Minute, near, far)
	r.sweep()

	if got := near.refreshes.Load(); got != 1 {
		t.Errorf("near source refreshed %d times, want 1", got)
	}
	if got := far.refreshes.Load(); got != 0 {
		t.Errorf("far source refreshed %d times, want 0", got)
	}
}

func TestSweepRetriesOnce(t *testing.T) {
	src := &fakeSource{name: "flaky", near: true, fail: 1}

	r := NewRefresher(15*time.Minute, src)
	r.sweep()

	if got := src.refreshes.Load(); got != 2 {
		t.Errorf("refresh attempts = %d, want 2 (one retry)", got)
	}
}

func TestRefresherStartStop(t *testing.T) {
	src := &fakeSource{name: "ticking", near: true, signal: make(chan struct{}, 1)}

	r := NewRefresher(20*time.Millisecond, src)
	r.Start()

	select {
	case <-src.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never ran")
	}
	r.Stop()

	after := src.refreshes.Load()
	time.Sleep(60 * time.Millisecond)
	if got := src.refreshes.Load(); got != after {
		t.Errorf("refreshes continued after Stop: %d -> %d", after, got)
	}
}

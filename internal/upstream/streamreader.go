package upstream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/aigate-dev/aigate/internal/logging"
)

// streamBody wraps a streaming response body with context-aware
// cancellation and idle detection. Cancelling the context closes the body,
// which unblocks any pending Read; a watchdog closes bodies whose upstream
// has stopped sending entirely.
type streamBody struct {
	body     io.ReadCloser
	ctx      context.Context
	provider string

	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
	lastActivity atomic.Int64
	idleTimeout  time.Duration
	stop         chan struct{}
}

func newStreamBody(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, provider string) *streamBody {
	sb := &streamBody{
		body:        body,
		ctx:         ctx,
		provider:    provider,
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
	sb.touch()

	go sb.watchContext()
	if idleTimeout > 0 {
		go sb.watchIdle()
	}
	return sb
}

func (sb *streamBody) touch() {
	sb.lastActivity.Store(time.Now().UnixNano())
}

func (sb *streamBody) watchContext() {
	select {
	case <-sb.ctx.Done():
		sb.closeWithReason("context cancelled")
	case <-sb.stop:
	}
}

// watchIdle polls at a fraction of the timeout, clamped so short timeouts
// do not spin and long ones still react within half a minute.
func (sb *streamBody) watchIdle() {
	interval := sb.idleTimeout / 4
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.ctx.Done():
			return
		case <-sb.stop:
			return
		case <-ticker.C:
			if sb.closed.Load() {
				return
			}
			idle := time.Since(time.Unix(0, sb.lastActivity.Load()))
			if idle > sb.idleTimeout {
				log.Warnf("%s: stream stalled for %v, closing connection", sb.provider, idle.Round(time.Second))
				sb.closeWithReason("idle timeout")
				return
			}
		}
	}
}

func (sb *streamBody) Read(p []byte) (int, error) {
	if sb.closed.Load() {
		return 0, io.EOF
	}
	n, err := sb.body.Read(p)
	if n > 0 {
		sb.touch()
	}
	return n, err
}

func (sb *streamBody) closeWithReason(reason string) {
	sb.closeOnce.Do(func() {
		sb.closed.Store(true)
		sb.closeErr = sb.body.Close()
		log.Debugf("%s: stream closed: %s", sb.provider, reason)
	})
}

func (sb *streamBody) Close() error {
	sb.closeWithReason("explicit close")
	select {
	case <-sb.stop:
	default:
		close(sb.stop)
	}
	return sb.closeErr
}

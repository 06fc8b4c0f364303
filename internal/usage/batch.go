package usage

import (
	"context"
	"sync"
	"time"

	log "github.com/aigate-dev/aigate/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultRetentionDays = 30
	queueBufferSize      = 1000

	writeTimeout   = 30 * time.Second
	cleanupTimeout = time.Minute
	cleanupPeriod  = 24 * time.Hour
)

// batcher runs the queue and worker loops both backends share. The store
// plugs in with two callbacks: one batch insert and one retention delete.
type batcher struct {
	records       chan Record
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	batchSize     int
	retentionDays int

	write   func(ctx context.Context, batch []Record) error
	cleanup func(ctx context.Context, before time.Time) (int64, error)
}

func newBatcher(cfg Config, write func(context.Context, []Record) error, cleanup func(context.Context, time.Time) (int64, error)) *batcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	return &batcher{
		records:       make(chan Record, queueBufferSize),
		flushTicker:   time.NewTicker(flushInterval),
		cleanupTicker: time.NewTicker(cleanupPeriod),
		stop:          make(chan struct{}),
		batchSize:     batchSize,
		retentionDays: retentionDays,
		write:         write,
		cleanup:       cleanup,
	}
}

func (b *batcher) start() {
	b.wg.Add(2)
	go b.writeLoop()
	go b.cleanupLoop()
}

// halt stops the workers after they drained the queue.
func (b *batcher) halt() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.flushTicker.Stop()
		b.cleanupTicker.Stop()
		b.wg.Wait()
	})
}

func (b *batcher) enqueue(record Record) {
	select {
	case b.records <- record:
	default:
		log.Warnf("usage: queue full, dropping record for %s/%s", record.Provider, record.Model)
	}
}

// drain writes everything currently queued. Used by Flush and by tests.
func (b *batcher) drain(ctx context.Context) error {
	batch := make([]Record, 0, b.batchSize)
	for {
		select {
		case record := <-b.records:
			batch = append(batch, record)
			if len(batch) >= b.batchSize {
				if err := b.write(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				return b.write(ctx, batch)
			}
			return nil
		}
	}
}

func (b *batcher) writeLoop() {
	defer b.wg.Done()

	batch := make([]Record, 0, b.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := b.write(ctx, batch); err != nil {
			log.Errorf("usage: batch write failed: %v", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case record := <-b.records:
			batch = append(batch, record)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-b.flushTicker.C:
			flush()
		case <-b.stop:
			for {
				select {
				case record := <-b.records:
					batch = append(batch, record)
					if len(batch) >= b.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (b *batcher) cleanupLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.cleanupTicker.C:
			cutoff := time.Now().AddDate(0, 0, -b.retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			deleted, err := b.cleanup(ctx, cutoff)
			cancel()
			if err != nil {
				log.Errorf("usage: retention cleanup failed: %v", err)
			} else if deleted > 0 {
				log.Infof("usage: pruned %d records older than %d days", deleted, b.retentionDays)
			}
		case <-b.stop:
			return
		}
	}
}

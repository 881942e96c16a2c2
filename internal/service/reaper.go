package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/propstream/internal/metrics"
	"github.com/devrev/propstream/internal/store"
)

// Reaper removes idempotency keys that have aged out of the retention window,
// keeping the key set bounded while preserving reject-on-duplicate within the
// window.
type Reaper struct {
	store     store.PropertyStore
	retention time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewReaper creates a new idempotency key reaper
func NewReaper(
	propertyStore store.PropertyStore,
	retention time.Duration,
	interval time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reaper {
	return &Reaper{
		store:     propertyStore,
		retention: retention,
		interval:  interval,
		metrics:   m,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start launches the background reap loop
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop terminates the reap loop and waits for it to finish
func (r *Reaper) Stop() {
	close(r.done)
	r.wg.Wait()
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ReapOnce(context.Background())
		case <-r.done:
			return
		}
	}
}

// ReapOnce deletes keys older than the retention cutoff
func (r *Reaper) ReapOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.retention)

	removed, err := r.store.DeleteIdempotencyKeysBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("Failed to reap idempotency keys", zap.Error(err))
		return
	}

	if removed > 0 {
		r.metrics.RecordReaped(removed)
		r.logger.Info("Reaped expired idempotency keys",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
}

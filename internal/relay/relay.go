// Package relay moves committed outbox rows onto the replication log. It is
// the second half of the transactional-outbox pattern: the write transaction
// stages events, the relay publishes them and removes rows only after the log
// has accepted them. Failed publishes are unlocked for a later attempt, so
// delivery is at-least-once.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/propstream/internal/metrics"
	"github.com/devrev/propstream/internal/model"
	"github.com/devrev/propstream/internal/replog"
	"github.com/devrev/propstream/internal/store"
)

const publishTimeout = 5 * time.Second

// Config configures the outbox relay
type Config struct {
	ChannelSize   int
	BatchSize     int
	PollInterval  time.Duration
	ProducerCount int
	WorkerCount   int

	Repo      store.OutboxRepo
	Publisher replog.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Relay polls the outbox, fans locked events out to producer goroutines and
// batches the resulting unlock/remove cleanup through a worker pool.
type Relay struct {
	owner string

	channelSize   int
	batchSize     int
	pollInterval  time.Duration
	producerCount int

	repo      store.OutboxRepo
	publisher replog.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	events      chan model.OutboxEvent
	idsToUnlock chan string
	idsToRemove chan string
	workerPool  *workerpool.WorkerPool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRelay creates a new outbox relay
func NewRelay(cfg Config) *Relay {
	return &Relay{
		owner:         uuid.New().String(),
		channelSize:   cfg.ChannelSize,
		batchSize:     cfg.BatchSize,
		pollInterval:  cfg.PollInterval,
		producerCount: cfg.ProducerCount,
		repo:          cfg.Repo,
		publisher:     cfg.Publisher,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		events:        make(chan model.OutboxEvent, cfg.ChannelSize),
		idsToUnlock:   make(chan string),
		idsToRemove:   make(chan string),
		workerPool:    workerpool.New(cfg.WorkerCount),
		done:          make(chan struct{}),
	}
}

// Start launches the poll, producer and cleanup goroutines
func (r *Relay) Start() {
	r.wg.Add(1)
	go r.poll()

	r.wg.Add(1)
	go r.cleanup(r.idsToUnlock, r.repo.Unlock)

	r.wg.Add(1)
	go r.cleanup(r.idsToRemove, r.repo.Remove)

	for i := 0; i < r.producerCount; i++ {
		r.wg.Add(1)
		go r.produce()
	}
}

// Close stops all goroutines and drains pending cleanup work
func (r *Relay) Close() {
	close(r.done)
	r.wg.Wait()
	r.workerPool.StopWait()
}

func (r *Relay) poll() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			events, err := r.repo.Lock(ctx, r.batchSize, r.owner)
			if err != nil {
				cancel()
				r.logger.Error("Failed to lock outbox events", zap.Error(err))
				continue
			}

			if pending, err := r.repo.PendingCount(ctx); err == nil {
				r.metrics.SetOutboxPending(pending)
			}
			cancel()

			for _, event := range events {
				select {
				case r.events <- event:
				case <-r.done:
					return
				}
			}
		case <-r.done:
			return
		}
	}
}

func (r *Relay) produce() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.events:
			r.handle(event)
		case <-r.done:
			return
		}
	}
}

func (r *Relay) handle(event model.OutboxEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, event.Payload); err != nil {
		r.metrics.RecordOutboxPublish("failed")
		r.logger.Error("Failed to publish outbox event, unlocking for retry",
			zap.String("event_id", event.EventID),
			zap.Int64("property_id", event.PropertyID),
			zap.Error(err))
		r.enqueue(r.idsToUnlock, event.EventID)
		return
	}

	r.metrics.RecordOutboxPublish("published")
	r.enqueue(r.idsToRemove, event.EventID)
}

// enqueue hands an id to a cleanup goroutine without blocking shutdown.
func (r *Relay) enqueue(ids chan<- string, eventID string) {
	select {
	case ids <- eventID:
	case <-r.done:
	}
}

// cleanup batches event ids and flushes them through the worker pool, either
// unlocking failed events or removing published ones.
func (r *Relay) cleanup(ids <-chan string, flushFn func(context.Context, []string) error) {
	defer r.wg.Done()

	var batch []string
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	flush := func(eventIDs []string) {
		if len(eventIDs) == 0 {
			return
		}
		r.workerPool.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := flushFn(ctx, eventIDs); err != nil {
				r.logger.Error("Outbox cleanup failed",
					zap.Strings("event_ids", eventIDs),
					zap.Error(err))
			}
		})
	}

	for {
		select {
		case <-ticker.C:
			flush(batch)
			batch = nil
		case id := <-ids:
			batch = append(batch, id)
			if len(batch) == r.batchSize {
				flush(batch)
				batch = nil
			}
		case <-r.done:
			flush(batch)
			return
		}
	}
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/propstream/internal/metrics"
	"github.com/devrev/propstream/internal/model"
	"github.com/devrev/propstream/internal/replog"
	"github.com/devrev/propstream/internal/store"
)

const applyTimeout = 5 * time.Second

// Applier is the standing consumer of the replication log. For each received
// write it advances the lag timestamp, suppresses echoes of this region's own
// writes, and merges remote writes into the store when their version is
// strictly newer. Store failures are logged and the message is dropped so the
// consumer never stalls.
type Applier struct {
	store   store.PropertyStore
	log     replog.Subscriber
	lag     *LagTracker
	region  string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewApplier creates a new replication applier
func NewApplier(
	propertyStore store.PropertyStore,
	log replog.Subscriber,
	lag *LagTracker,
	region string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Applier {
	return &Applier{
		store:   propertyStore,
		log:     log,
		lag:     lag,
		region:  region,
		metrics: m,
		logger:  logger,
	}
}

// Start subscribes the applier to the replication log from the earliest
// retained offset.
func (a *Applier) Start() error {
	return a.log.Subscribe(a.ProcessEvent)
}

// ProcessEvent handles one replication message. The lag timestamp advances
// unconditionally, including for self-originated messages, so lag reflects
// round-trip log latency rather than remote activity alone.
func (a *Applier) ProcessEvent(event model.ReplicationEvent) {
	a.lag.Observe(event.UpdatedAt)
	a.metrics.SetReplicationLag(a.lag.LagSeconds())

	if event.RegionOrigin == a.region {
		a.metrics.RecordReplication("echo")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	applied, err := a.store.ApplyReplicated(ctx, event)
	if err != nil {
		// Drop and continue: a lost update for this id is recovered only if a
		// newer version eventually arrives.
		a.metrics.RecordReplication("dropped")
		a.metrics.RecordDropped()
		a.logger.Error("Failed to apply replicated property, dropping message",
			zap.Int64("property_id", event.ID),
			zap.String("region_origin", event.RegionOrigin),
			zap.Int64("version", event.Version),
			zap.Error(err))
		return
	}

	if !applied {
		a.metrics.RecordReplication("stale")
		a.logger.Debug("Skipped stale replicated property",
			zap.Int64("property_id", event.ID),
			zap.Int64("version", event.Version))
		return
	}

	a.metrics.RecordReplication("applied")
	a.logger.Info("Replicated property applied",
		zap.Int64("property_id", event.ID),
		zap.String("region_origin", event.RegionOrigin),
		zap.Int64("version", event.Version))
}

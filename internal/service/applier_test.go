package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/propstream/internal/metrics"
	"github.com/devrev/propstream/internal/model"
	"github.com/devrev/propstream/internal/store"
)

func newApplierFixture(t *testing.T, propertyStore store.PropertyStore) (*Applier, *LagTracker, *stubSubscriber) {
	t.Helper()
	lag := NewLagTracker()
	sub := &stubSubscriber{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewApplier(propertyStore, sub, lag, "us-east", m, zap.NewNop()), lag, sub
}

func TestApplierStartSubscribes(t *testing.T) {
	applier, _, sub := newApplierFixture(t, store.NewMemoryPropertyStore(zap.NewNop()))

	require.NoError(t, applier.Start())
	require.NotNil(t, sub.handler)

	// The captured handler is live: feeding it an event mutates the store.
	sub.handler(model.ReplicationEvent{ID: 1, Version: 1, RegionOrigin: "eu-west", UpdatedAt: time.Now()})

	s := applier.store.(*store.MemoryPropertyStore)
	p, err := s.GetProperty(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
}

func TestApplierStartPropagatesSubscribeError(t *testing.T) {
	lag := NewLagTracker()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	sub := &stubSubscriber{err: errors.New("no stream")}
	applier := NewApplier(store.NewMemoryPropertyStore(zap.NewNop()), sub, lag, "us-east", m, zap.NewNop())

	assert.Error(t, applier.Start())
}

func TestApplierSuppressesOwnRegionEcho(t *testing.T) {
	s := store.NewMemoryPropertyStore(zap.NewNop())
	applier, lag, _ := newApplierFixture(t, s)

	applier.ProcessEvent(model.ReplicationEvent{
		ID:           1,
		Price:        100,
		RegionOrigin: "us-east",
		Version:      1,
		UpdatedAt:    time.Now().Add(-5 * time.Second),
	})

	// Echo never touches the store but still advances the lag timestamp.
	_, err := s.GetProperty(context.Background(), 1)
	assert.Error(t, err)
	assert.InDelta(t, 5.0, lag.LagSeconds(), 1.0)
}

func TestApplierAppliesRemoteWrite(t *testing.T) {
	s := store.NewMemoryPropertyStore(zap.NewNop())
	applier, _, _ := newApplierFixture(t, s)

	applier.ProcessEvent(model.ReplicationEvent{
		ID:           1,
		Price:        750000,
		RegionOrigin: "eu-west",
		Version:      2,
		UpdatedAt:    time.Now(),
	})

	p, err := s.GetProperty(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, float64(750000), p.Price)
	assert.Equal(t, int64(2), p.Version)
}

func TestApplierReplayIsIdempotent(t *testing.T) {
	s := store.NewMemoryPropertyStore(zap.NewNop())
	applier, _, _ := newApplierFixture(t, s)

	event := model.ReplicationEvent{
		ID:           1,
		Price:        750000,
		RegionOrigin: "eu-west",
		Version:      2,
		UpdatedAt:    time.Now(),
	}

	// At-least-once delivery: the same message may arrive twice.
	applier.ProcessEvent(event)
	applier.ProcessEvent(event)

	p, err := s.GetProperty(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
}

func TestApplierDropsOnStoreFailure(t *testing.T) {
	mockStore := new(mockPropertyStore)
	mockStore.On("ApplyReplicated", mock.Anything, mock.Anything).
		Return(false, errors.New("connection reset")).Once()
	mockStore.On("ApplyReplicated", mock.Anything, mock.Anything).
		Return(true, nil)

	applier, _, _ := newApplierFixture(t, mockStore)

	// The failed message is dropped without retry and the next one proceeds.
	applier.ProcessEvent(model.ReplicationEvent{ID: 1, RegionOrigin: "eu-west", Version: 1, UpdatedAt: time.Now()})
	applier.ProcessEvent(model.ReplicationEvent{ID: 1, RegionOrigin: "eu-west", Version: 2, UpdatedAt: time.Now()})

	mockStore.AssertNumberOfCalls(t, "ApplyReplicated", 2)
}

func TestApplierAdvancesLagOnEveryMessage(t *testing.T) {
	s := store.NewMemoryPropertyStore(zap.NewNop())
	applier, lag, _ := newApplierFixture(t, s)

	applier.ProcessEvent(model.ReplicationEvent{
		ID:           1,
		RegionOrigin: "eu-west",
		Version:      1,
		UpdatedAt:    time.Now().Add(-30 * time.Second),
	})
	assert.InDelta(t, 30.0, lag.LagSeconds(), 1.0)

	applier.ProcessEvent(model.ReplicationEvent{
		ID:           1,
		RegionOrigin: "eu-west",
		Version:      2,
		UpdatedAt:    time.Now(),
	})
	assert.Less(t, lag.LagSeconds(), 1.0)
}

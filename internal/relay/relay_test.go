package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/devrev/propstream/internal/metrics"
	"github.com/devrev/propstream/internal/model"
)

type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) Lock(ctx context.Context, n int, lockedBy string) ([]model.OutboxEvent, error) {
	args := m.Called(ctx, n, lockedBy)
	return args.Get(0).([]model.OutboxEvent), args.Error(1)
}

func (m *mockOutboxRepo) Unlock(ctx context.Context, eventIDs []string) error {
	args := m.Called(ctx, eventIDs)
	return args.Error(0)
}

func (m *mockOutboxRepo) Remove(ctx context.Context, eventIDs []string) error {
	args := m.Called(ctx, eventIDs)
	return args.Error(0)
}

func (m *mockOutboxRepo) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event model.ReplicationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func newRelayFixture(repo *mockOutboxRepo, publisher *mockPublisher) *Relay {
	return NewRelay(Config{
		ChannelSize:   16,
		BatchSize:     1,
		PollInterval:  10 * time.Millisecond,
		ProducerCount: 2,
		WorkerCount:   2,
		Repo:          repo,
		Publisher:     publisher,
		Metrics:       metrics.NewMetrics(prometheus.NewRegistry()),
		Logger:        zap.NewNop(),
	})
}

func TestRelayPublishesAndRemoves(t *testing.T) {
	event := model.OutboxEvent{
		EventID:    "evt-1",
		PropertyID: 1,
		Payload:    model.ReplicationEvent{ID: 1, Version: 2, RegionOrigin: "us-east"},
	}

	removed := make(chan []string, 1)

	repo := new(mockOutboxRepo)
	repo.On("Lock", mock.Anything, 1, mock.Anything).
		Return([]model.OutboxEvent{event}, nil).Once()
	repo.On("Lock", mock.Anything, 1, mock.Anything).
		Return([]model.OutboxEvent{}, nil)
	repo.On("PendingCount", mock.Anything).Return(int64(0), nil)
	repo.On("Remove", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			select {
			case removed <- args.Get(1).([]string):
			default:
			}
		}).
		Return(nil)

	publisher := new(mockPublisher)
	publisher.On("Publish", mock.Anything, event.Payload).Return(nil)

	r := newRelayFixture(repo, publisher)
	r.Start()
	defer r.Close()

	select {
	case ids := <-removed:
		assert.Equal(t, []string{"evt-1"}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("published event was never removed from the outbox")
	}

	publisher.AssertCalled(t, "Publish", mock.Anything, event.Payload)
	repo.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything)
}

func TestRelayUnlocksOnPublishFailure(t *testing.T) {
	event := model.OutboxEvent{
		EventID:    "evt-1",
		PropertyID: 1,
		Payload:    model.ReplicationEvent{ID: 1, Version: 2, RegionOrigin: "us-east"},
	}

	unlocked := make(chan []string, 1)

	repo := new(mockOutboxRepo)
	repo.On("Lock", mock.Anything, 1, mock.Anything).
		Return([]model.OutboxEvent{event}, nil).Once()
	repo.On("Lock", mock.Anything, 1, mock.Anything).
		Return([]model.OutboxEvent{}, nil)
	repo.On("PendingCount", mock.Anything).Return(int64(1), nil)
	repo.On("Unlock", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			select {
			case unlocked <- args.Get(1).([]string):
			default:
			}
		}).
		Return(nil)

	publisher := new(mockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).
		Return(errors.New("log unavailable"))

	r := newRelayFixture(repo, publisher)
	r.Start()
	defer r.Close()

	select {
	case ids := <-unlocked:
		assert.Equal(t, []string{"evt-1"}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("failed event was never unlocked for retry")
	}

	repo.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}

func TestRelayToleratesLockFailure(t *testing.T) {
	repo := new(mockOutboxRepo)
	repo.On("Lock", mock.Anything, 1, mock.Anything).
		Return([]model.OutboxEvent{}, errors.New("connection reset"))

	publisher := new(mockPublisher)

	r := newRelayFixture(repo, publisher)
	r.Start()
	time.Sleep(50 * time.Millisecond)
	r.Close()

	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRelayCloseStopsCleanly(t *testing.T) {
	repo := new(mockOutboxRepo)
	repo.On("Lock", mock.Anything, 1, mock.Anything).
		Return([]model.OutboxEvent{}, nil)
	repo.On("PendingCount", mock.Anything).Return(int64(0), nil)

	r := newRelayFixture(repo, new(mockPublisher))
	r.Start()

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not shut down in time")
	}
}

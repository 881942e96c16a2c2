package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/devrev/propstream/internal/model"
	"github.com/devrev/propstream/internal/store"
)

// mockPropertyStore is a testify mock of store.PropertyStore.
type mockPropertyStore struct {
	mock.Mock
}

func (m *mockPropertyStore) GetProperty(ctx context.Context, id int64) (*model.Property, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*model.Property), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPropertyStore) CreateProperty(ctx context.Context, p *model.Property) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockPropertyStore) UpdatePrice(ctx context.Context, params store.UpdatePriceParams) (*model.Property, error) {
	args := m.Called(ctx, params)
	if p := args.Get(0); p != nil {
		return p.(*model.Property), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPropertyStore) ApplyReplicated(ctx context.Context, event model.ReplicationEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

func (m *mockPropertyStore) DeleteIdempotencyKeysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPropertyStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockPropertyStore) Close() {
	m.Called()
}

// stubSubscriber captures the handler passed to Subscribe.
type stubSubscriber struct {
	handler func(event model.ReplicationEvent)
	err     error
}

func (s *stubSubscriber) Subscribe(handler func(event model.ReplicationEvent)) error {
	if s.err != nil {
		return s.err
	}
	s.handler = handler
	return nil
}

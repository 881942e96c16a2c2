package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/devrev/propstream/internal/errors"
	"github.com/devrev/propstream/internal/metrics"
	"github.com/devrev/propstream/internal/model"
	"github.com/devrev/propstream/internal/store"
)

func newWriteFixture(t *testing.T) (*WriteService, *store.MemoryPropertyStore) {
	t.Helper()
	s := store.NewMemoryPropertyStore(zap.NewNop())
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewWriteService(s, "us-east", m, zap.NewNop()), s
}

func seedWriteProperty(t *testing.T, s *store.MemoryPropertyStore, id, version int64, price float64) {
	t.Helper()
	require.NoError(t, s.CreateProperty(context.Background(), &model.Property{
		ID:           id,
		Price:        price,
		RegionOrigin: "us-east",
		Version:      version,
		UpdatedAt:    time.Now().UTC(),
	}))
}

func TestUpdatePriceSuccess(t *testing.T) {
	svc, s := newWriteFixture(t)
	seedWriteProperty(t, s, 1, 1, 500000)

	updated, err := svc.UpdatePrice(context.Background(), 1, "req-1", 1, 550000)
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, float64(550000), updated.Price)
	assert.Equal(t, "us-east", updated.RegionOrigin)
}

func TestUpdatePriceEmptyRequestID(t *testing.T) {
	svc, s := newWriteFixture(t)
	seedWriteProperty(t, s, 1, 1, 500000)

	_, err := svc.UpdatePrice(context.Background(), 1, "", 1, 550000)
	assert.Error(t, err)
}

func TestUpdatePriceDuplicateRequest(t *testing.T) {
	svc, s := newWriteFixture(t)
	seedWriteProperty(t, s, 1, 1, 500000)

	_, err := svc.UpdatePrice(context.Background(), 1, "req-1", 1, 550000)
	require.NoError(t, err)

	_, err = svc.UpdatePrice(context.Background(), 1, "req-1", 2, 600000)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
}

func TestUpdatePriceVersionConflict(t *testing.T) {
	svc, s := newWriteFixture(t)
	seedWriteProperty(t, s, 1, 4, 500000)

	_, err := svc.UpdatePrice(context.Background(), 1, "req-1", 1, 550000)
	require.Error(t, err)

	vc, ok := apperrors.AsVersionConflict(err)
	require.True(t, ok)
	assert.Equal(t, int64(4), vc.CurrentVersion)
}

func TestUpdatePricePropertyNotFound(t *testing.T) {
	svc, _ := newWriteFixture(t)

	_, err := svc.UpdatePrice(context.Background(), 99, "req-1", 1, 550000)
	assert.ErrorIs(t, err, apperrors.ErrPropertyNotFound)
}

// TestUpdatePriceConcurrentWritersOneWins checks the core guarantee: of N
// concurrent writers racing with the same expected version, exactly one is
// accepted and every other receives a version conflict.
func TestUpdatePriceConcurrentWritersOneWins(t *testing.T) {
	svc, s := newWriteFixture(t)
	seedWriteProperty(t, s, 1, 1, 500000)

	const writers = 20

	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			requestID := fmt.Sprintf("req-%d", i)
			_, errs[i] = svc.UpdatePrice(context.Background(), 1, requestID, 1, float64(100000+i))
		}(i)
	}
	wg.Wait()

	var accepted, conflicts int
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		if _, ok := apperrors.AsVersionConflict(err); ok {
			conflicts++
		}
	}

	assert.Equal(t, 1, accepted)
	assert.Equal(t, writers-1, conflicts)

	p, err := s.GetProperty(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
}

func TestGetProperty(t *testing.T) {
	svc, s := newWriteFixture(t)
	seedWriteProperty(t, s, 1, 1, 500000)

	p, err := svc.GetProperty(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)

	_, err = svc.GetProperty(context.Background(), 2)
	assert.ErrorIs(t, err, apperrors.ErrPropertyNotFound)
}

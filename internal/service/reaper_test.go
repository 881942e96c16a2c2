package service

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
)

func TestReapOnceUsesRetentionCutoff(t *testing.T) {
	mockStore := new(mockPropertyStore)
	mockStore.On("DeleteIdempotencyKeysBefore", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		expected := time.Now().Add(-24 * time.Hour)
		return cutoff.Sub(expected).Abs() < time.Minute
	})).Return(int64(3), nil)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	reaper := NewReaper(mockStore, 24*time.Hour, time.Minute, m, zap.NewNop())

	reaper.ReapOnce(context.Background())
	mockStore.AssertExpectations(t)
}

func TestReapOnceToleratesStoreFailure(t *testing.T) {
	mockStore := new(mockPropertyStore)
	mockStore.On("DeleteIdempotencyKeysBefore", mock.Anything, mock.Anything).
		Return(int64(0), errors.New("connection reset"))

	m := metrics.NewMetrics(prometheus.NewRegistry())
	reaper := NewReaper(mockStore, time.Hour, time.Minute, m, zap.NewNop())

	// Must not panic; the next tick simply retries.
	reaper.ReapOnce(context.Background())
	mockStore.AssertExpectations(t)
}

func TestReaperStartStop(t *testing.T) {
	mockStore := new(mockPropertyStore)
	mockStore.On("DeleteIdempotencyKeysBefore", mock.Anything, mock.Anything).
		Return(int64(0), nil).Maybe()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	reaper := NewReaper(mockStore, time.Hour, 10*time.Millisecond, m, zap.NewNop())

	reaper.Start()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		reaper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail(t, "reaper did not stop in time")
	}
}

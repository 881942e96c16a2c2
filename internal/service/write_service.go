package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/devrev/propstream/internal/errors"
	"github.com/devrev/propstream/internal/metrics"
	"github.com/devrev/propstream/internal/model"
	"github.com/devrev/propstream/internal/store"
)

// WriteService is the write coordinator: it enforces idempotency and the
// optimistic-version check inside one store transaction and stages the
// accepted write for replication through the outbox.
type WriteService struct {
	store   store.PropertyStore
	region  string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewWriteService creates a new write service
func NewWriteService(
	propertyStore store.PropertyStore,
	region string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WriteService {
	return &WriteService{
		store:   propertyStore,
		region:  region,
		metrics: m,
		logger:  logger,
	}
}

// UpdatePrice applies one optimistic-concurrency write. Exactly one of a set
// of concurrent writers with the same expected version succeeds; all others
// receive a version conflict carrying the current version. A reused request
// id is rejected with no side effects.
func (s *WriteService) UpdatePrice(
	ctx context.Context,
	id int64,
	requestID string,
	expectedVersion int64,
	newPrice float64,
) (*model.Property, error) {
	if requestID == "" {
		return nil, errors.New("request id must not be empty")
	}

	start := time.Now()
	property, err := s.store.UpdatePrice(ctx, store.UpdatePriceParams{
		ID:              id,
		RequestID:       requestID,
		ExpectedVersion: expectedVersion,
		NewPrice:        newPrice,
		Region:          s.region,
	})
	duration := time.Since(start).Seconds()

	if err != nil {
		result := classifyWriteError(err)
		s.metrics.RecordWrite(result, duration)

		if result == "error" {
			s.logger.Error("Write transaction failed",
				zap.Int64("property_id", id),
				zap.String("request_id", requestID),
				zap.Error(err))
		} else {
			s.logger.Info("Write rejected",
				zap.Int64("property_id", id),
				zap.String("request_id", requestID),
				zap.String("reason", result))
		}
		return nil, err
	}

	s.metrics.RecordWrite("accepted", duration)
	s.logger.Info("Write accepted",
		zap.Int64("property_id", property.ID),
		zap.Int64("version", property.Version),
		zap.String("request_id", requestID))

	return property, nil
}

// GetProperty returns the current local copy of a property.
func (s *WriteService) GetProperty(ctx context.Context, id int64) (*model.Property, error) {
	return s.store.GetProperty(ctx, id)
}

func classifyWriteError(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, apperrors.ErrPropertyNotFound):
		return "not_found"
	default:
		if _, ok := apperrors.AsVersionConflict(err); ok {
			return "conflict"
		}
		return "error"
	}
}

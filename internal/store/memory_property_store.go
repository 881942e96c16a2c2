package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/devrev/propstream/internal/errors"
	"github.com/devrev/propstream/internal/model"
)

// MemoryPropertyStore implements PropertyStore and OutboxRepo using in-memory
// maps. It is used for local development without Postgres and by tests; a
// single mutex stands in for row-level locking, which preserves the same
// one-winner-per-version guarantee under concurrent writes.
type MemoryPropertyStore struct {
	mu              sync.Mutex
	properties      map[int64]*model.Property
	idempotencyKeys map[string]time.Time
	outbox          []model.OutboxEvent
	logger          *zap.Logger
}

// NewMemoryPropertyStore creates a new in-memory property store
func NewMemoryPropertyStore(logger *zap.Logger) *MemoryPropertyStore {
	return &MemoryPropertyStore{
		properties:      make(map[int64]*model.Property),
		idempotencyKeys: make(map[string]time.Time),
		outbox:          make([]model.OutboxEvent, 0),
		logger:          logger,
	}
}

// GetProperty retrieves a property by id
func (s *MemoryPropertyStore) GetProperty(ctx context.Context, id int64) (*model.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[id]
	if !ok {
		return nil, apperrors.ErrPropertyNotFound
	}

	copied := *p
	return &copied, nil
}

// CreateProperty inserts a new property row
func (s *MemoryPropertyStore) CreateProperty(ctx context.Context, p *model.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *p
	s.properties[p.ID] = &copied
	return nil
}

// UpdatePrice applies the write-coordination protocol under a single lock
func (s *MemoryPropertyStore) UpdatePrice(ctx context.Context, params UpdatePriceParams) (*model.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.idempotencyKeys[params.RequestID]; seen {
		return nil, apperrors.ErrDuplicateRequest
	}

	p, ok := s.properties[params.ID]
	if !ok {
		return nil, apperrors.ErrPropertyNotFound
	}

	if p.Version != params.ExpectedVersion {
		return nil, &apperrors.VersionConflictError{CurrentVersion: p.Version}
	}

	s.idempotencyKeys[params.RequestID] = time.Now()

	p.Price = params.NewPrice
	p.Version = params.ExpectedVersion + 1
	p.RegionOrigin = params.Region
	p.UpdatedAt = time.Now().UTC()

	s.outbox = append(s.outbox, model.OutboxEvent{
		EventID:    uuid.New().String(),
		PropertyID: p.ID,
		Payload:    model.EventFromProperty(p),
		CreatedAt:  time.Now(),
	})

	copied := *p
	return &copied, nil
}

// ApplyReplicated merges a remote write if its version is strictly newer
func (s *MemoryPropertyStore) ApplyReplicated(ctx context.Context, event model.ReplicationEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.properties[event.ID]
	if ok && existing.Version >= event.Version {
		return false, nil
	}

	s.properties[event.ID] = event.Property()
	return true, nil
}

// DeleteIdempotencyKeysBefore removes keys older than the retention cutoff
func (s *MemoryPropertyStore) DeleteIdempotencyKeysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, created := range s.idempotencyKeys {
		if created.Before(cutoff) {
			delete(s.idempotencyKeys, key)
			removed++
		}
	}

	return removed, nil
}

// Lock claims up to n unclaimed outbox events for the given owner
func (s *MemoryPropertyStore) Lock(ctx context.Context, n int, lockedBy string) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := make([]model.OutboxEvent, 0, n)
	for i := range s.outbox {
		if len(claimed) == n {
			break
		}
		if s.outbox[i].LockedBy != "" {
			continue
		}
		s.outbox[i].LockedBy = lockedBy
		claimed = append(claimed, s.outbox[i])
	}

	return claimed, nil
}

// Unlock returns events to the unclaimed pool
func (s *MemoryPropertyStore) Unlock(ctx context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := toSet(eventIDs)
	for i := range s.outbox {
		if ids[s.outbox[i].EventID] {
			s.outbox[i].LockedBy = ""
		}
	}

	return nil
}

// Remove deletes acknowledged events
func (s *MemoryPropertyStore) Remove(ctx context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := toSet(eventIDs)
	kept := s.outbox[:0]
	for _, ev := range s.outbox {
		if !ids[ev.EventID] {
			kept = append(kept, ev)
		}
	}
	s.outbox = kept

	return nil
}

// PendingCount returns the number of outbox events not yet published
func (s *MemoryPropertyStore) PendingCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.outbox)), nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryPropertyStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryPropertyStore) Close() {}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

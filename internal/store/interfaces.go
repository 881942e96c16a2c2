// Package store defines the transactional persistence contract for property
// records, idempotency keys and the replication outbox.
package store

import (
	"context"
	"time"

	"github.com/devrev/propstream/internal/model"
)

// UpdatePriceParams carries a single optimistic-concurrency write attempt.
type UpdatePriceParams struct {
	ID              int64
	RequestID       string
	ExpectedVersion int64
	NewPrice        float64
	Region          string
}

// PropertyStore is the transactional read/write contract for property state.
//
// UpdatePrice runs one atomic transaction: record the idempotency key, lock
// the row, check the expected version, apply the conditional update and stage
// the replication event in the outbox. It returns ErrDuplicateRequest,
// ErrPropertyNotFound or *VersionConflictError from the errors package as
// business outcomes; anything else is a store failure.
//
// ApplyReplicated performs the conditional merge used by the replication
// applier: insert if absent, overwrite all fields only when the incoming
// version is strictly greater than the stored one. It reports whether the
// row was mutated.
type PropertyStore interface {
	GetProperty(ctx context.Context, id int64) (*model.Property, error)
	CreateProperty(ctx context.Context, p *model.Property) error
	UpdatePrice(ctx context.Context, params UpdatePriceParams) (*model.Property, error)
	ApplyReplicated(ctx context.Context, event model.ReplicationEvent) (bool, error)
	DeleteIdempotencyKeysBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// OutboxRepo is the relay's view of pending replication events. Lock claims
// up to n unclaimed rows for the given owner, Remove acknowledges published
// rows, Unlock returns unpublished rows to the pool for a later attempt.
type OutboxRepo interface {
	Lock(ctx context.Context, n int, lockedBy string) ([]model.OutboxEvent, error)
	Unlock(ctx context.Context, eventIDs []string) error
	Remove(ctx context.Context, eventIDs []string) error
	PendingCount(ctx context.Context) (int64, error)
}

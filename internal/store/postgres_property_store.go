package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	apperrors "github.com/devrev/propstream/internal/errors"
	"github.com/devrev/propstream/internal/model"
)

const uniqueViolationCode = "23505"

// PostgresPropertyStore implements PropertyStore and OutboxRepo for PostgreSQL
type PostgresPropertyStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresPropertyStore creates a new PostgreSQL property store
func NewPostgresPropertyStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresPropertyStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresPropertyStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// GetProperty retrieves a property by id
func (s *PostgresPropertyStore) GetProperty(ctx context.Context, id int64) (*model.Property, error) {
	query := `
		SELECT id, price, bedrooms, bathrooms, region_origin, version, updated_at
		FROM properties
		WHERE id = $1
	`

	var p model.Property
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Price,
		&p.Bedrooms,
		&p.Bathrooms,
		&p.RegionOrigin,
		&p.Version,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrPropertyNotFound
		}
		return nil, fmt.Errorf("failed to get property: %w", err)
	}

	return &p, nil
}

// CreateProperty inserts a new property row
func (s *PostgresPropertyStore) CreateProperty(ctx context.Context, p *model.Property) error {
	query := `
		INSERT INTO properties (id, price, bedrooms, bathrooms, region_origin, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID,
		p.Price,
		p.Bedrooms,
		p.Bathrooms,
		p.RegionOrigin,
		p.Version,
		p.UpdatedAt,
	)

	return err
}

// UpdatePrice performs the full write-coordination transaction: idempotency
// insert, row lock, version check, conditional update and outbox staging.
// The outbox row commits or rolls back together with the property update.
func (s *PostgresPropertyStore) UpdatePrice(ctx context.Context, params UpdatePriceParams) (*model.Property, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO idempotency_keys (key, created_at) VALUES ($1, NOW())`,
		params.RequestID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrDuplicateRequest
		}
		return nil, fmt.Errorf("failed to record idempotency key: %w", err)
	}

	// Row lock serializes concurrent writers of the same id.
	var currentVersion int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM properties WHERE id = $1 FOR UPDATE`,
		params.ID,
	).Scan(&currentVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrPropertyNotFound
		}
		return nil, fmt.Errorf("failed to read property: %w", err)
	}

	if currentVersion != params.ExpectedVersion {
		return nil, &apperrors.VersionConflictError{CurrentVersion: currentVersion}
	}

	newVersion := params.ExpectedVersion + 1
	now := time.Now().UTC()

	// The version predicate guards against a race between the read and this
	// update under weaker isolation levels.
	var p model.Property
	err = tx.QueryRow(ctx,
		`UPDATE properties
		 SET price = $1, version = $2, region_origin = $3, updated_at = $4
		 WHERE id = $5 AND version = $6
		 RETURNING id, price, bedrooms, bathrooms, region_origin, version, updated_at`,
		params.NewPrice, newVersion, params.Region, now, params.ID, params.ExpectedVersion,
	).Scan(
		&p.ID,
		&p.Price,
		&p.Bedrooms,
		&p.Bathrooms,
		&p.RegionOrigin,
		&p.Version,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperrors.VersionConflictError{CurrentVersion: currentVersion}
		}
		return nil, fmt.Errorf("failed to update property: %w", err)
	}

	payload, err := json.Marshal(model.EventFromProperty(&p))
	if err != nil {
		return nil, fmt.Errorf("failed to encode replication event: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO replication_outbox (event_id, property_id, payload, created_at)
		 VALUES ($1, $2, $3, NOW())`,
		uuid.New().String(), p.ID, payload,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to stage replication event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit write transaction: %w", err)
	}

	return &p, nil
}

// ApplyReplicated merges a remote write: insert if absent, overwrite all
// fields only when the incoming version is strictly greater. Replaying the
// same or a lower version affects zero rows.
func (s *PostgresPropertyStore) ApplyReplicated(ctx context.Context, event model.ReplicationEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO properties (id, price, bedrooms, bathrooms, region_origin, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id)
		 DO UPDATE SET
			 price = EXCLUDED.price,
			 bedrooms = EXCLUDED.bedrooms,
			 bathrooms = EXCLUDED.bathrooms,
			 region_origin = EXCLUDED.region_origin,
			 version = EXCLUDED.version,
			 updated_at = EXCLUDED.updated_at
		 WHERE properties.version < EXCLUDED.version`,
		event.ID,
		event.Price,
		event.Bedrooms,
		event.Bathrooms,
		event.RegionOrigin,
		event.Version,
		event.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply replicated property: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteIdempotencyKeysBefore removes keys older than the retention cutoff
func (s *PostgresPropertyStore) DeleteIdempotencyKeysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency keys: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Lock claims up to n unclaimed outbox rows for the given owner. Rows locked
// more than a minute ago are reclaimed; their owner crashed before cleanup.
func (s *PostgresPropertyStore) Lock(ctx context.Context, n int, lockedBy string) ([]model.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE replication_outbox
		 SET locked_by = $1, locked_at = NOW()
		 WHERE event_id IN (
			 SELECT event_id FROM replication_outbox
			 WHERE locked_by IS NULL OR locked_at < NOW() - INTERVAL '1 minute'
			 ORDER BY created_at
			 LIMIT $2
			 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING event_id, property_id, payload, created_at`,
		lockedBy, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]model.OutboxEvent, 0)
	for rows.Next() {
		var (
			ev      model.OutboxEvent
			payload []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.PropertyID, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode outbox payload %s: %w", ev.EventID, err)
		}
		ev.LockedBy = lockedBy
		events = append(events, ev)
	}

	return events, rows.Err()
}

// Unlock returns unpublished outbox rows to the pool
func (s *PostgresPropertyStore) Unlock(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE replication_outbox SET locked_by = NULL, locked_at = NULL WHERE event_id = ANY($1)`,
		eventIDs,
	)
	return err
}

// Remove deletes outbox rows whose events were accepted by the log
func (s *PostgresPropertyStore) Remove(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`DELETE FROM replication_outbox WHERE event_id = ANY($1)`,
		eventIDs,
	)
	return err
}

// PendingCount returns the number of outbox rows not yet published
func (s *PostgresPropertyStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM replication_outbox`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ping checks the database connection
func (s *PostgresPropertyStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresPropertyStore) Close() {
	s.pool.Close()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

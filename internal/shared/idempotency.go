package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore remembers which entity a client request key produced.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Lookup returns the entity recorded for key within scope.
func (s *IdempotencyStore) Lookup(ctx context.Context, scope, key string) (int64, bool, error) {
	if s == nil || key == "" {
		return 0, false, nil
	}
	var entityID int64
	err := s.pool.QueryRow(ctx, `SELECT entity_id FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key).Scan(&entityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, WrapStorage("idempotency lookup", err)
	}
	return entityID, true, nil
}

// Remember records key as having produced entityID. The first writer wins.
func (s *IdempotencyStore) Remember(ctx context.Context, scope, key string, entityID int64) error {
	if s == nil || key == "" {
		return nil
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (scope, key, entity_id, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (scope, key) DO NOTHING`, scope, key, entityID, s.now())
	return WrapStorage("idempotency remember", err)
}

// Cleanup removes entries older than retention and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, WrapStorage("idempotency cleanup", err)
	}
	return tag.RowsAffected(), nil
}

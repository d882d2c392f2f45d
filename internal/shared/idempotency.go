package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/db"
)

// ErrIdempotencyConflict indicates the key was already claimed for the module.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore claims request keys in idempotency_keys so a replayed bulk
// decision is refused instead of applied twice.
type IdempotencyStore struct {
	db  dbtx
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db dbtx) *IdempotencyStore {
	return &IdempotencyStore{db: db, now: time.Now}
}

func checkKey(key, module string) error {
	switch {
	case key == "":
		return errors.New("idempotency key required")
	case module == "":
		return errors.New("idempotency module required")
	}
	return nil
}

// CheckAndInsert claims key for module, returning ErrIdempotencyConflict when it is taken.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if err := checkKey(key, module); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`,
		key, module, s.now().UTC())
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return ErrIdempotencyConflict
	default:
		return fmt.Errorf("claim idempotency key: %w", err)
	}
}

// Delete releases a claimed key so the caller may retry after an infrastructure failure.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	if err := checkKey(key, module); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND module = $2`, key, module)
	return err
}

// Cleanup drops keys claimed before the retention window and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	if olderThan <= 0 {
		return 0, errors.New("idempotency retention must be positive")
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

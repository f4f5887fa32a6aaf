package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const defaultTxAttempts = 3

// Store provides access to queries and transaction scoping.
type Store struct {
	db       *pgxpool.Pool
	queries  *Queries
	attempts int
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:       db,
		queries:  New(db),
		attempts: defaultTxAttempts,
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() Querier {
	return s.queries
}

// Pool exposes the underlying pool for components that manage their own
// statements, such as the idempotency store.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// RunInTx executes fn within a serializable transaction. Serialization
// failures and deadlocks are retried; once attempts run out the error wraps
// domain.ErrStaleState.
func (s *Store) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		zap.L().Debug("retrying serializable transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("%w: %v", domain.ErrStaleState, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	}
	return false
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransactionService drives manual and scheduled status changes.
type TransactionService struct {
	store     QueryStore
	audit     *AuditService
	callbacks CallbackQueue
	now       func() time.Time
}

func NewTransactionService(store QueryStore, callbacks CallbackQueue) *TransactionService {
	return &TransactionService{
		store:     store,
		audit:     NewAuditService(),
		callbacks: callbacks,
		now:       utcNow,
	}
}

// WithClock replaces the time source.
func (s *TransactionService) WithClock(now func() time.Time) *TransactionService {
	s.now = now
	return s
}

func (s *TransactionService) Get(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return s.store.Queries().GetTransaction(ctx, id)
}

// GetForMerchant hides transactions of other merchants behind ErrNotFound.
func (s *TransactionService) GetForMerchant(ctx context.Context, merchantID, id uuid.UUID) (models.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.MerchantID != merchantID {
		return models.Transaction{}, domain.ErrNotFound
	}
	return tx, nil
}

// Requisite returns the requisite assigned to tx, if any.
func (s *TransactionService) Requisite(ctx context.Context, tx models.Transaction) (*models.BankRequisite, error) {
	if tx.RequisiteID == nil {
		return nil, nil
	}
	r, err := s.store.Queries().GetRequisite(ctx, *tx.RequisiteID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Accept confirms payment manually, settling the reservation.
func (s *TransactionService) Accept(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Transaction, error) {
	return s.move(ctx, id, domain.StatusReady, actorID, "accepted_manually", nil, requireStatus(domain.StatusInProgress))
}

// Cancel releases the reservation of a CREATED or IN_PROGRESS transaction.
func (s *TransactionService) Cancel(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, reason string) (models.Transaction, error) {
	return s.move(ctx, id, domain.StatusCanceled, actorID, "canceled", reasonMeta(reason),
		requireStatus(domain.StatusCreated, domain.StatusInProgress))
}

// CancelForMerchant cancels on behalf of the owning merchant.
func (s *TransactionService) CancelForMerchant(ctx context.Context, merchantID, id uuid.UUID) (models.Transaction, error) {
	check := func(tx models.Transaction) error {
		if tx.MerchantID != merchantID {
			return domain.ErrNotFound
		}
		return requireStatus(domain.StatusCreated, domain.StatusInProgress)(tx)
	}
	return s.move(ctx, id, domain.StatusCanceled, nil, "canceled_by_merchant", nil, check)
}

// Expire moves an overdue IN_PROGRESS transaction to EXPIRED.
func (s *TransactionService) Expire(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return s.ExpireAt(ctx, id, s.now())
}

// ExpireAt is Expire judged at now, which is also the recorded transition
// time. Batch callers pass the instant they listed overdue rows with.
func (s *TransactionService) ExpireAt(ctx context.Context, id uuid.UUID, now time.Time) (models.Transaction, error) {
	check := func(tx models.Transaction) error {
		if tx.Status != domain.StatusInProgress {
			return fmt.Errorf("%w: transaction is %s", domain.ErrStaleState, tx.Status)
		}
		if !now.After(tx.ExpiresAt) {
			return fmt.Errorf("%w: transaction not expired yet", domain.ErrStaleState)
		}
		return nil
	}
	return s.moveAt(ctx, now, id, domain.StatusExpired, nil, "expired", nil, check)
}

// OpenDispute moves an IN_PROGRESS or READY transaction to DISPUTE.
func (s *TransactionService) OpenDispute(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, reason string) (models.Transaction, error) {
	return s.move(ctx, id, domain.StatusDispute, actorID, "dispute_opened", reasonMeta(reason),
		requireStatus(domain.StatusInProgress, domain.StatusReady))
}

// ResolveDispute closes a dispute as READY or CANCELED.
func (s *TransactionService) ResolveDispute(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, outcome domain.Status, reason string) (models.Transaction, error) {
	if outcome != domain.StatusReady && outcome != domain.StatusCanceled {
		return models.Transaction{}, fmt.Errorf("%w: dispute resolves to %s or %s", domain.ErrInvalidInput, domain.StatusReady, domain.StatusCanceled)
	}
	return s.move(ctx, id, outcome, actorID, "dispute_resolved", reasonMeta(reason), requireStatus(domain.StatusDispute))
}

// CallbackHistory lists delivery attempts for a merchant's transaction.
func (s *TransactionService) CallbackHistory(ctx context.Context, merchantID, id uuid.UUID) ([]models.CallbackHistory, error) {
	if _, err := s.GetForMerchant(ctx, merchantID, id); err != nil {
		return nil, err
	}
	return s.store.Queries().ListCallbackHistory(ctx, id)
}

func (s *TransactionService) move(ctx context.Context, id uuid.UUID, next domain.Status, actorID *uuid.UUID, action string, meta map[string]any, check func(models.Transaction) error) (models.Transaction, error) {
	return s.moveAt(ctx, s.now(), id, next, actorID, action, meta, check)
}

func (s *TransactionService) moveAt(ctx context.Context, now time.Time, id uuid.UUID, next domain.Status, actorID *uuid.UUID, action string, meta map[string]any, check func(models.Transaction) error) (models.Transaction, error) {
	var (
		result models.Transaction
		event  *Event
	)
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		event = nil
		current, err := q.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}

		updated, changed, err := applyTransition(ctx, q, s.audit, current, next, actorID, action, marshalMetadata(meta), now)
		if err != nil {
			return err
		}
		result = updated
		if changed {
			event = &Event{TransactionID: id, Prev: current.Status, Status: next, At: now}
		}
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	if event != nil {
		publish(s.callbacks, *event)
		zap.L().Info("transaction status changed",
			zap.String("transaction_id", id.String()),
			zap.String("from", event.Prev.String()),
			zap.String("to", event.Status.String()),
			zap.String("action", action),
		)
	}
	return result, nil
}

// requireStatus rejects transactions outside the allowed statuses, so a
// repeated accept or cancel fails instead of touching balances again.
func requireStatus(allowed ...domain.Status) func(models.Transaction) error {
	return func(tx models.Transaction) error {
		for _, st := range allowed {
			if tx.Status == st {
				return nil
			}
		}
		return fmt.Errorf("%w: transaction is %s", domain.ErrInvalidTransition, tx.Status)
	}
}

func reasonMeta(reason string) map[string]any {
	if reason == "" {
		return nil
	}
	return map[string]any{"reason": reason}
}

// IsConflict reports errors caused by the transaction having moved on.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrInvalidTransition)
}

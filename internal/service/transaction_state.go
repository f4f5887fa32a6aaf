package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/observability"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/google/uuid"
)

// transitionTransaction moves tx to next under a status guard and appends the
// audit row. Moving to the current status is a no-op and reports false.
func transitionTransaction(ctx context.Context, q repository.Querier, audit *AuditService, tx models.Transaction, next domain.Status, actorID *uuid.UUID, action string, metadata []byte, now time.Time) (models.Transaction, bool, error) {
	if tx.Status == next {
		return tx, false, nil
	}
	if !tx.Status.CanTransition(next) {
		return tx, false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, tx.Status, next)
	}

	params := repository.UpdateTransactionStatusParams{
		ID:        tx.ID,
		From:      tx.Status,
		To:        next,
		UpdatedAt: now,
	}
	if next == domain.StatusInProgress {
		params.AcceptedAt = &now
	}
	rows, err := q.UpdateTransactionStatus(ctx, params)
	if err != nil {
		return tx, false, fmt.Errorf("update transaction status: %w", err)
	}
	if err := requireExactlyOne(rows, "update transaction status"); err != nil {
		return tx, false, err
	}

	if err := audit.Write(ctx, q, domain.EntityTransaction, tx.ID, actorID, action, tx.Status.String(), next.String(), metadata); err != nil {
		return tx, false, err
	}

	tx.Status = next
	tx.UpdatedAt = now
	if params.AcceptedAt != nil {
		tx.AcceptedAt = params.AcceptedAt
	}
	return tx, true, nil
}

// applyTransition changes the status of tx together with the balance effect
// of the move:
//
//	-> READY              settle the reservation (once)
//	-> EXPIRED, CANCELED  release the reservation unless already settled
//	-> DISPUTE            balances untouched
//
// A dispute raised after settlement can only resolve back to READY.
func applyTransition(ctx context.Context, q repository.Querier, audit *AuditService, tx models.Transaction, next domain.Status, actorID *uuid.UUID, action string, metadata []byte, now time.Time) (models.Transaction, bool, error) {
	if tx.Status == domain.StatusDispute && next == domain.StatusCanceled && tx.Settled() {
		return tx, false, fmt.Errorf("%w: settled dispute can only resolve to %s", domain.ErrInvalidTransition, domain.StatusReady)
	}

	tx, changed, err := transitionTransaction(ctx, q, audit, tx, next, actorID, action, metadata, now)
	if err != nil || !changed {
		return tx, changed, err
	}

	switch next {
	case domain.StatusReady:
		tx, err = settle(ctx, q, tx, now)
	case domain.StatusExpired, domain.StatusCanceled:
		err = release(ctx, q, tx)
	}
	if err != nil {
		return tx, false, err
	}
	return tx, true, nil
}

// Event is a committed status change, published after the unit of work that
// produced it.
type Event struct {
	TransactionID uuid.UUID
	Prev          domain.Status
	Status        domain.Status
	At            time.Time
}

func publish(queue CallbackQueue, events ...Event) {
	for _, ev := range events {
		observability.IncrementTransition(ev.Prev.String(), ev.Status.String())
		if queue != nil {
			queue.Enqueue(ev)
		}
	}
}

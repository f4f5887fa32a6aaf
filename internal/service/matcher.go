package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/bankparse"
	"github.com/ayo6706/p2p-settlement/internal/config"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/observability"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MatcherService confirms incoming payments by matching bank notification
// text against IN_PROGRESS transactions of the device's trader.
type MatcherService struct {
	store     QueryStore
	settings  *config.SettingsHolder
	audit     *AuditService
	callbacks CallbackQueue
	now       func() time.Time
}

func NewMatcherService(store QueryStore, settings *config.SettingsHolder, callbacks CallbackQueue) *MatcherService {
	return &MatcherService{
		store:     store,
		settings:  settings,
		audit:     NewAuditService(),
		callbacks: callbacks,
		now:       utcNow,
	}
}

// WithClock replaces the time source.
func (s *MatcherService) WithClock(now func() time.Time) *MatcherService {
	s.now = now
	return s
}

// ProcessPending handles one batch of unprocessed notifications, oldest
// first, and returns how many were marked processed. A failing notification
// is recorded and never stops the batch.
func (s *MatcherService) ProcessPending(ctx context.Context) (int, error) {
	settings := s.settings.Load()
	pending, err := s.store.Queries().ListUnprocessedNotifications(ctx, settings.MatcherBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed notifications: %w", err)
	}

	processed := 0
	for _, n := range pending {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		reason, err := s.process(ctx, n, settings)
		switch {
		case err == nil:
			processed++
			observability.IncrementNotification(reason)
		case errors.Is(err, domain.ErrStaleState):
			zap.L().Debug("notification skipped, state moved on",
				zap.String("notification_id", n.ID.String()), zap.Error(err))
		default:
			zap.L().Error("notification processing failed",
				zap.String("notification_id", n.ID.String()), zap.Error(err))
			if s.finish(ctx, n, matchOutcome{reason: domain.ReasonError}) == nil {
				processed++
				observability.IncrementNotification(domain.ReasonError)
			}
		}
	}
	return processed, nil
}

type matchOutcome struct {
	reason        string
	bank          domain.BankType
	parsedAmount  *int64
	transactionID *uuid.UUID
}

func (s *MatcherService) process(ctx context.Context, n models.Notification, settings config.Settlement) (string, error) {
	queries := s.store.Queries()
	if n.DeviceID == nil {
		return domain.ReasonNoDevice, s.finish(ctx, n, matchOutcome{reason: domain.ReasonNoDevice})
	}
	device, err := queries.GetDevice(ctx, *n.DeviceID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ReasonNoDevice, s.finish(ctx, n, matchOutcome{reason: domain.ReasonNoDevice})
	}
	if err != nil {
		return "", fmt.Errorf("load device: %w", err)
	}

	bank, err := s.resolveBank(ctx, queries, n)
	if err != nil {
		return "", err
	}
	if bank == "" {
		return domain.ReasonUnknownBank, s.finish(ctx, n, matchOutcome{reason: domain.ReasonUnknownBank})
	}

	amount, err := bankparse.ExtractAmount(bank, n.Message)
	if err != nil {
		return domain.ReasonParseFailed, s.finish(ctx, n, matchOutcome{reason: domain.ReasonParseFailed, bank: bank})
	}
	parsed := domain.FromDecimal(amount)
	tolerance := domain.FromDecimal(settings.MatchTolerance)

	ts := n.Timestamp
	if ts.IsZero() {
		ts = n.CreatedAt
	}

	var event *Event
	reason := domain.ReasonNoMatchingTxn
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		event = nil
		reason = domain.ReasonNoMatchingTxn
		now := s.now()

		candidates, err := q.FindMatchCandidates(ctx, repository.MatchCandidateParams{
			TraderID:  device.TraderID,
			BankType:  bank,
			MinAmount: parsed - tolerance,
			MaxAmount: parsed + tolerance,
			From:      ts.Add(-settings.MatchLookback),
			To:        ts,
		})
		if err != nil {
			return fmt.Errorf("find match candidates: %w", err)
		}
		if len(candidates) == 0 {
			return markProcessed(ctx, q, n.ID, matchOutcome{reason: reason, bank: bank, parsedAmount: &parsed}, now)
		}

		tx := candidates[0]
		txID := tx.ID
		reason = domain.ReasonMatched
		if err := markProcessed(ctx, q, n.ID, matchOutcome{reason: reason, bank: bank, parsedAmount: &parsed, transactionID: &txID}, now); err != nil {
			return err
		}
		rows, err := q.LinkTransactionNotification(ctx, tx.ID, n.ID)
		if err != nil {
			return fmt.Errorf("link notification: %w", err)
		}
		if err := requireExactlyOne(rows, "link notification"); err != nil {
			return err
		}

		metadata := marshalMetadata(map[string]any{
			"notification_id": n.ID.String(),
			"parsed_amount":   amount.String(),
			"bank_type":       string(bank),
		})
		if _, _, err := applyTransition(ctx, q, s.audit, tx, domain.StatusReady, nil, "matched", metadata, now); err != nil {
			return err
		}
		event = &Event{TransactionID: tx.ID, Prev: tx.Status, Status: domain.StatusReady, At: now}
		return nil
	})
	if err != nil {
		return "", err
	}

	if event != nil {
		publish(s.callbacks, *event)
		zap.L().Info("notification matched",
			zap.String("notification_id", n.ID.String()),
			zap.String("transaction_id", event.TransactionID.String()),
			zap.String("amount", amount.String()),
		)
	}
	return reason, nil
}

// resolveBank tries the source package, then bank names in the text, then
// the single requisite bound to the device. It returns "" when unknown.
func (s *MatcherService) resolveBank(ctx context.Context, q repository.Querier, n models.Notification) (domain.BankType, error) {
	if b, ok := bankparse.BankFromPackage(n.PackageName); ok {
		return b, nil
	}
	if b, ok := bankparse.DetectBank(n.Message); ok {
		return b, nil
	}
	requisites, err := q.ListDeviceRequisites(ctx, *n.DeviceID)
	if err != nil {
		return "", fmt.Errorf("list device requisites: %w", err)
	}
	if len(requisites) == 1 {
		return requisites[0].BankType, nil
	}
	return "", nil
}

// finish marks n processed outside of a match.
func (s *MatcherService) finish(ctx context.Context, n models.Notification, out matchOutcome) error {
	return markProcessed(ctx, s.store.Queries(), n.ID, out, s.now())
}

func markProcessed(ctx context.Context, q repository.Querier, id uuid.UUID, out matchOutcome, now time.Time) error {
	rows, err := q.MarkNotificationProcessed(ctx, repository.MarkNotificationProcessedParams{
		ID:            id,
		Reason:        out.reason,
		ParsedAmount:  out.parsedAmount,
		BankType:      out.bank,
		TransactionID: out.transactionID,
		ProcessedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("mark notification processed: %w", err)
	}
	return requireExactlyOne(rows, "mark notification processed")
}

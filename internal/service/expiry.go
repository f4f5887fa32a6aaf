package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/config"
	"go.uber.org/zap"
)

// ExpiryService releases reservations of transactions whose payment window
// has passed without a match.
type ExpiryService struct {
	store        QueryStore
	settings     *config.SettingsHolder
	transactions *TransactionService
	now          func() time.Time
}

func NewExpiryService(store QueryStore, settings *config.SettingsHolder, transactions *TransactionService) *ExpiryService {
	return &ExpiryService{
		store:        store,
		settings:     settings,
		transactions: transactions,
		now:          utcNow,
	}
}

// WithClock replaces the time source. Overdue rows are listed and expired at
// the same instant of this clock.
func (s *ExpiryService) WithClock(now func() time.Time) *ExpiryService {
	s.now = now
	return s
}

// ExpireOverdue expires one batch of overdue IN_PROGRESS transactions. A
// transaction settled concurrently by the matcher is skipped.
func (s *ExpiryService) ExpireOverdue(ctx context.Context) (int, error) {
	batch := s.settings.Load().ExpiryBatchSize
	now := s.now()
	overdue, err := s.store.Queries().ListExpiredTransactions(ctx, now, batch)
	if err != nil {
		return 0, fmt.Errorf("list expired transactions: %w", err)
	}

	expired := 0
	for _, tx := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if _, err := s.transactions.ExpireAt(ctx, tx.ID, now); err != nil {
			if IsConflict(err) {
				zap.L().Debug("expiry skipped", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
				continue
			}
			zap.L().Error("expire transaction failed", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
			continue
		}
		expired++
	}
	if expired > 0 {
		zap.L().Info("expired overdue transactions", zap.Int("count", expired))
	}
	return expired, nil
}

package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/observability"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationService verifies that every trader's frozen balance equals
// the reservations still held by its unsettled transactions.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run reports imbalanced traders. It never corrects balances; an imbalance
// needs an operator.
func (s *ReconciliationService) Run(ctx context.Context) ([]repository.FrozenImbalance, error) {
	imbalances, err := s.store.Queries().ListFrozenImbalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list frozen imbalances: %w", err)
	}

	if len(imbalances) == 0 {
		zap.L().Debug("frozen balances reconciled")
		return nil, nil
	}
	for _, row := range imbalances {
		observability.IncrementFrozenImbalance()
		zap.L().Error("CRITICAL: trader frozen balance imbalance",
			zap.String("trader_id", row.TraderID.String()),
			zap.Stringer("frozen", domain.NewMoney(row.Frozen, domain.CurrencyUSDT)),
			zap.Stringer("held", domain.NewMoney(row.Held, domain.CurrencyUSDT)),
			zap.Stringer("drift", domain.NewMoney(row.Frozen-row.Held, domain.CurrencyUSDT)),
		)
	}
	return imbalances, nil
}

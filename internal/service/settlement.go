package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/repository"
)

// settle converts the reservation of tx into a debit of the trader's trust
// balance and credits the profit. The three balance changes are one guarded
// UPDATE; MarkTransactionSettled only succeeds once per transaction.
func settle(ctx context.Context, q repository.Querier, tx models.Transaction, now time.Time) (models.Transaction, error) {
	if tx.Settled() {
		return tx, nil
	}
	if tx.TraderID == nil {
		return tx, fmt.Errorf("%w: transaction %s has no trader", domain.ErrInvalidInput, tx.ID)
	}

	profit := domain.FromDecimal(domain.TraderProfit(domain.FromMicros(tx.Commission)))

	rows, err := q.MarkTransactionSettled(ctx, repository.MarkTransactionSettledParams{
		ID:           tx.ID,
		TraderProfit: profit,
		SettledAt:    now,
	})
	if err != nil {
		return tx, fmt.Errorf("mark transaction settled: %w", err)
	}
	if err := requireExactlyOne(rows, "mark transaction settled"); err != nil {
		return tx, err
	}

	rows, err = q.SettleTraderFunds(ctx, repository.SettleTraderFundsParams{
		TraderID: *tx.TraderID,
		Reserved: tx.Reserved(),
		Profit:   profit,
	})
	if err != nil {
		return tx, fmt.Errorf("settle trader funds: %w", err)
	}
	if err := requireExactlyOne(rows, "settle trader funds"); err != nil {
		return tx, err
	}

	tx.TraderProfit = profit
	tx.SettledAt = &now
	return tx, nil
}

// release returns the reservation of an unsettled transaction to the trader's
// available balance.
func release(ctx context.Context, q repository.Querier, tx models.Transaction) error {
	if tx.Settled() || tx.TraderID == nil || tx.Reserved() == 0 {
		return nil
	}
	rows, err := q.ReleaseTraderFunds(ctx, *tx.TraderID, tx.Reserved())
	if err != nil {
		return fmt.Errorf("release trader funds: %w", err)
	}
	return requireExactlyOne(rows, "release trader funds")
}

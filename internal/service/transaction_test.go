package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptSettlesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alloc := env.allocate(t, "10000")
	operator := uuid.New()

	tx, err := env.transactions.Accept(ctx, alloc.Transaction.ID, &operator)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, tx.Status)
	assert.Equal(t, micros("2.64"), tx.TraderProfit)

	trader := env.traderState(t, env.trader.ID)
	assert.Zero(t, trader.FrozenUsdt)
	assert.Equal(t, micros("892.09"), trader.TrustBalance)
	assert.Equal(t, micros("2.64"), trader.ProfitFromDeals)

	_, err = env.transactions.Accept(ctx, alloc.Transaction.ID, &operator)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, trader, env.traderState(t, env.trader.ID))

	audit := env.store.AuditLog()
	last := audit[len(audit)-1]
	assert.Equal(t, "accepted_manually", last.Action)
	assert.Equal(t, &operator, last.ActorID)
	require.NotNil(t, last.PrevState)
	assert.Equal(t, "IN_PROGRESS", *last.PrevState)
}

func TestCancelTerminalTransactionFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alloc := env.allocate(t, "1000")

	_, err := env.transactions.Cancel(ctx, alloc.Transaction.ID, nil, "")
	require.NoError(t, err)
	_, err = env.transactions.Cancel(ctx, alloc.Transaction.ID, nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.transactions.Accept(ctx, alloc.Transaction.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Zero(t, env.traderState(t, env.trader.ID).FrozenUsdt)
	assert.Len(t, env.queue.Events(), 1)
}

func TestCancelForMerchantHidesOtherMerchants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alloc := env.allocate(t, "1000")

	_, err := env.transactions.CancelForMerchant(ctx, uuid.New(), alloc.Transaction.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.transactions.GetForMerchant(ctx, uuid.New(), alloc.Transaction.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tx, err := env.transactions.CancelForMerchant(ctx, env.merchant.ID, alloc.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, tx.Status)
}

func TestDisputeResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("unsettled dispute canceled releases funds", func(t *testing.T) {
		env := newTestEnv(t)
		alloc := env.allocate(t, "10000")

		_, err := env.transactions.OpenDispute(ctx, alloc.Transaction.ID, nil, "customer claims payment")
		require.NoError(t, err)
		assert.Equal(t, micros("107.91"), env.traderState(t, env.trader.ID).FrozenUsdt)

		tx, err := env.transactions.ResolveDispute(ctx, alloc.Transaction.ID, nil, domain.StatusCanceled, "no payment found")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, tx.Status)

		trader := env.traderState(t, env.trader.ID)
		assert.Zero(t, trader.FrozenUsdt)
		assert.Equal(t, micros("1000"), trader.TrustBalance)
	})

	t.Run("unsettled dispute resolved ready settles", func(t *testing.T) {
		env := newTestEnv(t)
		alloc := env.allocate(t, "10000")

		_, err := env.transactions.OpenDispute(ctx, alloc.Transaction.ID, nil, "")
		require.NoError(t, err)
		_, err = env.transactions.ResolveDispute(ctx, alloc.Transaction.ID, nil, domain.StatusReady, "")
		require.NoError(t, err)

		trader := env.traderState(t, env.trader.ID)
		assert.Zero(t, trader.FrozenUsdt)
		assert.Equal(t, micros("892.09"), trader.TrustBalance)
		assert.Equal(t, micros("2.64"), trader.ProfitFromDeals)
	})

	t.Run("settled dispute only returns to ready", func(t *testing.T) {
		env := newTestEnv(t)
		alloc := env.allocate(t, "10000")
		_, err := env.transactions.Accept(ctx, alloc.Transaction.ID, nil)
		require.NoError(t, err)
		settled := env.traderState(t, env.trader.ID)

		_, err = env.transactions.OpenDispute(ctx, alloc.Transaction.ID, nil, "")
		require.NoError(t, err)

		_, err = env.transactions.ResolveDispute(ctx, alloc.Transaction.ID, nil, domain.StatusCanceled, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		tx, err := env.transactions.ResolveDispute(ctx, alloc.Transaction.ID, nil, domain.StatusReady, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReady, tx.Status)
		assert.Equal(t, settled, env.traderState(t, env.trader.ID))
	})

	t.Run("invalid outcome", func(t *testing.T) {
		env := newTestEnv(t)
		alloc := env.allocate(t, "10000")
		_, err := env.transactions.ResolveDispute(ctx, alloc.Transaction.ID, nil, domain.StatusExpired, "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("open disputes block allocation at the limit", func(t *testing.T) {
		env := newTestEnv(t)
		for _, amount := range []string{"1000", "1001", "1002", "1003", "1004"} {
			alloc := env.allocate(t, amount)
			_, err := env.transactions.OpenDispute(ctx, alloc.Transaction.ID, nil, "")
			require.NoError(t, err)
		}
		_, err := env.allocator.Allocate(ctx, env.request("2000"))
		assert.ErrorIs(t, err, domain.ErrNoRequisite)
	})
}

func TestExpireOverdue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alloc := env.allocate(t, "10000")
	accepted := env.allocate(t, "2000")
	_, err := env.transactions.Accept(ctx, accepted.Transaction.ID, nil)
	require.NoError(t, err)

	n, err := env.expiry.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.Advance(25 * time.Hour)
	n, err = env.expiry.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.StatusExpired, env.txState(t, alloc.Transaction.ID).Status)
	assert.Equal(t, domain.StatusReady, env.txState(t, accepted.Transaction.ID).Status)
	assert.Zero(t, env.traderState(t, env.trader.ID).FrozenUsdt)

	events := env.queue.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.StatusExpired, events[1].Status)
}

func TestExpireRejectsMovedTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alloc := env.allocate(t, "1000")

	_, err := env.transactions.Expire(ctx, alloc.Transaction.ID)
	assert.True(t, IsConflict(err), "not yet overdue: %v", err)

	_, err = env.transactions.Accept(ctx, alloc.Transaction.ID, nil)
	require.NoError(t, err)
	env.clock.Advance(48 * time.Hour)

	_, err = env.transactions.Expire(ctx, alloc.Transaction.ID)
	assert.ErrorIs(t, err, domain.ErrStaleState)
}

func TestAllocationWithExplicitExpiry(t *testing.T) {
	env := newTestEnv(t)
	req := env.request("1000")
	at := testStart.Add(15 * time.Minute)
	req.ExpiresAt = &at

	alloc, err := env.allocator.Allocate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, at, alloc.Transaction.ExpiresAt)
}

func TestSettlementCreditsReservedCommission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	before := env.traderState(t, env.trader.ID)
	alloc := env.allocate(t, "10000")
	require.Equal(t, micros("2.64"), alloc.Transaction.Commission)

	_, err := env.transactions.Accept(ctx, alloc.Transaction.ID, nil)
	require.NoError(t, err)

	after := env.traderState(t, env.trader.ID)
	assert.Equal(t, before.TrustBalance-alloc.Transaction.Reserved(), after.TrustBalance)
	assert.Equal(t, before.ProfitFromDeals+alloc.Transaction.Commission, after.ProfitFromDeals)
	assert.Equal(t, before.FrozenUsdt, after.FrozenUsdt)
}

func TestExpiryClockDecidesOverdue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alloc := env.allocate(t, "1000")

	// The transaction service clock stays at the allocation instant.
	later := testStart.Add(25 * time.Hour)
	expiry := NewExpiryService(env.store, env.settings, env.transactions).WithClock(func() time.Time { return later })

	n, err := expiry.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tx := env.txState(t, alloc.Transaction.ID)
	assert.Equal(t, domain.StatusExpired, tx.Status)
	assert.True(t, later.Equal(tx.UpdatedAt), "updated at %s", tx.UpdatedAt)
	assert.Zero(t, env.traderState(t, env.trader.ID).FrozenUsdt)
}

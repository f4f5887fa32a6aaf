package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tbankPackage = "com.idamob.tinkoff.android"

func (e *testEnv) notify(t *testing.T, token, pkg, text string) models.Notification {
	t.Helper()
	n, err := e.devices.SubmitNotification(context.Background(), NotificationInput{
		DeviceToken: token,
		Message:     text,
		Timestamp:   e.clock.Now(),
		PackageName: pkg,
	})
	require.NoError(t, err)
	return n
}

func (e *testEnv) notification(t *testing.T, id uuid.UUID) models.Notification {
	t.Helper()
	n, err := e.store.Queries().GetNotification(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestMatcherSettlesMatchedTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alloc := env.allocate(t, "3001")

	env.clock.Advance(5 * time.Minute)
	n := env.notify(t, "device-token", tbankPackage, "Пополнение, счет RUB. 3 001 ₽ от Иван И. Баланс: 5500.75 ₽")

	processed, err := env.matcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	tx := env.txState(t, alloc.Transaction.ID)
	assert.Equal(t, domain.StatusReady, tx.Status)
	require.NotNil(t, tx.MatchedNotificationID)
	assert.Equal(t, n.ID, *tx.MatchedNotificationID)
	assert.True(t, tx.Settled())
	assert.Equal(t, micros("0.79"), tx.TraderProfit)

	trader := env.traderState(t, env.trader.ID)
	assert.Zero(t, trader.FrozenUsdt)
	assert.Equal(t, micros("967.62"), trader.TrustBalance)
	assert.Equal(t, micros("0.79"), trader.ProfitFromDeals)

	got := env.notification(t, n.ID)
	assert.True(t, got.IsProcessed)
	assert.Equal(t, domain.ReasonMatched, got.ProcessedReason)
	assert.Equal(t, domain.BankTBank, got.BankType)
	require.NotNil(t, got.ParsedAmount)
	assert.Equal(t, micros("3001"), *got.ParsedAmount)
	assert.Equal(t, alloc.Transaction.ID, *got.TransactionID)

	events := env.queue.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusInProgress, events[0].Prev)
	assert.Equal(t, domain.StatusReady, events[0].Status)

	processed, err = env.matcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestMatcherSecondNotificationDoesNotSettleTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.allocate(t, "3001")
	env.clock.Advance(time.Minute)

	text := "Пополнение, счет RUB. 3001 ₽ от Иван И."
	first := env.notify(t, "device-token", tbankPackage, text)
	second := env.notify(t, "device-token", tbankPackage, text)

	processed, err := env.matcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	assert.Equal(t, domain.ReasonMatched, env.notification(t, first.ID).ProcessedReason)
	assert.Equal(t, domain.ReasonNoMatchingTxn, env.notification(t, second.ID).ProcessedReason)
	assert.Equal(t, micros("0.79"), env.traderState(t, env.trader.ID).ProfitFromDeals)
	assert.Len(t, env.queue.Events(), 1)
}

func TestMatcherToleranceAndFIFO(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addRequisite(t, env.trader.ID, domain.BankTBank, nil)

	older := env.allocate(t, "3000.50")
	env.clock.Advance(time.Minute)
	newer := env.allocate(t, "3001")
	env.clock.Advance(time.Minute)

	env.notify(t, "device-token", tbankPackage, "Пополнение, счет RUB. 3001 ₽ от Иван И.")
	_, err := env.matcher.ProcessPending(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusReady, env.txState(t, older.Transaction.ID).Status)
	assert.Equal(t, domain.StatusInProgress, env.txState(t, newer.Transaction.ID).Status)
}

func TestMatcherIgnoresTransactionsOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alloc := env.allocate(t, "3001")

	env.clock.Advance(3 * time.Hour)
	n := env.notify(t, "device-token", tbankPackage, "Пополнение, счет RUB. 3001 ₽ от Иван И.")

	_, err := env.matcher.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNoMatchingTxn, env.notification(t, n.ID).ProcessedReason)
	assert.Equal(t, domain.StatusInProgress, env.txState(t, alloc.Transaction.ID).Status)
}

func TestMatcherReasons(t *testing.T) {
	ctx := context.Background()

	t.Run("parse failed", func(t *testing.T) {
		env := newTestEnv(t)
		n := env.notify(t, "device-token", tbankPackage, "Вход в приложение")
		processed, err := env.matcher.ProcessPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, processed)
		got := env.notification(t, n.ID)
		assert.Equal(t, domain.ReasonParseFailed, got.ProcessedReason)
		assert.Equal(t, domain.BankTBank, got.BankType)
		assert.Nil(t, got.ParsedAmount)
	})

	t.Run("unknown device token", func(t *testing.T) {
		env := newTestEnv(t)
		n := env.notify(t, "nobody", tbankPackage, "Пополнение, счет RUB. 3001 ₽")
		assert.Nil(t, n.DeviceID)
		_, err := env.matcher.ProcessPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonNoDevice, env.notification(t, n.ID).ProcessedReason)
	})

	t.Run("unknown bank", func(t *testing.T) {
		env := newTestEnv(t)
		env.addDevice(t, env.trader.ID, "spare-device")
		n := env.notify(t, "spare-device", "com.example.sms", "Зачисление 3001 ₽")
		_, err := env.matcher.ProcessPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonUnknownBank, env.notification(t, n.ID).ProcessedReason)
	})

	t.Run("bank from the only bound requisite", func(t *testing.T) {
		env := newTestEnv(t)
		alloc := env.allocate(t, "1500")
		n := env.notify(t, "device-token", "com.example.sms", "Зачисление 1500 ₽")
		_, err := env.matcher.ProcessPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonMatched, env.notification(t, n.ID).ProcessedReason)
		assert.Equal(t, domain.StatusReady, env.txState(t, alloc.Transaction.ID).Status)
	})

	t.Run("store failure is recorded", func(t *testing.T) {
		env := newTestEnv(t)
		alloc := env.allocate(t, "3001")
		n := env.notify(t, "device-token", tbankPackage, "Пополнение, счет RUB. 3001 ₽")
		env.store.FailNext("FindMatchCandidates", errors.New("connection reset"))

		processed, err := env.matcher.ProcessPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, processed)
		assert.Equal(t, domain.ReasonError, env.notification(t, n.ID).ProcessedReason)
		assert.Equal(t, domain.StatusInProgress, env.txState(t, alloc.Transaction.ID).Status)
	})
}

func TestMatcherConcurrentRunsSettleOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		env := newTestEnv(t)
		ctx := context.Background()
		alloc := env.allocate(t, "3001")
		env.clock.Advance(time.Minute)
		n := env.notify(t, "device-token", tbankPackage, "Пополнение, счет RUB. 3001 ₽ от Иван И.")

		var (
			wg        sync.WaitGroup
			processed [2]int
			errs      [2]error
		)
		start := make(chan struct{})
		for i := range processed {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				processed[i], errs[i] = env.matcher.ProcessPending(ctx)
			}(i)
		}
		close(start)
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.Equal(t, 1, processed[0]+processed[1], "round %d", round)

		got := env.notification(t, n.ID)
		assert.Equal(t, domain.ReasonMatched, got.ProcessedReason)

		tx := env.txState(t, alloc.Transaction.ID)
		assert.Equal(t, domain.StatusReady, tx.Status)
		assert.True(t, tx.Settled())

		trader := env.traderState(t, env.trader.ID)
		assert.Zero(t, trader.FrozenUsdt)
		assert.Equal(t, micros("967.62"), trader.TrustBalance)
		assert.Equal(t, micros("0.79"), trader.ProfitFromDeals)
		assert.Len(t, env.queue.Events(), 1)
	}
}

func TestMatcherRacesExpiry(t *testing.T) {
	for round := 0; round < 20; round++ {
		env := newTestEnv(t)
		ctx := context.Background()
		alloc := env.allocate(t, "3001")
		env.clock.Advance(5 * time.Minute)
		n := env.notify(t, "device-token", tbankPackage, "Пополнение, счет RUB. 3001 ₽ от Иван И.")
		// The payment window has passed but the notification is inside it.
		env.clock.Advance(25 * time.Hour)

		var (
			wg        sync.WaitGroup
			matchErr  error
			expireErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, matchErr = env.matcher.ProcessPending(ctx)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, expireErr = env.transactions.Expire(ctx, alloc.Transaction.ID)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, matchErr)
		if expireErr != nil {
			assert.True(t, IsConflict(expireErr), "round %d: %v", round, expireErr)
		}

		tx := env.txState(t, alloc.Transaction.ID)
		trader := env.traderState(t, env.trader.ID)
		got := env.notification(t, n.ID)
		assert.Zero(t, trader.FrozenUsdt)
		assert.True(t, got.IsProcessed)

		switch tx.Status {
		case domain.StatusReady:
			assert.Error(t, expireErr, "round %d", round)
			assert.True(t, tx.Settled())
			assert.Equal(t, micros("967.62"), trader.TrustBalance)
			assert.Equal(t, micros("0.79"), trader.ProfitFromDeals)
			assert.Equal(t, domain.ReasonMatched, got.ProcessedReason)
		case domain.StatusExpired:
			assert.False(t, tx.Settled())
			assert.Equal(t, micros("1000"), trader.TrustBalance)
			assert.Zero(t, trader.ProfitFromDeals)
			assert.Equal(t, domain.ReasonNoMatchingTxn, got.ProcessedReason)
		default:
			t.Fatalf("round %d: unexpected status %s", round, tx.Status)
		}
		assert.Len(t, env.queue.Events(), 1)
	}
}

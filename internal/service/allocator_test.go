package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/rates"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateFreezesTraderFunds(t *testing.T) {
	env := newTestEnv(t)

	alloc := env.allocate(t, "10000")

	assert.True(t, decimal.NewFromInt(95).Equal(alloc.Freeze.AdjustedRate))
	assert.True(t, decimal.RequireFromString("105.27").Equal(alloc.Freeze.FrozenUsdt))
	assert.True(t, decimal.RequireFromString("2.64").Equal(alloc.Freeze.Commission))

	tx := env.txState(t, alloc.Transaction.ID)
	assert.Equal(t, domain.StatusInProgress, tx.Status)
	assert.Equal(t, env.requisite.ID, *tx.RequisiteID)
	assert.Equal(t, env.trader.ID, *tx.TraderID)
	assert.Equal(t, domain.BankTBank, tx.BankType)
	assert.Equal(t, micros("105.27"), tx.FrozenUsdt)
	assert.Equal(t, micros("2.64"), tx.Commission)
	assert.Equal(t, micros("2.5"), tx.FeePercent)
	assert.Equal(t, testStart.Add(24*time.Hour), tx.ExpiresAt)
	assert.Equal(t, int64(1), tx.Number)

	trader := env.traderState(t, env.trader.ID)
	assert.Equal(t, micros("107.91"), trader.FrozenUsdt)
	assert.Equal(t, micros("1000"), trader.TrustBalance)

	audit := env.store.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, "allocated", audit[0].Action)
	assert.Equal(t, tx.ID, audit[0].EntityID)
}

func TestAllocateRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate order", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.request("1000")
		_, err := env.allocator.Allocate(ctx, req)
		require.NoError(t, err)

		req.Amount = decimal.NewFromInt(2000)
		_, err = env.allocator.Allocate(ctx, req)
		assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	})

	t.Run("method not enabled for merchant", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.store.Queries().UpsertMerchantMethod(ctx, models.MerchantMethod{
			MerchantID: env.merchant.ID, MethodID: env.method.ID, Enabled: false,
		}))
		_, err := env.allocator.Allocate(ctx, env.request("1000"))
		assert.ErrorIs(t, err, domain.ErrMethodUnavailable)
	})

	t.Run("unknown method", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.request("1000")
		req.MethodCode = "sbp_rub"
		_, err := env.allocator.Allocate(ctx, req)
		assert.ErrorIs(t, err, domain.ErrMethodUnavailable)
	})

	t.Run("disabled merchant", func(t *testing.T) {
		env := newTestEnv(t)
		m, err := env.store.Queries().CreateMerchant(ctx, models.Merchant{ID: uuid.New(), Name: "off", APIKey: "off-key", Disabled: true})
		require.NoError(t, err)
		req := env.request("1000")
		req.MerchantID = m.ID
		_, err = env.allocator.Allocate(ctx, req)
		assert.ErrorIs(t, err, domain.ErrMerchantDisabled)
	})

	t.Run("invalid amount", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.allocator.Allocate(ctx, env.request("0"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("insufficient trust balance", func(t *testing.T) {
		env := newTestEnv(t)
		poor := env.addTrader(t, "50")
		require.NoError(t, env.store.Queries().UpsertTraderMerchant(ctx, models.TraderMerchant{
			TraderID: env.trader.ID, MerchantID: env.merchant.ID, MethodID: env.method.ID,
		}))
		env.addRequisite(t, poor.ID, domain.BankSberbank, nil)

		_, err := env.allocator.Allocate(ctx, env.request("10000"))
		assert.ErrorIs(t, err, domain.ErrNoRequisite)
		assert.Zero(t, env.traderState(t, poor.ID).FrozenUsdt)
	})

	t.Run("offline device", func(t *testing.T) {
		env := newTestEnv(t)
		env.clock.Advance(10 * time.Minute)
		n, err := env.devices.MarkStale(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		_, err = env.allocator.Allocate(ctx, env.request("1000"))
		assert.ErrorIs(t, err, domain.ErrNoRequisite)
	})
}

func TestAllocateSameAmountBlocksRequisite(t *testing.T) {
	env := newTestEnv(t)
	first := env.allocate(t, "5000")

	_, err := env.allocator.Allocate(context.Background(), env.request("5000"))
	require.ErrorIs(t, err, domain.ErrNoRequisite)

	_, err = env.transactions.Cancel(context.Background(), first.Transaction.ID, nil, "customer left")
	require.NoError(t, err)

	second := env.allocate(t, "5000")
	assert.Equal(t, env.requisite.ID, second.Requisite.ID)
}

func TestAllocateRoundRobin(t *testing.T) {
	env := newTestEnv(t)
	env.clock.Advance(time.Minute)
	other := env.addTrader(t, "1000")
	second := env.addRequisite(t, other.ID, domain.BankSberbank, nil)
	env.clock.Advance(time.Minute)

	var got []uuid.UUID
	for _, amount := range []string{"1000", "1001", "1002"} {
		got = append(got, env.allocate(t, amount).Requisite.ID)
		env.clock.Advance(time.Second)
	}

	assert.Equal(t, []uuid.UUID{env.requisite.ID, second.ID, env.requisite.ID}, got)
}

func TestAllocateConcurrentSameAmount(t *testing.T) {
	env := newTestEnv(t)

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.allocator.Allocate(context.Background(), env.request("3000"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, domain.ErrNoRequisite):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, workers-1, rejected)

	trader := env.traderState(t, env.trader.ID)
	freeze, err := domain.ComputeFreeze(domain.FreezeParams{
		AmountRub:  decimal.NewFromInt(3000),
		BaseRate:   decimal.NewFromInt(100),
		KKKPercent: decimal.NewFromInt(5),
		FeePercent: decimal.RequireFromString("2.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FromDecimal(freeze.Total()), trader.FrozenUsdt)
}

func TestAllocateCancelRestoresBalance(t *testing.T) {
	env := newTestEnv(t)
	alloc := env.allocate(t, "10000")

	tx, err := env.transactions.Cancel(context.Background(), alloc.Transaction.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, tx.Status)

	trader := env.traderState(t, env.trader.ID)
	assert.Zero(t, trader.FrozenUsdt)
	assert.Equal(t, micros("1000"), trader.TrustBalance)
	assert.Zero(t, trader.ProfitFromDeals)
}

func TestCandidateFilters(t *testing.T) {
	deviceID := uuid.New()
	base := func() models.RequisiteCandidate {
		return models.RequisiteCandidate{
			Requisite: models.BankRequisite{
				ID:        uuid.New(),
				MinAmount: micros("100"),
				MaxAmount: micros("50000"),
				DeviceID:  &deviceID,
			},
			Trader: models.Trader{
				ID:             uuid.New(),
				TrustBalance:   micros("1000"),
				Deposit:        micros("1000"),
				TrafficEnabled: true,
				DisputeLimit:   3,
			},
			Device:     &models.Device{ID: deviceID, IsOnline: true, IsWorking: true},
			Connection: &models.TraderMerchant{IsMerchantEnabled: true, IsFeeInEnabled: true},
		}
	}
	in := filterInput{direction: domain.DirectionIn, amount: micros("5000"), minDeposit: micros("1000")}

	cases := []struct {
		name   string
		mutate func(c *models.RequisiteCandidate, in *filterInput)
		keep   bool
	}{
		{"eligible", func(*models.RequisiteCandidate, *filterInput) {}, true},
		{"banned trader", func(c *models.RequisiteCandidate, _ *filterInput) { c.Trader.Banned = true }, false},
		{"traffic disabled", func(c *models.RequisiteCandidate, _ *filterInput) { c.Trader.TrafficEnabled = false }, false},
		{"deposit below minimum", func(c *models.RequisiteCandidate, _ *filterInput) { c.Trader.Deposit = micros("999.99") }, false},
		{"no device bound", func(c *models.RequisiteCandidate, _ *filterInput) { c.Requisite.DeviceID = nil; c.Device = nil }, true},
		{"device missing", func(c *models.RequisiteCandidate, _ *filterInput) { c.Device = nil }, false},
		{"device offline", func(c *models.RequisiteCandidate, _ *filterInput) { c.Device.IsOnline = false }, false},
		{"device not working", func(c *models.RequisiteCandidate, _ *filterInput) { c.Device.IsWorking = false }, false},
		{"no connection", func(c *models.RequisiteCandidate, _ *filterInput) { c.Connection = nil }, false},
		{"merchant disabled on connection", func(c *models.RequisiteCandidate, _ *filterInput) { c.Connection.IsMerchantEnabled = false }, false},
		{"fee in disabled", func(c *models.RequisiteCandidate, _ *filterInput) { c.Connection.IsFeeInEnabled = false }, false},
		{"out needs fee out", func(c *models.RequisiteCandidate, in *filterInput) { in.direction = domain.DirectionOut }, false},
		{"out with fee out", func(c *models.RequisiteCandidate, in *filterInput) {
			in.direction = domain.DirectionOut
			c.Connection.IsFeeOutEnabled = true
		}, true},
		{"below requisite min", func(_ *models.RequisiteCandidate, in *filterInput) { in.amount = micros("99") }, false},
		{"above requisite max", func(_ *models.RequisiteCandidate, in *filterInput) { in.amount = micros("50001") }, false},
		{"requisite max unlimited", func(c *models.RequisiteCandidate, in *filterInput) {
			c.Requisite.MaxAmount = 0
			in.amount = micros("900000")
		}, true},
		{"above trader per requisite max", func(c *models.RequisiteCandidate, _ *filterInput) { c.Trader.MaxAmountPerRequisite = micros("4000") }, false},
		{"below trader per requisite min", func(c *models.RequisiteCandidate, _ *filterInput) { c.Trader.MinAmountPerRequisite = micros("6000") }, false},
		{"dispute limit reached", func(c *models.RequisiteCandidate, _ *filterInput) { c.OpenDisputes = 3 }, false},
		{"dispute limit zero", func(c *models.RequisiteCandidate, _ *filterInput) { c.Trader.DisputeLimit = 0 }, false},
		{"same amount active", func(c *models.RequisiteCandidate, _ *filterInput) { c.SameAmountActive = true }, false},
		{"max transactions reached", func(c *models.RequisiteCandidate, _ *filterInput) {
			c.Requisite.MaxTransactions = 2
			c.DailyCount = 2
		}, false},
		{"max transactions left", func(c *models.RequisiteCandidate, _ *filterInput) {
			c.Requisite.MaxTransactions = 2
			c.DailyCount = 1
		}, true},
		{"daily limit exceeded", func(c *models.RequisiteCandidate, _ *filterInput) {
			c.Requisite.DailyLimit = micros("10000")
			c.DailyTurnover = micros("5000.01")
		}, false},
		{"daily limit exactly reached", func(c *models.RequisiteCandidate, _ *filterInput) {
			c.Requisite.DailyLimit = micros("10000")
			c.DailyTurnover = micros("5000")
		}, true},
		{"monthly limit exceeded", func(c *models.RequisiteCandidate, _ *filterInput) {
			c.Requisite.MonthlyLimit = micros("100000")
			c.MonthlyTurnover = micros("96000")
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			fin := in
			tc.mutate(&c, &fin)
			got := filterCandidates([]models.RequisiteCandidate{c}, fin)
			if tc.keep {
				assert.Len(t, got, 1)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

// contestedStore makes the guarded freeze or rotation of one trader lose, as
// if a concurrent writer got there first.
type contestedStore struct {
	QueryStore
	trader     uuid.UUID
	loseFreeze bool
	loseRotate bool
}

func (s *contestedStore) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return s.QueryStore.RunInTx(ctx, func(q repository.Querier) error {
		return fn(&contestedQuerier{Querier: q, store: s})
	})
}

type contestedQuerier struct {
	repository.Querier
	store *contestedStore
}

func (q *contestedQuerier) FreezeTraderFunds(ctx context.Context, traderID uuid.UUID, amount int64) (int64, error) {
	if q.store.loseFreeze && traderID == q.store.trader {
		return 0, nil
	}
	return q.Querier.FreezeTraderFunds(ctx, traderID, amount)
}

func (q *contestedQuerier) TouchRequisite(ctx context.Context, id uuid.UUID, prev, now time.Time) (int64, error) {
	if q.store.loseRotate {
		r, err := q.Querier.GetRequisite(ctx, id)
		if err != nil {
			return 0, err
		}
		if r.TraderID == q.store.trader {
			return 0, nil
		}
	}
	return q.Querier.TouchRequisite(ctx, id, prev, now)
}

func TestAllocateSkippedCandidateLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name       string
		loseFreeze bool
		loseRotate bool
	}{
		{name: "freeze lost", loseFreeze: true},
		{name: "rotation lost", loseRotate: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.clock.Advance(time.Minute)
			other := env.addTrader(t, "1000")
			otherRequisite := env.addRequisite(t, other.ID, domain.BankTBank, nil)

			// env.requisite is older, so it is tried first and lost.
			store := &contestedStore{QueryStore: env.store, trader: env.trader.ID, loseFreeze: tt.loseFreeze, loseRotate: tt.loseRotate}
			allocator := NewAllocatorService(store, rates.NewStatic(decimal.NewFromInt(100)), env.settings).WithClock(env.clock.Now)

			alloc, err := allocator.Allocate(context.Background(), env.request("10000"))
			require.NoError(t, err)
			assert.Equal(t, otherRequisite.ID, alloc.Requisite.ID)

			skipped, err := env.store.Queries().GetRequisite(context.Background(), env.requisite.ID)
			require.NoError(t, err)
			assert.True(t, env.requisite.UpdatedAt.Equal(skipped.UpdatedAt))
			assert.Zero(t, env.traderState(t, env.trader.ID).FrozenUsdt)
			assert.Equal(t, domain.FromDecimal(alloc.Freeze.Total()), env.traderState(t, other.ID).FrozenUsdt)
		})
	}
}

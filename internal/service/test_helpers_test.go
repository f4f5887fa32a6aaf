package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/config"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/rates"
	"github.com/ayo6706/p2p-settlement/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingQueue captures published events instead of delivering them.
type recordingQueue struct {
	mu     sync.Mutex
	events []Event
}

func (q *recordingQueue) Enqueue(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return true
}

func (q *recordingQueue) Events() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Event(nil), q.events...)
}

// testEnv is a merchant, a card method and one trader with a single TBANK
// requisite bound to an online device, wired to services over a memstore.
type testEnv struct {
	store    *memstore.Store
	settings *config.SettingsHolder
	clock    *fakeClock
	queue    *recordingQueue

	merchant  models.Merchant
	method    models.Method
	trader    models.Trader
	device    models.Device
	requisite models.BankRequisite

	allocator    *AllocatorService
	transactions *TransactionService
	matcher      *MatcherService
	expiry       *ExpiryService
	devices      *DeviceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{
		store:    memstore.New(),
		settings: config.NewSettingsHolder(config.DefaultSettlement()),
		clock:    newFakeClock(),
		queue:    &recordingQueue{},
	}
	q := env.store.Queries()

	var err error
	env.merchant, err = q.CreateMerchant(ctx, models.Merchant{
		ID: uuid.New(), Name: "shop", APIKey: "merchant-key", CallbackSecret: "s3cret", CreatedAt: testStart,
	})
	require.NoError(t, err)

	env.method, err = q.CreateMethod(ctx, models.Method{
		ID:           uuid.New(),
		Code:         "card_rub",
		Type:         domain.MethodTypeCard,
		KKKPercent:   domain.FromDecimal(decimal.NewFromInt(5)),
		KKKOperation: domain.KKKMinus,
		Enabled:      true,
	})
	require.NoError(t, err)
	require.NoError(t, q.UpsertMerchantMethod(ctx, models.MerchantMethod{MerchantID: env.merchant.ID, MethodID: env.method.ID, Enabled: true}))

	env.trader = env.addTrader(t, "1000")
	env.device = env.addDevice(t, env.trader.ID, "device-token")
	env.requisite = env.addRequisite(t, env.trader.ID, domain.BankTBank, &env.device.ID)

	env.transactions = NewTransactionService(env.store, env.queue).WithClock(env.clock.Now)
	env.allocator = NewAllocatorService(env.store, rates.NewStatic(decimal.NewFromInt(100)), env.settings).WithClock(env.clock.Now)
	env.matcher = NewMatcherService(env.store, env.settings, env.queue).WithClock(env.clock.Now)
	env.expiry = NewExpiryService(env.store, env.settings, env.transactions).WithClock(env.clock.Now)
	env.devices = NewDeviceService(env.store, env.settings).WithClock(env.clock.Now)
	return env
}

// addTrader creates a trader with the given trust balance, connected to the
// env merchant with a 2.5% incoming fee.
func (e *testEnv) addTrader(t *testing.T, trust string) models.Trader {
	t.Helper()
	ctx := context.Background()
	q := e.store.Queries()

	trader, err := q.CreateTrader(ctx, models.Trader{
		ID:             uuid.New(),
		Name:           "trader",
		Deposit:        domain.FromDecimal(decimal.NewFromInt(1000)),
		TrafficEnabled: true,
		DisputeLimit:   5,
	})
	require.NoError(t, err)
	rows, err := q.CreditTraderTrust(ctx, trader.ID, domain.FromDecimal(decimal.RequireFromString(trust)))
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	require.NoError(t, q.UpsertTraderMerchant(ctx, models.TraderMerchant{
		TraderID:          trader.ID,
		MerchantID:        e.merchant.ID,
		MethodID:          e.method.ID,
		IsMerchantEnabled: true,
		IsFeeInEnabled:    true,
		FeeIn:             domain.FromDecimal(decimal.RequireFromString("2.5")),
	}))
	trader, err = q.GetTrader(ctx, trader.ID)
	require.NoError(t, err)
	return trader
}

func (e *testEnv) addDevice(t *testing.T, traderID uuid.UUID, token string) models.Device {
	t.Helper()
	active := testStart
	d, err := e.store.Queries().CreateDevice(context.Background(), models.Device{
		ID: uuid.New(), TraderID: traderID, Token: token, Name: "pixel", IsOnline: true, IsWorking: true, LastActiveAt: &active,
	})
	require.NoError(t, err)
	return d
}

func (e *testEnv) addRequisite(t *testing.T, traderID uuid.UUID, bank domain.BankType, deviceID *uuid.UUID) models.BankRequisite {
	t.Helper()
	r, err := e.store.Queries().CreateRequisite(context.Background(), models.BankRequisite{
		ID:            uuid.New(),
		TraderID:      traderID,
		MethodType:    domain.MethodTypeCard,
		BankType:      bank,
		CardNumber:    "4111111111111111",
		RecipientName: "Ivan I.",
		MinAmount:     domain.FromDecimal(decimal.NewFromInt(100)),
		MaxAmount:     domain.FromDecimal(decimal.NewFromInt(100000)),
		IsActive:      true,
		DeviceID:      deviceID,
		CreatedAt:     e.clock.Now(),
	})
	require.NoError(t, err)
	return r
}

func (e *testEnv) allocate(t *testing.T, amount string) *Allocation {
	t.Helper()
	alloc, err := e.allocator.Allocate(context.Background(), e.request(amount))
	require.NoError(t, err)
	return alloc
}

func (e *testEnv) request(amount string) AllocationRequest {
	return AllocationRequest{
		MerchantID:  e.merchant.ID,
		MethodCode:  e.method.Code,
		Direction:   domain.DirectionIn,
		Amount:      decimal.RequireFromString(amount),
		OrderID:     uuid.NewString(),
		CallbackURL: "http://merchant.test/callback",
	}
}

func (e *testEnv) traderState(t *testing.T, id uuid.UUID) models.Trader {
	t.Helper()
	trader, err := e.store.Queries().GetTrader(context.Background(), id)
	require.NoError(t, err)
	return trader
}

func (e *testEnv) txState(t *testing.T, id uuid.UUID) models.Transaction {
	t.Helper()
	tx, err := e.store.Queries().GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func micros(s string) int64 {
	return domain.FromDecimal(decimal.RequireFromString(s))
}

// Package memstore is an in-memory implementation of repository.Querier used
// by service and API tests. Transactions are serialized behind one mutex and
// roll back by restoring a snapshot.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type mmKey struct{ merchant, method uuid.UUID }

type tmKey struct{ trader, merchant, method uuid.UUID }

type state struct {
	merchants       map[uuid.UUID]models.Merchant
	methods         map[uuid.UUID]models.Method
	merchantMethods map[mmKey]models.MerchantMethod
	traders         map[uuid.UUID]models.Trader
	traderMerchants map[tmKey]models.TraderMerchant
	devices         map[uuid.UUID]models.Device
	requisites      map[uuid.UUID]models.BankRequisite
	transactions    map[uuid.UUID]models.Transaction
	notifications   map[uuid.UUID]models.Notification
	notificationSeq map[uuid.UUID]int64
	callbacks       []models.CallbackHistory
	audit           []repository.InsertAuditLogParams
	seq             int64
}

func newState() *state {
	return &state{
		merchants:       map[uuid.UUID]models.Merchant{},
		methods:         map[uuid.UUID]models.Method{},
		merchantMethods: map[mmKey]models.MerchantMethod{},
		traders:         map[uuid.UUID]models.Trader{},
		traderMerchants: map[tmKey]models.TraderMerchant{},
		devices:         map[uuid.UUID]models.Device{},
		requisites:      map[uuid.UUID]models.BankRequisite{},
		transactions:    map[uuid.UUID]models.Transaction{},
		notifications:   map[uuid.UUID]models.Notification{},
		notificationSeq: map[uuid.UUID]int64{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		merchants:       cloneMap(s.merchants),
		methods:         cloneMap(s.methods),
		merchantMethods: cloneMap(s.merchantMethods),
		traders:         cloneMap(s.traders),
		traderMerchants: cloneMap(s.traderMerchants),
		devices:         cloneMap(s.devices),
		requisites:      cloneMap(s.requisites),
		transactions:    cloneMap(s.transactions),
		notifications:   cloneMap(s.notifications),
		notificationSeq: cloneMap(s.notificationSeq),
		callbacks:       append([]models.CallbackHistory(nil), s.callbacks...),
		audit:           append([]repository.InsertAuditLogParams(nil), s.audit...),
		seq:             s.seq,
	}
}

// Store satisfies the QueryStore contract of the service package.
type Store struct {
	mu     sync.Mutex
	st     *state
	failOn map[string]error
}

func New() *Store {
	return &Store{st: newState(), failOn: map[string]error{}}
}

func (s *Store) Queries() repository.Querier {
	return &querier{s: s}
}

// RunInTx runs fn with exclusive access. Any error restores the state seen
// before fn started.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(&querier{s: s, inTx: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// FailNext makes the next call of the named Querier method return err.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[method] = err
}

// AuditLog returns a copy of all audit rows written so far.
func (s *Store) AuditLog() []repository.InsertAuditLogParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.InsertAuditLogParams(nil), s.st.audit...)
}

type querier struct {
	s    *Store
	inTx bool
}

// guard locks the store for a single statement outside of RunInTx and
// reports an injected failure for method, if any.
func (q *querier) guard(method string) (func(), error) {
	unlock := func() {}
	if !q.inTx {
		q.s.mu.Lock()
		unlock = q.s.mu.Unlock
	}
	if err, ok := q.s.failOn[method]; ok {
		delete(q.s.failOn, method)
		return unlock, err
	}
	return unlock, nil
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func (q *querier) CreateMerchant(_ context.Context, m models.Merchant) (models.Merchant, error) {
	unlock, err := q.guard("CreateMerchant")
	defer unlock()
	if err != nil {
		return models.Merchant{}, err
	}
	for _, existing := range q.s.st.merchants {
		if existing.APIKey == m.APIKey {
			return models.Merchant{}, uniqueViolation("merchants_api_key_key")
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	q.s.st.merchants[m.ID] = m
	return m, nil
}

func (q *querier) GetMerchant(_ context.Context, id uuid.UUID) (models.Merchant, error) {
	unlock, err := q.guard("GetMerchant")
	defer unlock()
	if err != nil {
		return models.Merchant{}, err
	}
	m, ok := q.s.st.merchants[id]
	if !ok {
		return models.Merchant{}, domain.ErrNotFound
	}
	return m, nil
}

func (q *querier) GetMerchantByAPIKey(_ context.Context, apiKey string) (models.Merchant, error) {
	unlock, err := q.guard("GetMerchantByAPIKey")
	defer unlock()
	if err != nil {
		return models.Merchant{}, err
	}
	for _, m := range q.s.st.merchants {
		if m.APIKey == apiKey {
			return m, nil
		}
	}
	return models.Merchant{}, domain.ErrNotFound
}

func (q *querier) CreateMethod(_ context.Context, m models.Method) (models.Method, error) {
	unlock, err := q.guard("CreateMethod")
	defer unlock()
	if err != nil {
		return models.Method{}, err
	}
	for _, existing := range q.s.st.methods {
		if existing.Code == m.Code {
			return models.Method{}, uniqueViolation("methods_code_key")
		}
	}
	if m.KKKOperation == "" {
		m.KKKOperation = domain.KKKMinus
	}
	q.s.st.methods[m.ID] = m
	return m, nil
}

func (q *querier) GetMethod(_ context.Context, id uuid.UUID) (models.Method, error) {
	unlock, err := q.guard("GetMethod")
	defer unlock()
	if err != nil {
		return models.Method{}, err
	}
	m, ok := q.s.st.methods[id]
	if !ok {
		return models.Method{}, domain.ErrNotFound
	}
	return m, nil
}

func (q *querier) GetMethodByCode(_ context.Context, code string) (models.Method, error) {
	unlock, err := q.guard("GetMethodByCode")
	defer unlock()
	if err != nil {
		return models.Method{}, err
	}
	for _, m := range q.s.st.methods {
		if m.Code == code {
			return m, nil
		}
	}
	return models.Method{}, domain.ErrNotFound
}

func (q *querier) UpsertMerchantMethod(_ context.Context, mm models.MerchantMethod) error {
	unlock, err := q.guard("UpsertMerchantMethod")
	defer unlock()
	if err != nil {
		return err
	}
	q.s.st.merchantMethods[mmKey{mm.MerchantID, mm.MethodID}] = mm
	return nil
}

func (q *querier) GetMerchantMethod(_ context.Context, merchantID, methodID uuid.UUID) (models.MerchantMethod, error) {
	unlock, err := q.guard("GetMerchantMethod")
	defer unlock()
	if err != nil {
		return models.MerchantMethod{}, err
	}
	mm, ok := q.s.st.merchantMethods[mmKey{merchantID, methodID}]
	if !ok {
		return models.MerchantMethod{}, domain.ErrNotFound
	}
	return mm, nil
}

func (q *querier) CreateTrader(_ context.Context, t models.Trader) (models.Trader, error) {
	unlock, err := q.guard("CreateTrader")
	defer unlock()
	if err != nil {
		return models.Trader{}, err
	}
	t.FrozenUsdt = 0
	t.ProfitFromDeals = 0
	q.s.st.traders[t.ID] = t
	return t, nil
}

func (q *querier) GetTrader(_ context.Context, id uuid.UUID) (models.Trader, error) {
	unlock, err := q.guard("GetTrader")
	defer unlock()
	if err != nil {
		return models.Trader{}, err
	}
	t, ok := q.s.st.traders[id]
	if !ok {
		return models.Trader{}, domain.ErrNotFound
	}
	return t, nil
}

func (q *querier) UpsertTraderMerchant(_ context.Context, tm models.TraderMerchant) error {
	unlock, err := q.guard("UpsertTraderMerchant")
	defer unlock()
	if err != nil {
		return err
	}
	q.s.st.traderMerchants[tmKey{tm.TraderID, tm.MerchantID, tm.MethodID}] = tm
	return nil
}

// updateTrader applies fn to the trader when cond holds, mirroring a guarded
// UPDATE ... WHERE.
func (q *querier) updateTrader(method string, id uuid.UUID, cond func(models.Trader) bool, fn func(*models.Trader)) (int64, error) {
	unlock, err := q.guard(method)
	defer unlock()
	if err != nil {
		return 0, err
	}
	t, ok := q.s.st.traders[id]
	if !ok || !cond(t) {
		return 0, nil
	}
	fn(&t)
	if t.FrozenUsdt < 0 || t.FrozenUsdt > t.TrustBalance {
		return 0, &pgconn.PgError{Code: "23514", ConstraintName: "traders_frozen_bounds"}
	}
	q.s.st.traders[id] = t
	return 1, nil
}

func (q *querier) CreditTraderTrust(_ context.Context, traderID uuid.UUID, amount int64) (int64, error) {
	return q.updateTrader("CreditTraderTrust", traderID,
		func(t models.Trader) bool { return t.TrustBalance+amount >= t.FrozenUsdt },
		func(t *models.Trader) { t.TrustBalance += amount },
	)
}

func (q *querier) FreezeTraderFunds(_ context.Context, traderID uuid.UUID, amount int64) (int64, error) {
	return q.updateTrader("FreezeTraderFunds", traderID,
		func(t models.Trader) bool { return t.TrustBalance-t.FrozenUsdt >= amount },
		func(t *models.Trader) { t.FrozenUsdt += amount },
	)
}

func (q *querier) ReleaseTraderFunds(_ context.Context, traderID uuid.UUID, amount int64) (int64, error) {
	return q.updateTrader("ReleaseTraderFunds", traderID,
		func(t models.Trader) bool { return t.FrozenUsdt >= amount },
		func(t *models.Trader) { t.FrozenUsdt -= amount },
	)
}

func (q *querier) SettleTraderFunds(_ context.Context, arg repository.SettleTraderFundsParams) (int64, error) {
	return q.updateTrader("SettleTraderFunds", arg.TraderID,
		func(t models.Trader) bool { return t.FrozenUsdt >= arg.Reserved && t.TrustBalance >= arg.Reserved },
		func(t *models.Trader) {
			t.FrozenUsdt -= arg.Reserved
			t.TrustBalance -= arg.Reserved
			t.ProfitFromDeals += arg.Profit
		},
	)
}

func (q *querier) ListFrozenImbalances(_ context.Context) ([]repository.FrozenImbalance, error) {
	unlock, err := q.guard("ListFrozenImbalances")
	defer unlock()
	if err != nil {
		return nil, err
	}
	held := map[uuid.UUID]int64{}
	for _, t := range q.s.st.transactions {
		if t.TraderID == nil || t.SettledAt != nil {
			continue
		}
		if t.Status == domain.StatusInProgress || t.Status == domain.StatusDispute {
			held[*t.TraderID] += t.Reserved()
		}
	}
	var items []repository.FrozenImbalance
	for id, t := range q.s.st.traders {
		if t.FrozenUsdt != held[id] {
			items = append(items, repository.FrozenImbalance{TraderID: id, Frozen: t.FrozenUsdt, Held: held[id]})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TraderID.String() < items[j].TraderID.String() })
	return items, nil
}

func (q *querier) CreateDevice(_ context.Context, d models.Device) (models.Device, error) {
	unlock, err := q.guard("CreateDevice")
	defer unlock()
	if err != nil {
		return models.Device{}, err
	}
	for _, existing := range q.s.st.devices {
		if existing.Token == d.Token {
			return models.Device{}, uniqueViolation("devices_token_key")
		}
	}
	q.s.st.devices[d.ID] = d
	return d, nil
}

func (q *querier) GetDevice(_ context.Context, id uuid.UUID) (models.Device, error) {
	unlock, err := q.guard("GetDevice")
	defer unlock()
	if err != nil {
		return models.Device{}, err
	}
	d, ok := q.s.st.devices[id]
	if !ok {
		return models.Device{}, domain.ErrNotFound
	}
	return d, nil
}

func (q *querier) GetDeviceByToken(_ context.Context, token string) (models.Device, error) {
	unlock, err := q.guard("GetDeviceByToken")
	defer unlock()
	if err != nil {
		return models.Device{}, err
	}
	for _, d := range q.s.st.devices {
		if d.Token == token {
			return d, nil
		}
	}
	return models.Device{}, domain.ErrNotFound
}

func (q *querier) TouchDevice(_ context.Context, id uuid.UUID, at time.Time) (int64, error) {
	unlock, err := q.guard("TouchDevice")
	defer unlock()
	if err != nil {
		return 0, err
	}
	d, ok := q.s.st.devices[id]
	if !ok {
		return 0, nil
	}
	d.IsOnline = true
	d.LastActiveAt = &at
	q.s.st.devices[id] = d
	return 1, nil
}

func (q *querier) MarkStaleDevicesOffline(_ context.Context, before time.Time) (int64, error) {
	unlock, err := q.guard("MarkStaleDevicesOffline")
	defer unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for id, d := range q.s.st.devices {
		if d.IsOnline && (d.LastActiveAt == nil || d.LastActiveAt.Before(before)) {
			d.IsOnline = false
			q.s.st.devices[id] = d
			n++
		}
	}
	return n, nil
}

func (q *querier) CreateRequisite(_ context.Context, r models.BankRequisite) (models.BankRequisite, error) {
	unlock, err := q.guard("CreateRequisite")
	defer unlock()
	if err != nil {
		return models.BankRequisite{}, err
	}
	if _, ok := q.s.st.traders[r.TraderID]; !ok {
		return models.BankRequisite{}, &pgconn.PgError{Code: "23503", ConstraintName: "bank_requisites_trader_id_fkey"}
	}
	r.UpdatedAt = r.CreatedAt
	q.s.st.requisites[r.ID] = r
	return r, nil
}

func (q *querier) GetRequisite(_ context.Context, id uuid.UUID) (models.BankRequisite, error) {
	unlock, err := q.guard("GetRequisite")
	defer unlock()
	if err != nil {
		return models.BankRequisite{}, err
	}
	r, ok := q.s.st.requisites[id]
	if !ok {
		return models.BankRequisite{}, domain.ErrNotFound
	}
	return r, nil
}

func (q *querier) ListDeviceRequisites(_ context.Context, deviceID uuid.UUID) ([]models.BankRequisite, error) {
	unlock, err := q.guard("ListDeviceRequisites")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var items []models.BankRequisite
	for _, r := range q.s.st.requisites {
		if r.DeviceID != nil && *r.DeviceID == deviceID && !r.IsArchived {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (q *querier) FindRequisiteCandidates(_ context.Context, arg repository.RequisiteCandidateParams) ([]models.RequisiteCandidate, error) {
	unlock, err := q.guard("FindRequisiteCandidates")
	defer unlock()
	if err != nil {
		return nil, err
	}

	var items []models.RequisiteCandidate
	for _, r := range q.s.st.requisites {
		if r.MethodType != arg.MethodType || r.IsArchived || !r.IsActive {
			continue
		}
		trader, ok := q.s.st.traders[r.TraderID]
		if !ok {
			continue
		}
		c := models.RequisiteCandidate{Requisite: r, Trader: trader}
		if r.DeviceID != nil {
			if d, ok := q.s.st.devices[*r.DeviceID]; ok {
				c.Device = &d
			}
		}
		if tm, ok := q.s.st.traderMerchants[tmKey{r.TraderID, arg.MerchantID, arg.MethodID}]; ok {
			c.Connection = &tm
		}
		for _, t := range q.s.st.transactions {
			if t.TraderID != nil && *t.TraderID == r.TraderID && t.Status == domain.StatusDispute {
				c.OpenDisputes++
			}
			if t.RequisiteID == nil || *t.RequisiteID != r.ID {
				continue
			}
			if t.Status != domain.StatusCanceled && !t.CreatedAt.Before(arg.DayStart) {
				c.DailyCount++
			}
			if t.Status == domain.StatusInProgress || t.Status == domain.StatusReady {
				if !t.CreatedAt.Before(arg.DayStart) {
					c.DailyTurnover += t.Amount
				}
				if !t.CreatedAt.Before(arg.MonthStart) {
					c.MonthlyTurnover += t.Amount
				}
			}
			if t.Direction == domain.DirectionIn && t.Amount == arg.Amount &&
				(t.Status == domain.StatusCreated || t.Status == domain.StatusInProgress) {
				c.SameAmountActive = true
			}
		}
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Requisite, items[j].Requisite
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return items, nil
}

func (q *querier) TouchRequisite(_ context.Context, id uuid.UUID, prevUpdatedAt, now time.Time) (int64, error) {
	unlock, err := q.guard("TouchRequisite")
	defer unlock()
	if err != nil {
		return 0, err
	}
	r, ok := q.s.st.requisites[id]
	if !ok || !r.UpdatedAt.Equal(prevUpdatedAt) {
		return 0, nil
	}
	r.UpdatedAt = now
	q.s.st.requisites[id] = r
	return 1, nil
}

func (q *querier) ArchiveRequisite(_ context.Context, id uuid.UUID, now time.Time) (int64, error) {
	unlock, err := q.guard("ArchiveRequisite")
	defer unlock()
	if err != nil {
		return 0, err
	}
	r, ok := q.s.st.requisites[id]
	if !ok || r.IsArchived {
		return 0, nil
	}
	r.IsArchived = true
	r.IsActive = false
	r.UpdatedAt = now
	q.s.st.requisites[id] = r
	return 1, nil
}

func (q *querier) CreateTransaction(_ context.Context, t models.Transaction) (models.Transaction, error) {
	unlock, err := q.guard("CreateTransaction")
	defer unlock()
	if err != nil {
		return models.Transaction{}, err
	}
	if t.Amount <= 0 {
		return models.Transaction{}, &pgconn.PgError{Code: "23514", ConstraintName: "transactions_amount_check"}
	}
	for _, existing := range q.s.st.transactions {
		if existing.MerchantID == t.MerchantID && existing.OrderID == t.OrderID {
			return models.Transaction{}, uniqueViolation("transactions_merchant_id_order_id_key")
		}
	}
	q.s.st.seq++
	t.Number = q.s.st.seq
	t.UpdatedAt = t.CreatedAt
	q.s.st.transactions[t.ID] = t
	return t, nil
}

func (q *querier) GetTransaction(_ context.Context, id uuid.UUID) (models.Transaction, error) {
	unlock, err := q.guard("GetTransaction")
	defer unlock()
	if err != nil {
		return models.Transaction{}, err
	}
	t, ok := q.s.st.transactions[id]
	if !ok {
		return models.Transaction{}, domain.ErrNotFound
	}
	return t, nil
}

func (q *querier) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return q.GetTransaction(ctx, id)
}

func (q *querier) GetTransactionByOrderID(_ context.Context, merchantID uuid.UUID, orderID string) (models.Transaction, error) {
	unlock, err := q.guard("GetTransactionByOrderID")
	defer unlock()
	if err != nil {
		return models.Transaction{}, err
	}
	for _, t := range q.s.st.transactions {
		if t.MerchantID == merchantID && t.OrderID == orderID {
			return t, nil
		}
	}
	return models.Transaction{}, domain.ErrNotFound
}

func (q *querier) UpdateTransactionStatus(_ context.Context, arg repository.UpdateTransactionStatusParams) (int64, error) {
	unlock, err := q.guard("UpdateTransactionStatus")
	defer unlock()
	if err != nil {
		return 0, err
	}
	t, ok := q.s.st.transactions[arg.ID]
	if !ok || t.Status != arg.From {
		return 0, nil
	}
	t.Status = arg.To
	t.UpdatedAt = arg.UpdatedAt
	if arg.AcceptedAt != nil {
		at := *arg.AcceptedAt
		t.AcceptedAt = &at
	}
	q.s.st.transactions[arg.ID] = t
	return 1, nil
}

func (q *querier) MarkTransactionSettled(_ context.Context, arg repository.MarkTransactionSettledParams) (int64, error) {
	unlock, err := q.guard("MarkTransactionSettled")
	defer unlock()
	if err != nil {
		return 0, err
	}
	t, ok := q.s.st.transactions[arg.ID]
	if !ok || t.SettledAt != nil {
		return 0, nil
	}
	at := arg.SettledAt
	t.SettledAt = &at
	t.TraderProfit = arg.TraderProfit
	q.s.st.transactions[arg.ID] = t
	return 1, nil
}

func (q *querier) LinkTransactionNotification(_ context.Context, transactionID, notificationID uuid.UUID) (int64, error) {
	unlock, err := q.guard("LinkTransactionNotification")
	defer unlock()
	if err != nil {
		return 0, err
	}
	t, ok := q.s.st.transactions[transactionID]
	if !ok || t.MatchedNotificationID != nil {
		return 0, nil
	}
	for _, other := range q.s.st.transactions {
		if other.MatchedNotificationID != nil && *other.MatchedNotificationID == notificationID {
			return 0, uniqueViolation("transactions_matched_notification_id_key")
		}
	}
	id := notificationID
	t.MatchedNotificationID = &id
	q.s.st.transactions[transactionID] = t
	return 1, nil
}

func (q *querier) ListExpiredTransactions(_ context.Context, now time.Time, limit int32) ([]models.Transaction, error) {
	unlock, err := q.guard("ListExpiredTransactions")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var items []models.Transaction
	for _, t := range q.s.st.transactions {
		if t.Status == domain.StatusInProgress && t.ExpiresAt.Before(now) {
			items = append(items, t)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ExpiresAt.Before(items[j].ExpiresAt) })
	if len(items) > int(limit) {
		items = items[:limit]
	}
	return items, nil
}

func (q *querier) FindMatchCandidates(_ context.Context, arg repository.MatchCandidateParams) ([]models.Transaction, error) {
	unlock, err := q.guard("FindMatchCandidates")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var items []models.Transaction
	for _, t := range q.s.st.transactions {
		if t.TraderID == nil || *t.TraderID != arg.TraderID {
			continue
		}
		if t.Direction != domain.DirectionIn || t.Status != domain.StatusInProgress || t.BankType != arg.BankType {
			continue
		}
		if t.Amount < arg.MinAmount || t.Amount > arg.MaxAmount {
			continue
		}
		if t.CreatedAt.Before(arg.From) || t.CreatedAt.After(arg.To) {
			continue
		}
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Number < items[j].Number
	})
	return items, nil
}

func (q *querier) CreateNotification(_ context.Context, n models.Notification) (models.Notification, error) {
	unlock, err := q.guard("CreateNotification")
	defer unlock()
	if err != nil {
		return models.Notification{}, err
	}
	q.s.st.seq++
	q.s.st.notificationSeq[n.ID] = q.s.st.seq
	q.s.st.notifications[n.ID] = n
	return n, nil
}

func (q *querier) GetNotification(_ context.Context, id uuid.UUID) (models.Notification, error) {
	unlock, err := q.guard("GetNotification")
	defer unlock()
	if err != nil {
		return models.Notification{}, err
	}
	n, ok := q.s.st.notifications[id]
	if !ok {
		return models.Notification{}, domain.ErrNotFound
	}
	return n, nil
}

func (q *querier) ListUnprocessedNotifications(_ context.Context, limit int32) ([]models.Notification, error) {
	unlock, err := q.guard("ListUnprocessedNotifications")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var items []models.Notification
	for _, n := range q.s.st.notifications {
		if !n.IsProcessed {
			items = append(items, n)
		}
	}
	seq := q.s.st.notificationSeq
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return seq[items[i].ID] < seq[items[j].ID]
	})
	if len(items) > int(limit) {
		items = items[:limit]
	}
	return items, nil
}

func (q *querier) MarkNotificationProcessed(_ context.Context, arg repository.MarkNotificationProcessedParams) (int64, error) {
	unlock, err := q.guard("MarkNotificationProcessed")
	defer unlock()
	if err != nil {
		return 0, err
	}
	n, ok := q.s.st.notifications[arg.ID]
	if !ok || n.IsProcessed {
		return 0, nil
	}
	if arg.TransactionID != nil {
		for _, other := range q.s.st.notifications {
			if other.TransactionID != nil && *other.TransactionID == *arg.TransactionID {
				return 0, uniqueViolation("notifications_transaction_uidx")
			}
		}
	}
	at := arg.ProcessedAt
	n.IsProcessed = true
	n.ProcessedReason = arg.Reason
	n.ParsedAmount = arg.ParsedAmount
	n.BankType = arg.BankType
	n.TransactionID = arg.TransactionID
	n.ProcessedAt = &at
	q.s.st.notifications[arg.ID] = n
	return 1, nil
}

func (q *querier) InsertCallbackHistory(_ context.Context, h models.CallbackHistory) (models.CallbackHistory, error) {
	unlock, err := q.guard("InsertCallbackHistory")
	defer unlock()
	if err != nil {
		return models.CallbackHistory{}, err
	}
	if _, ok := q.s.st.transactions[h.TransactionID]; !ok {
		return models.CallbackHistory{}, &pgconn.PgError{Code: "23503", ConstraintName: "callback_history_transaction_id_fkey"}
	}
	h.ID = int64(len(q.s.st.callbacks) + 1)
	q.s.st.callbacks = append(q.s.st.callbacks, h)
	return h, nil
}

func (q *querier) ListCallbackHistory(_ context.Context, transactionID uuid.UUID) ([]models.CallbackHistory, error) {
	unlock, err := q.guard("ListCallbackHistory")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var items []models.CallbackHistory
	for _, h := range q.s.st.callbacks {
		if h.TransactionID == transactionID {
			items = append(items, h)
		}
	}
	return items, nil
}

func (q *querier) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) (int64, error) {
	unlock, err := q.guard("InsertAuditLog")
	defer unlock()
	if err != nil {
		return 0, err
	}
	if arg.EntityType == "" || arg.Action == "" {
		return 0, errors.New("audit entity type and action are required")
	}
	q.s.st.audit = append(q.s.st.audit, arg)
	return int64(len(q.s.st.audit)), nil
}

var _ repository.Querier = (*querier)(nil)

// String is handy in failing test output.
func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("memstore(transactions=%d notifications=%d callbacks=%d)",
		len(s.st.transactions), len(s.st.notifications), len(s.st.callbacks))
}

// IdempotencyLedger keeps idempotency keys in memory. Missing and already
// reserved keys are reported as domain.ErrNotFound.
type IdempotencyLedger struct {
	mu   sync.Mutex
	rows map[string]repository.IdempotencyKey
}

func NewIdempotencyLedger() *IdempotencyLedger {
	return &IdempotencyLedger{rows: map[string]repository.IdempotencyKey{}}
}

func (l *IdempotencyLedger) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key]
	if !ok {
		return repository.IdempotencyKey{}, domain.ErrNotFound
	}
	return row, nil
}

func (l *IdempotencyLedger) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[arg.IdempotencyKey]; ok {
		return "", domain.ErrNotFound
	}
	l.rows[arg.IdempotencyKey] = repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		InProgress:     true,
	}
	return arg.IdempotencyKey, nil
}

func (l *IdempotencyLedger) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[arg.IdempotencyKey]
	if !ok || row.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, domain.ErrNotFound
	}
	row.InProgress = false
	row.ResponseStatus = arg.ResponseStatus
	row.ResponseBody = append([]byte(nil), arg.ResponseBody...)
	row.ContentType = arg.ContentType
	l.rows[arg.IdempotencyKey] = row
	return row, nil
}

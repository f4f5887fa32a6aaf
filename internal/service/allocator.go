package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/config"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/observability"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AllocationRequest is an incoming merchant transaction waiting for a requisite.
type AllocationRequest struct {
	MerchantID  uuid.UUID
	MethodCode  string
	Direction   domain.Direction
	Amount      decimal.Decimal
	OrderID     string
	CallbackURL string
	SuccessURL  string
	FailURL     string
	ExpiresAt   *time.Time
}

// Allocation is the committed result of a successful allocation.
type Allocation struct {
	Transaction models.Transaction
	Requisite   models.BankRequisite
	Freeze      domain.Freeze
}

// AllocatorService picks a trader requisite for incoming transactions and
// reserves the trader's USDT exposure.
type AllocatorService struct {
	store    QueryStore
	rates    RateSource
	settings *config.SettingsHolder
	audit    *AuditService
	now      func() time.Time
}

func NewAllocatorService(store QueryStore, rates RateSource, settings *config.SettingsHolder) *AllocatorService {
	return &AllocatorService{
		store:    store,
		rates:    rates,
		settings: settings,
		audit:    NewAuditService(),
		now:      utcNow,
	}
}

// WithClock replaces the time source.
func (s *AllocatorService) WithClock(now func() time.Time) *AllocatorService {
	s.now = now
	return s
}

// Allocate selects exactly one eligible requisite and, in one serializable
// unit, freezes the trader's funds, rotates the requisite and inserts the
// IN_PROGRESS transaction. It returns domain.ErrNoRequisite when no candidate survives.
func (s *AllocatorService) Allocate(ctx context.Context, req AllocationRequest) (*Allocation, error) {
	if err := validateAllocation(req); err != nil {
		return nil, err
	}

	queries := s.store.Queries()
	merchant, err := queries.GetMerchant(ctx, req.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("load merchant: %w", err)
	}
	if merchant.Disabled {
		return nil, domain.ErrMerchantDisabled
	}

	method, err := queries.GetMethodByCode(ctx, req.MethodCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMethodUnavailable, req.MethodCode)
		}
		return nil, fmt.Errorf("load method: %w", err)
	}
	if !method.Enabled {
		return nil, fmt.Errorf("%w: %s disabled", domain.ErrMethodUnavailable, method.Code)
	}
	link, err := queries.GetMerchantMethod(ctx, merchant.ID, method.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load merchant method: %w", err)
	}
	if err != nil || !link.Enabled {
		return nil, fmt.Errorf("%w: %s not enabled for merchant", domain.ErrMethodUnavailable, method.Code)
	}

	if _, err := queries.GetTransactionByOrderID(ctx, merchant.ID, req.OrderID); err == nil {
		return nil, domain.ErrDuplicateOrder
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check order id: %w", err)
	}

	baseRate, err := s.rates.BaseRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load base rate: %w", err)
	}

	settings := s.settings.Load()
	now := s.now()
	expiresAt := now.Add(settings.TransactionTTL)
	if req.ExpiresAt != nil && req.ExpiresAt.After(now) {
		expiresAt = req.ExpiresAt.UTC()
	}

	var result *Allocation
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		result = nil
		candidates, err := q.FindRequisiteCandidates(ctx, repository.RequisiteCandidateParams{
			MethodType: method.Type,
			MerchantID: merchant.ID,
			MethodID:   method.ID,
			Amount:     domain.FromDecimal(req.Amount),
			DayStart:   dayStart(now),
			MonthStart: monthStart(now),
		})
		if err != nil {
			return fmt.Errorf("find requisite candidates: %w", err)
		}

		eligible := filterCandidates(candidates, filterInput{
			direction:  req.Direction,
			amount:     domain.FromDecimal(req.Amount),
			minDeposit: domain.FromDecimal(settings.MinTraderDeposit),
		})
		sort.SliceStable(eligible, func(i, j int) bool {
			return eligible[i].Requisite.UpdatedAt.Before(eligible[j].Requisite.UpdatedAt)
		})

		for _, c := range eligible {
			alloc, err := s.reserve(ctx, q, c, merchant, method, baseRate, req, now, expiresAt)
			if err != nil {
				return err
			}
			if alloc != nil {
				result = alloc
				return nil
			}
		}
		return domain.ErrNoRequisite
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoRequisite) {
			observability.IncrementAllocation("no_requisite")
		} else {
			observability.IncrementAllocation("failed")
		}
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateOrder
		}
		return nil, err
	}

	observability.IncrementAllocation("allocated")
	zap.L().Info("requisite allocated",
		zap.String("transaction_id", result.Transaction.ID.String()),
		zap.Int64("number", result.Transaction.Number),
		zap.String("requisite_id", result.Requisite.ID.String()),
		zap.String("frozen_usdt", result.Freeze.FrozenUsdt.String()),
		zap.String("commission", result.Freeze.Commission.String()),
	)
	return result, nil
}

// reserve tries to claim one candidate. A nil allocation with a nil error
// means the candidate was lost to a concurrent writer or cannot cover the
// reservation, and the caller moves on to the next one.
func (s *AllocatorService) reserve(ctx context.Context, q repository.Querier, c models.RequisiteCandidate, merchant models.Merchant, method models.Method, baseRate decimal.Decimal, req AllocationRequest, now, expiresAt time.Time) (*Allocation, error) {
	fee := connectionFee(c.Connection, req.Direction)
	freeze, err := domain.ComputeFreeze(domain.FreezeParams{
		AmountRub:    req.Amount,
		BaseRate:     baseRate,
		KKKPercent:   domain.FromMicros(method.KKKPercent),
		KKKOperation: method.KKKOperation,
		FeePercent:   domain.FromMicros(fee),
	})
	if err != nil {
		return nil, err
	}

	frozen := domain.FromDecimal(freeze.FrozenUsdt)
	commission := domain.FromDecimal(freeze.Commission)
	if c.Trader.Available() < frozen+commission {
		rejectCandidate(c, "balance")
		return nil, nil
	}

	// A skipped candidate leaves no trace in the unit of work: the
	// requisite is only rotated once the funds are held, and the hold is
	// undone when the rotation loses.
	rows, err := q.FreezeTraderFunds(ctx, c.Trader.ID, frozen+commission)
	if err != nil {
		return nil, fmt.Errorf("freeze trader funds: %w", err)
	}
	if rows == 0 {
		rejectCandidate(c, "balance_changed")
		return nil, nil
	}

	rows, err = q.TouchRequisite(ctx, c.Requisite.ID, c.Requisite.UpdatedAt, now)
	if err != nil {
		return nil, fmt.Errorf("touch requisite: %w", err)
	}
	if rows == 0 {
		released, err := q.ReleaseTraderFunds(ctx, c.Trader.ID, frozen+commission)
		if err != nil {
			return nil, fmt.Errorf("release trader funds: %w", err)
		}
		if err := requireExactlyOne(released, "release trader funds"); err != nil {
			return nil, err
		}
		rejectCandidate(c, "requisite_changed")
		return nil, nil
	}

	requisiteID := c.Requisite.ID
	traderID := c.Trader.ID
	accepted := now
	tx, err := q.CreateTransaction(ctx, models.Transaction{
		ID:           uuid.New(),
		Direction:    req.Direction,
		MerchantID:   merchant.ID,
		MethodID:     method.ID,
		OrderID:      req.OrderID,
		Amount:       domain.FromDecimal(req.Amount),
		RequisiteID:  &requisiteID,
		TraderID:     &traderID,
		BankType:     c.Requisite.BankType,
		BaseRate:     domain.FromDecimal(baseRate),
		AdjustedRate: domain.FromDecimal(freeze.AdjustedRate),
		KKKPercent:   method.KKKPercent,
		KKKOperation: method.KKKOperation,
		FeePercent:   fee,
		FrozenUsdt:   frozen,
		Commission:   commission,
		Status:       domain.StatusInProgress,
		CallbackURL:  req.CallbackURL,
		SuccessURL:   req.SuccessURL,
		FailURL:      req.FailURL,
		CreatedAt:    now,
		UpdatedAt:    now,
		AcceptedAt:   &accepted,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	metadata := marshalMetadata(map[string]any{
		"requisite_id":  requisiteID.String(),
		"trader_id":     traderID.String(),
		"base_rate":     baseRate.String(),
		"adjusted_rate": freeze.AdjustedRate.String(),
		"frozen_usdt":   freeze.FrozenUsdt.String(),
		"commission":    freeze.Commission.String(),
	})
	if err := s.audit.Write(ctx, q, domain.EntityTransaction, tx.ID, nil, "allocated", "", tx.Status.String(), metadata); err != nil {
		return nil, err
	}

	return &Allocation{Transaction: tx, Requisite: c.Requisite, Freeze: freeze}, nil
}

func validateAllocation(req AllocationRequest) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}
	if req.Direction != domain.DirectionIn && req.Direction != domain.DirectionOut {
		return fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidInput, req.Direction)
	}
	return nil
}

func connectionFee(tm *models.TraderMerchant, direction domain.Direction) int64 {
	if tm == nil {
		return 0
	}
	if direction == domain.DirectionOut {
		return tm.FeeOut
	}
	return tm.FeeIn
}

type filterInput struct {
	direction  domain.Direction
	amount     int64
	minDeposit int64
}

// candidateFilter is one named step of the selection pipeline.
type candidateFilter struct {
	name  string
	allow func(c models.RequisiteCandidate, in filterInput) bool
}

var candidateFilters = []candidateFilter{
	{"trader", func(c models.RequisiteCandidate, in filterInput) bool {
		return !c.Trader.Banned && c.Trader.TrafficEnabled && c.Trader.Deposit >= in.minDeposit
	}},
	{"device", func(c models.RequisiteCandidate, _ filterInput) bool {
		if c.Requisite.DeviceID == nil {
			return true
		}
		return c.Device != nil && c.Device.Ready()
	}},
	{"connection", func(c models.RequisiteCandidate, in filterInput) bool {
		tm := c.Connection
		if tm == nil || !tm.IsMerchantEnabled {
			return false
		}
		if in.direction == domain.DirectionOut {
			return tm.IsFeeOutEnabled
		}
		return tm.IsFeeInEnabled
	}},
	{"amount_bounds", func(c models.RequisiteCandidate, in filterInput) bool {
		return within(in.amount, c.Requisite.MinAmount, c.Requisite.MaxAmount) &&
			within(in.amount, c.Trader.MinAmountPerRequisite, c.Trader.MaxAmountPerRequisite)
	}},
	{"dispute_limit", func(c models.RequisiteCandidate, _ filterInput) bool {
		return c.OpenDisputes < int64(c.Trader.DisputeLimit)
	}},
	{"same_amount", func(c models.RequisiteCandidate, in filterInput) bool {
		return in.direction != domain.DirectionIn || !c.SameAmountActive
	}},
	{"max_transactions", func(c models.RequisiteCandidate, _ filterInput) bool {
		return c.Requisite.MaxTransactions <= 0 || c.DailyCount < int64(c.Requisite.MaxTransactions)
	}},
	{"daily_limit", func(c models.RequisiteCandidate, in filterInput) bool {
		return c.Requisite.DailyLimit <= 0 || c.DailyTurnover+in.amount <= c.Requisite.DailyLimit
	}},
	{"monthly_limit", func(c models.RequisiteCandidate, in filterInput) bool {
		return c.Requisite.MonthlyLimit <= 0 || c.MonthlyTurnover+in.amount <= c.Requisite.MonthlyLimit
	}},
}

func filterCandidates(candidates []models.RequisiteCandidate, in filterInput) []models.RequisiteCandidate {
	out := make([]models.RequisiteCandidate, 0, len(candidates))
next:
	for _, c := range candidates {
		for _, f := range candidateFilters {
			if !f.allow(c, in) {
				rejectCandidate(c, f.name)
				continue next
			}
		}
		out = append(out, c)
	}
	return out
}

// within treats a zero upper bound as unlimited.
func within(v, lo, hi int64) bool {
	if v < lo {
		return false
	}
	return hi <= 0 || v <= hi
}

func rejectCandidate(c models.RequisiteCandidate, reason string) {
	zap.L().Debug("requisite rejected",
		zap.String("requisite_id", c.Requisite.ID.String()),
		zap.String("trader_id", c.Trader.ID.String()),
		zap.String("reason", reason),
	)
}

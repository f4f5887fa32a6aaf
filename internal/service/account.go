package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultDisputeLimit = 5

// AccountService manages merchants, methods, traders and devices.
type AccountService struct {
	store QueryStore
	audit *AuditService
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{store: store, audit: NewAuditService()}
}

// CreateMerchant registers a merchant with a fresh API key.
func (s *AccountService) CreateMerchant(ctx context.Context, name, callbackSecret string) (models.Merchant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Merchant{}, fmt.Errorf("%w: merchant name is required", domain.ErrInvalidInput)
	}
	return s.store.Queries().CreateMerchant(ctx, models.Merchant{
		ID:             uuid.New(),
		Name:           name,
		APIKey:         newSecret(),
		CallbackSecret: callbackSecret,
		CreatedAt:      utcNow(),
	})
}

type MethodInput struct {
	Code         string
	Type         domain.MethodType
	KKKPercent   decimal.Decimal
	KKKOperation domain.KKKOperation
}

func (s *AccountService) CreateMethod(ctx context.Context, in MethodInput) (models.Method, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return models.Method{}, fmt.Errorf("%w: method code is required", domain.ErrInvalidInput)
	}
	if in.KKKPercent.IsNegative() || in.KKKPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return models.Method{}, fmt.Errorf("%w: kkk percent must be in [0, 100)", domain.ErrInvalidInput)
	}
	methodType, err := domain.ParseMethodType(string(in.Type))
	if err != nil {
		return models.Method{}, err
	}
	op := in.KKKOperation
	if op == "" {
		op = domain.KKKMinus
	}
	m, err := s.store.Queries().CreateMethod(ctx, models.Method{
		ID:           uuid.New(),
		Code:         code,
		Type:         methodType,
		KKKPercent:   domain.FromDecimal(in.KKKPercent),
		KKKOperation: op,
		Enabled:      true,
	})
	if isUniqueViolation(err) {
		return models.Method{}, fmt.Errorf("%w: method code %q already exists", domain.ErrInvalidInput, code)
	}
	return m, err
}

// EnableMerchantMethod switches a method on or off for one merchant.
func (s *AccountService) EnableMerchantMethod(ctx context.Context, merchantID, methodID uuid.UUID, enabled bool) error {
	q := s.store.Queries()
	if _, err := q.GetMerchant(ctx, merchantID); err != nil {
		return err
	}
	if _, err := q.GetMethod(ctx, methodID); err != nil {
		return err
	}
	return q.UpsertMerchantMethod(ctx, models.MerchantMethod{MerchantID: merchantID, MethodID: methodID, Enabled: enabled})
}

type TraderInput struct {
	Name                  string
	Deposit               decimal.Decimal
	MinAmountPerRequisite decimal.Decimal
	MaxAmountPerRequisite decimal.Decimal
	DisputeLimit          *int32
}

func (s *AccountService) CreateTrader(ctx context.Context, in TraderInput) (models.Trader, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Trader{}, fmt.Errorf("%w: trader name is required", domain.ErrInvalidInput)
	}
	if in.Deposit.IsNegative() || in.MinAmountPerRequisite.IsNegative() || in.MaxAmountPerRequisite.IsNegative() {
		return models.Trader{}, fmt.Errorf("%w: amounts must not be negative", domain.ErrInvalidInput)
	}
	limit := int32(defaultDisputeLimit)
	if in.DisputeLimit != nil {
		if *in.DisputeLimit < 0 {
			return models.Trader{}, fmt.Errorf("%w: dispute limit must not be negative", domain.ErrInvalidInput)
		}
		limit = *in.DisputeLimit
	}
	return s.store.Queries().CreateTrader(ctx, models.Trader{
		ID:                    uuid.New(),
		Name:                  name,
		Deposit:               domain.FromDecimal(in.Deposit),
		TrafficEnabled:        true,
		MinAmountPerRequisite: domain.FromDecimal(in.MinAmountPerRequisite),
		MaxAmountPerRequisite: domain.FromDecimal(in.MaxAmountPerRequisite),
		DisputeLimit:          limit,
	})
}

func (s *AccountService) GetTrader(ctx context.Context, id uuid.UUID) (models.Trader, error) {
	return s.store.Queries().GetTrader(ctx, id)
}

type ConnectionInput struct {
	TraderID   uuid.UUID
	MerchantID uuid.UUID
	MethodID   uuid.UUID
	FeeIn      decimal.Decimal
	FeeOut     decimal.Decimal
	FeeInOn    bool
	FeeOutOn   bool
}

// ConnectTrader lets a trader serve a merchant's method at the given fees.
func (s *AccountService) ConnectTrader(ctx context.Context, in ConnectionInput) error {
	if in.FeeIn.IsNegative() || in.FeeOut.IsNegative() {
		return fmt.Errorf("%w: fees must not be negative", domain.ErrInvalidInput)
	}
	q := s.store.Queries()
	if _, err := q.GetTrader(ctx, in.TraderID); err != nil {
		return err
	}
	if _, err := q.GetMerchant(ctx, in.MerchantID); err != nil {
		return err
	}
	if _, err := q.GetMethod(ctx, in.MethodID); err != nil {
		return err
	}
	return q.UpsertTraderMerchant(ctx, models.TraderMerchant{
		TraderID:          in.TraderID,
		MerchantID:        in.MerchantID,
		MethodID:          in.MethodID,
		IsMerchantEnabled: true,
		IsFeeInEnabled:    in.FeeInOn,
		IsFeeOutEnabled:   in.FeeOutOn,
		FeeIn:             domain.FromDecimal(in.FeeIn),
		FeeOut:            domain.FromDecimal(in.FeeOut),
	})
}

// RegisterDevice creates an online device for a trader and returns it with
// its push token.
func (s *AccountService) RegisterDevice(ctx context.Context, traderID uuid.UUID, name string) (models.Device, error) {
	q := s.store.Queries()
	if _, err := q.GetTrader(ctx, traderID); err != nil {
		return models.Device{}, err
	}
	now := utcNow()
	return q.CreateDevice(ctx, models.Device{
		ID:           uuid.New(),
		TraderID:     traderID,
		Token:        newSecret(),
		Name:         strings.TrimSpace(name),
		IsOnline:     true,
		IsWorking:    true,
		LastActiveAt: &now,
	})
}

// TopUpTrust credits the trader's trust balance.
func (s *AccountService) TopUpTrust(ctx context.Context, traderID uuid.UUID, amount decimal.Decimal, actorID *uuid.UUID) (models.Trader, error) {
	if !amount.IsPositive() {
		return models.Trader{}, fmt.Errorf("%w: top up amount must be positive", domain.ErrInvalidInput)
	}
	var trader models.Trader
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		rows, err := q.CreditTraderTrust(ctx, traderID, domain.FromDecimal(amount))
		if err != nil {
			return fmt.Errorf("credit trust: %w", err)
		}
		if rows == 0 {
			if _, err := q.GetTrader(ctx, traderID); err != nil {
				return err
			}
			return fmt.Errorf("%w: credit trust", domain.ErrStaleState)
		}
		meta := marshalMetadata(map[string]any{"amount": amount.String()})
		if err := s.audit.Write(ctx, q, domain.EntityTrader, traderID, actorID, "trust_topped_up", "", "", meta); err != nil {
			return err
		}
		trader, err = q.GetTrader(ctx, traderID)
		return err
	})
	return trader, err
}

func newSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

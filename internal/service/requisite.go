package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	luhn "github.com/EClaesson/go-luhn"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequisiteInput registers a trader's card or SBP phone number.
type RequisiteInput struct {
	TraderID        uuid.UUID
	MethodType      domain.MethodType
	BankType        domain.BankType
	Number          string
	RecipientName   string
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	DailyLimit      decimal.Decimal
	MonthlyLimit    decimal.Decimal
	MaxTransactions int32
	DeviceID        *uuid.UUID
}

// RequisiteService manages the trader requisite catalogue.
type RequisiteService struct {
	store QueryStore
	audit *AuditService
	now   func() time.Time
}

func NewRequisiteService(store QueryStore) *RequisiteService {
	return &RequisiteService{store: store, audit: NewAuditService(), now: utcNow}
}

// WithClock replaces the time source.
func (s *RequisiteService) WithClock(now func() time.Time) *RequisiteService {
	s.now = now
	return s
}

// Create validates and stores a requisite. Card numbers must pass the Luhn
// check; a bound device must belong to the same trader.
func (s *RequisiteService) Create(ctx context.Context, in RequisiteInput, actorID *uuid.UUID) (models.BankRequisite, error) {
	number, err := normalizeNumber(in.MethodType, in.Number)
	if err != nil {
		return models.BankRequisite{}, err
	}
	if in.MinAmount.IsNegative() || in.MaxAmount.IsNegative() || in.DailyLimit.IsNegative() || in.MonthlyLimit.IsNegative() || in.MaxTransactions < 0 {
		return models.BankRequisite{}, fmt.Errorf("%w: limits must not be negative", domain.ErrInvalidInput)
	}
	if in.MaxAmount.IsPositive() && in.MinAmount.GreaterThan(in.MaxAmount) {
		return models.BankRequisite{}, fmt.Errorf("%w: min amount above max amount", domain.ErrInvalidInput)
	}

	now := s.now()
	var created models.BankRequisite
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		if in.DeviceID != nil {
			device, err := q.GetDevice(ctx, *in.DeviceID)
			if err != nil {
				return fmt.Errorf("load device: %w", err)
			}
			if device.TraderID != in.TraderID {
				return fmt.Errorf("%w: device belongs to another trader", domain.ErrInvalidInput)
			}
		}

		var err error
		created, err = q.CreateRequisite(ctx, models.BankRequisite{
			ID:              uuid.New(),
			TraderID:        in.TraderID,
			MethodType:      in.MethodType,
			BankType:        in.BankType,
			CardNumber:      number,
			RecipientName:   strings.TrimSpace(in.RecipientName),
			MinAmount:       domain.FromDecimal(in.MinAmount),
			MaxAmount:       domain.FromDecimal(in.MaxAmount),
			DailyLimit:      domain.FromDecimal(in.DailyLimit),
			MonthlyLimit:    domain.FromDecimal(in.MonthlyLimit),
			MaxTransactions: in.MaxTransactions,
			IsActive:        true,
			DeviceID:        in.DeviceID,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return fmt.Errorf("create requisite: %w", err)
		}
		return s.audit.Write(ctx, q, domain.EntityRequisite, created.ID, actorID, "created", "", "active", nil)
	})
	if err != nil {
		return models.BankRequisite{}, err
	}
	return created, nil
}

// Archive soft-deletes a requisite. When ownerID is set the requisite must
// belong to that trader.
func (s *RequisiteService) Archive(ctx context.Context, id uuid.UUID, ownerID, actorID *uuid.UUID) error {
	return s.store.RunInTx(ctx, func(q repository.Querier) error {
		r, err := q.GetRequisite(ctx, id)
		if err != nil {
			return err
		}
		if ownerID != nil && r.TraderID != *ownerID {
			return domain.ErrNotFound
		}
		if r.IsArchived {
			return nil
		}
		rows, err := q.ArchiveRequisite(ctx, id, s.now())
		if err != nil {
			return fmt.Errorf("archive requisite: %w", err)
		}
		if err := requireExactlyOne(rows, "archive requisite"); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, domain.EntityRequisite, id, actorID, "archived", "active", "archived", nil)
	})
}

func normalizeNumber(methodType domain.MethodType, raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '+' || r == '(' || r == ')':
			return -1
		}
		return 'x'
	}, strings.TrimSpace(raw))
	if digits == "" || strings.ContainsRune(digits, 'x') {
		return "", fmt.Errorf("%w: number must contain digits only", domain.ErrInvalidInput)
	}

	switch methodType {
	case domain.MethodTypeCard:
		if len(digits) < 13 || len(digits) > 19 {
			return "", fmt.Errorf("%w: card number length", domain.ErrInvalidInput)
		}
		ok, err := luhn.IsValid(digits)
		if err != nil || !ok {
			return "", errors.Join(fmt.Errorf("%w: card number fails checksum", domain.ErrInvalidInput), err)
		}
	case domain.MethodTypeSBP:
		if len(digits) == 10 {
			digits = "7" + digits
		}
		if len(digits) != 11 {
			return "", fmt.Errorf("%w: sbp phone number length", domain.ErrInvalidInput)
		}
	default:
		return "", fmt.Errorf("%w: unknown method type %q", domain.ErrInvalidInput, methodType)
	}
	return digits, nil
}

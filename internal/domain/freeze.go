package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FreezeParams are the inputs of the exposure calculation for one transaction.
type FreezeParams struct {
	AmountRub    decimal.Decimal
	BaseRate     decimal.Decimal
	KKKPercent   decimal.Decimal
	KKKOperation KKKOperation
	FeePercent   decimal.Decimal
}

// Freeze is the USDT exposure reserved on the trader for one transaction.
type Freeze struct {
	AdjustedRate decimal.Decimal
	FrozenUsdt   decimal.Decimal
	Commission   decimal.Decimal
}

// Total is the full amount reserved against the trader's balance.
func (f Freeze) Total() decimal.Decimal {
	return f.FrozenUsdt.Add(f.Commission)
}

// ComputeFreeze applies the KKK adjustment to the base rate and derives the
// frozen amount and commission. Reserved amounts are rounded up to cents.
func ComputeFreeze(p FreezeParams) (Freeze, error) {
	if !p.AmountRub.IsPositive() {
		return Freeze{}, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidInput, p.AmountRub)
	}
	if p.KKKPercent.IsNegative() || p.FeePercent.IsNegative() {
		return Freeze{}, fmt.Errorf("%w: percentages must not be negative", ErrInvalidInput)
	}

	adjusted, err := AdjustRate(p.BaseRate, p.KKKPercent, p.KKKOperation)
	if err != nil {
		return Freeze{}, err
	}

	frozen := Ceil2(p.AmountRub.Div(adjusted))
	commission := Ceil2(frozen.Mul(p.FeePercent).Div(hundred))

	return Freeze{
		AdjustedRate: adjusted,
		FrozenUsdt:   frozen,
		Commission:   commission,
	}, nil
}

// AdjustRate returns base × (1 ∓ kkk/100). A non-positive result is rejected.
func AdjustRate(base, kkkPercent decimal.Decimal, op KKKOperation) (decimal.Decimal, error) {
	factor := decimal.NewFromInt(1)
	switch op {
	case KKKPlus:
		factor = factor.Add(kkkPercent.Div(hundred))
	case KKKMinus, "":
		factor = factor.Sub(kkkPercent.Div(hundred))
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown kkk operation %q", ErrInvalidInput, op)
	}

	adjusted := base.Mul(factor)
	if !adjusted.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: adjusted rate must be positive, got %s", ErrInvalidInput, adjusted)
	}
	return adjusted, nil
}

// TraderProfit is the profit credited on settlement: the commission reserved
// at allocation, truncated to cents.
func TraderProfit(commission decimal.Decimal) decimal.Decimal {
	return Floor2(commission)
}

func Ceil2(d decimal.Decimal) decimal.Decimal {
	return d.RoundCeil(2)
}

func Floor2(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(2)
}

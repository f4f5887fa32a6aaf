package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CurrencyRUB  = "RUB"
	CurrencyUSDT = "USDT"
)

var microsPerUnit = decimal.NewFromInt(1_000_000)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // RUB or USDT
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return FromMicros(m.Amount)
}

// FromDecimal converts a decimal.Decimal to int64 micros, truncating anything
// below one micro.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(microsPerUnit).IntPart()
}

// FromMicros converts stored micros back to a decimal.
func FromMicros(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(microsPerUnit)
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

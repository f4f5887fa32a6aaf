// Package rates supplies the base USDT/RUB rate used to freeze trader funds.
package rates

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("base rate unavailable")

// Provider returns the current base rate in RUB per USDT.
type Provider interface {
	BaseRate(ctx context.Context) (decimal.Decimal, error)
}

// Static always returns the same rate.
type Static struct {
	rate decimal.Decimal
}

func NewStatic(rate decimal.Decimal) *Static {
	return &Static{rate: rate}
}

func (s *Static) BaseRate(context.Context) (decimal.Decimal, error) {
	if !s.rate.IsPositive() {
		return decimal.Zero, ErrUnavailable
	}
	return s.rate, nil
}

package service

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateSource supplies the base rate (RUB per USDT) at allocation time.
// rates.Static, rates.CBR and rates.Cached all satisfy it.
type RateSource interface {
	BaseRate(ctx context.Context) (decimal.Decimal, error)
}

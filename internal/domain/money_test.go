package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, CurrencyUSDT) // 10.50 USDT
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestFromDecimal(t *testing.T) {
	d := decimal.RequireFromString("105.27")
	micros := FromDecimal(d)
	assert.Equal(t, int64(105_270_000), micros)
}

func TestFromDecimal_TruncatesBelowMicro(t *testing.T) {
	d := decimal.RequireFromString("0.0000019")
	assert.Equal(t, int64(1), FromDecimal(d))
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "10000.00 RUB", NewMoney(10_000_000_000, CurrencyRUB).String())
}

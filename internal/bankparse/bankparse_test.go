package bankparse

import (
	"errors"
	"testing"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAmount(t *testing.T) {
	cases := []struct {
		name string
		bank domain.BankType
		text string
		want string
	}{
		{"tbank", domain.BankTBank, "Пополнение, счет RUB. 1000.50 ₽ от Иван И. Баланс: 5500.75 ₽", "1000.50"},
		{"sber", domain.BankSberbank, "СБЕР +3000.00₽ перевод от Мария М. Баланс: 15000₽", "3000"},
		{"vtb", domain.BankVTB, "Поступление 1500.50₽ Счет*1234. Баланс: 8500.25₽", "1500.50"},
		{"vtb without sign", domain.BankVTB, "Поступление 3201 Счет*1234. Баланс: 9000", "3201"},
		{"alfa", domain.BankAlfa, "Перевод +2500 р от Петр П. Баланс: 10000 р", "2500"},
		{"gazprom", domain.BankGazprom, "Перевод зачисление 5000₽ от Дмитрий Д. Баланс: 20000₽", "5000"},
		{"grouped with nbsp", domain.BankVTB, "Поступление 3 001,00 ₽ Счет*1234", "3001"},
		{"generic fallback", domain.BankOzon, "Поступил перевод 999.99 руб. Карта *7890. Баланс: 5555.55 руб", "999.99"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractAmount(tc.bank, tc.text)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tc.want).Equal(got), "got %s", got)
		})
	}
}

func TestExtractAmountFailure(t *testing.T) {
	_, err := ExtractAmount(domain.BankTBank, "Вход в приложение")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrParseFailed))
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"3001":     "3001",
		"3 001,00": "3001",
		"1.234,56": "1234.56",
		"1,234.56": "1234.56",
		"3,001":    "3001",
		"3.001":    "3001",
		"12,5":     "12.5",
		"5 500":    "5500",
	}
	for raw, want := range cases {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		assert.True(t, decimal.RequireFromString(want).Equal(got), "%q parsed as %s", raw, got)
	}

	_, err := ParseAmount("  ")
	assert.ErrorIs(t, err, domain.ErrParseFailed)
	_, err = ParseAmount("12a")
	assert.ErrorIs(t, err, domain.ErrParseFailed)
}

func TestBankResolution(t *testing.T) {
	b, ok := BankFromPackage("ru.sberbankmobile")
	require.True(t, ok)
	assert.Equal(t, domain.BankSberbank, b)

	_, ok = BankFromPackage("com.example.unknown")
	assert.False(t, ok)

	b, ok = DetectBank("ВТБ: Поступление 100₽")
	require.True(t, ok)
	assert.Equal(t, domain.BankVTB, b)

	_, ok = DetectBank("no bank mentioned")
	assert.False(t, ok)
}

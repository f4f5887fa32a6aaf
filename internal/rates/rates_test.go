package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dailyXML = `<?xml version="1.0" encoding="windows-1251"?>
<ValCurs Date="16.10.2026" name="Foreign Currency Market">
  <Valute ID="R01235">
    <NumCode>840</NumCode>
    <CharCode>USD</CharCode>
    <Nominal>1</Nominal>
    <Name>US Dollar</Name>
    <Value>92,5058</Value>
  </Valute>
  <Valute ID="R01375">
    <NumCode>156</NumCode>
    <CharCode>CNY</CharCode>
    <Nominal>10</Nominal>
    <Name>Yuan</Name>
    <Value>127,4000</Value>
  </Valute>
</ValCurs>`

func TestParseDaily(t *testing.T) {
	usd, err := parseDaily([]byte(dailyXML), "USD")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("92.5058").Equal(usd))

	cny, err := parseDaily([]byte(dailyXML), "CNY")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.74").Equal(cny))

	_, err = parseDaily([]byte(dailyXML), "EUR")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = parseDaily([]byte("not xml"), "USD")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCBRFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(dailyXML))
	}))
	defer srv.Close()

	rate, err := NewCBR(srv.URL).BaseRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "92.5058", rate.String())
}

func TestCBRUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewCBR(srv.URL).BaseRate(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

type flakyProvider struct {
	rate  decimal.Decimal
	fail  bool
	calls int
}

func (f *flakyProvider) BaseRate(context.Context) (decimal.Decimal, error) {
	f.calls++
	if f.fail {
		return decimal.Zero, errors.New("upstream down")
	}
	return f.rate, nil
}

func TestCachedServesLastGood(t *testing.T) {
	up := &flakyProvider{rate: decimal.NewFromInt(95)}
	c := NewCached(up, nil, 0)

	rate, err := c.BaseRate(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(95).Equal(rate))

	up.fail = true
	rate, err = c.BaseRate(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(95).Equal(rate))
	assert.Equal(t, 2, up.calls)
}

func TestCachedNoRateYet(t *testing.T) {
	c := NewCached(&flakyProvider{fail: true}, nil, 0)
	_, err := c.BaseRate(context.Background())
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	rate, err := NewStatic(decimal.NewFromInt(100)).BaseRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "100", rate.String())

	_, err = NewStatic(decimal.Zero).BaseRate(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

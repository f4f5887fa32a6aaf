package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// CBR reads the official USD/RUB rate from the Central Bank daily XML feed.
type CBR struct {
	url        string
	charCode   string
	httpClient *http.Client
}

func NewCBR(url string) *CBR {
	return &CBR{
		url:        url,
		charCode:   "USD",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CBR) BaseRate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build cbr request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: cbr status %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read cbr response: %w", err)
	}

	rate, err := parseDaily(body, c.charCode)
	if err != nil {
		return decimal.Zero, err
	}
	zap.L().Debug("cbr rate fetched", zap.String("currency", c.charCode), zap.String("rate", rate.String()))
	return rate, nil
}

// parseDaily extracts Value/Nominal for charCode from an XML_daily document.
// Values use a decimal comma.
func parseDaily(body []byte, charCode string) (decimal.Decimal, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: parse cbr xml: %v", ErrUnavailable, err)
	}

	valute := doc.FindElement(fmt.Sprintf("//Valute[CharCode='%s']", charCode))
	if valute == nil {
		return decimal.Zero, fmt.Errorf("%w: %s not found in cbr feed", ErrUnavailable, charCode)
	}
	valueEl := valute.FindElement("./Value")
	if valueEl == nil {
		return decimal.Zero, fmt.Errorf("%w: <Value> missing for %s", ErrUnavailable, charCode)
	}
	value, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(valueEl.Text()), ",", "."))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad value %q", ErrUnavailable, valueEl.Text())
	}

	nominal := decimal.NewFromInt(1)
	if el := valute.FindElement("./Nominal"); el != nil {
		if n, err := decimal.NewFromString(strings.TrimSpace(el.Text())); err == nil && n.IsPositive() {
			nominal = n
		}
	}
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive rate", ErrUnavailable)
	}
	return value.Div(nominal), nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "windows-1251", "cp1251":
		return charmap.Windows1251.NewDecoder().Reader(input), nil
	case "", "utf-8", "utf8":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}

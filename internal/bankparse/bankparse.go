// Package bankparse extracts the credited amount and the issuing bank from
// bank push-notification text.
package bankparse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// amt captures an amount with optional space/nbsp grouping, dot or comma
// thousands groups and a one or two digit fraction.
const amt = `(\d[\d \x{00A0}\x{202F}]*(?:[.,]\d{3})*(?:[.,]\d{1,2})?)`

// currency allows ordinary, no-break and narrow no-break spaces before the sign.
const currency = `[\s\x{00A0}\x{202F}]*(?:₽|RUB|RUR|руб|р)`

type bank struct {
	bank     domain.BankType
	aliases  []string
	packages []string
	amounts  []*regexp.Regexp
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		e = strings.ReplaceAll(e, "{amt}", amt)
		e = strings.ReplaceAll(e, "{cur}", currency)
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

var banks = []bank{
	{
		bank:     domain.BankTBank,
		aliases:  []string{"Тинькофф", "Tinkoff", "T-Bank", "Т-Банк"},
		packages: []string{"com.idamob.tinkoff.android", "ru.tinkoff", "ru.tinkoff.sme"},
		amounts: patterns(
			`(?:Пополнение|Перевод|Поступление|Зачисление)[,\s]+(?:счет\s+RUB\.\s*)?\+?{amt}{cur}`,
			`на\s+{amt}{cur}`,
		),
	},
	{
		bank:     domain.BankSberbank,
		aliases:  []string{"Сбербанк", "Sberbank", "СБЕР"},
		packages: []string{"ru.sberbankmobile", "com.sberbank", "ru.sberbank.android"},
		amounts: patterns(
			`СБЕР\s*\+?{amt}{cur}`,
			`(?:Перевод|зачисление|поступление)\s+(?:от\s+[^\d+]+?\s+)?\+?{amt}{cur}`,
		),
	},
	{
		bank:     domain.BankVTB,
		aliases:  []string{"ВТБ", "VTB"},
		packages: []string{"ru.vtb24.mobilebanking.android", "ru.vtb24", "ru.vtb"},
		amounts: patterns(
			`Поступление\s+{amt}{cur}`,
			`Поступление\s+{amt}\s+Сч[её]т\*`,
			`(?:Перевод|Зачисление)(?:\s+из\s+[^+\d]+)?\s*\+?{amt}{cur}`,
		),
	},
	{
		bank:     domain.BankAlfa,
		aliases:  []string{"Альфа-Банк", "Альфа Банк", "Alfa-Bank", "Alfabank"},
		packages: []string{"ru.alfabank.mobile.android", "ru.alfabank"},
		amounts: patterns(
			`(?:Перевод|Зачисление|Пополнение)(?:\s+из\s+[^+\d]+)?\s*\+?{amt}{cur}`,
		),
	},
	{
		bank:     domain.BankGazprom,
		aliases:  []string{"Газпромбанк", "Gazprombank"},
		packages: []string{"ru.gazprombank.android.mobilebank.app", "ru.gazprombank.android", "ru.gazprombank"},
		amounts: patterns(
			`Перевод\s+зачисление\s+{amt}{cur}`,
			`(?:Перевод|зачисление|пополнение)(?:\s+из\s+[^+\d]+)?\s*\+?{amt}{cur}`,
		),
	},
	{
		bank:     domain.BankRaiffeisen,
		aliases:  []string{"Райффайзенбанк", "Raiffeisen"},
		packages: []string{"ru.raiffeisen.mobile.new", "ru.raiffeisen", "ru.raiffeisenbank"},
		amounts: patterns(
			`(?:Пополнение|Перевод от|Зачисление)[^\d+]*\+?{amt}{cur}`,
			`\+{amt}[\s\x{00A0}]*RUB`,
			`Поступление\s+{amt}{cur}`,
		),
	},
	{
		bank:     domain.BankPochta,
		aliases:  []string{"Почта Банк", "Pochtabank"},
		packages: []string{"ru.pochta.bank"},
		amounts:  patterns(`(?:Пополнение|Перевод|Зачисление)[^\d+]*\+?{amt}{cur}`),
	},
	{
		bank:     domain.BankOzon,
		aliases:  []string{"Озон Банк", "Ozon Bank"},
		packages: []string{"ru.ozon.bank"},
		amounts:  patterns(`(?:Пополнение|Перевод|Зачисление|Поступление)[^\d+]*\+?{amt}{cur}`),
	},
	{
		bank:     domain.BankPSB,
		aliases:  []string{"Промсвязьбанк", "ПСБ", "PSB"},
		packages: []string{"ru.psbank.android", "ru.psb"},
		amounts:  patterns(`(?:Пополнение|Перевод|Зачисление|Поступление)[^\d+]*\+?{amt}{cur}`),
	},
	{
		bank:     domain.BankMTS,
		aliases:  []string{"МТС Банк", "MTS Bank"},
		packages: []string{"ru.mts.bank", "ru.mtsbank"},
		amounts:  patterns(`(?:Пополнение|Перевод|Зачисление|Поступление)[^\d+]*\+?{amt}{cur}`),
	},
	{
		bank:     domain.BankOTP,
		aliases:  []string{"ОТП Банк", "OTP Bank"},
		packages: []string{"ru.otpbank"},
		amounts:  patterns(`(?:Пополнение|Перевод|Зачисление|Поступление)[^\d+]*\+?{amt}{cur}`),
	},
	{
		bank:     domain.BankHomeCredit,
		aliases:  []string{"Хоум Кредит", "Home Credit"},
		packages: []string{"ru.homecredit.bank"},
		amounts:  patterns(`(?:Пополнение|Перевод|Зачисление|Поступление)[^\d+]*\+?{amt}{cur}`),
	},
	{
		bank:     domain.BankRosselkhoz,
		aliases:  []string{"Россельхозбанк", "РСХБ"},
		packages: []string{"ru.rshb.mbank"},
		amounts:  patterns(`(?:Пополнение|Перевод|Зачисление|Поступление)[^\d+]*\+?{amt}{cur}`),
	},
	{
		bank:     domain.BankSovcombank,
		aliases:  []string{"Совкомбанк", "Sovcombank"},
		packages: []string{"ru.sovcomcard.halva.v1", "ru.sovcombank"},
		amounts:  patterns(`(?:Пополнение|Перевод|Зачисление|Поступление)[^\d+]*\+?{amt}{cur}`),
	},
}

// generic patterns run after the bank specific ones. They only accept
// explicit credit wording or a leading plus so balances are not mistaken for
// the incoming amount.
var generic = patterns(
	`(?:Поступление|Поступил перевод|Зачисление|Пополнение|Перевод|Входящий перевод)[^\d+]*\+?{amt}{cur}`,
	`\+\s?{amt}{cur}`,
)

var (
	byBank    = map[domain.BankType]*bank{}
	byPackage = map[string]domain.BankType{}
)

func init() {
	for i := range banks {
		b := &banks[i]
		byBank[b.bank] = b
		for _, p := range b.packages {
			byPackage[p] = b.bank
		}
	}
}

// BankFromPackage resolves the bank from the Android package that posted the
// notification.
func BankFromPackage(pkg string) (domain.BankType, bool) {
	b, ok := byPackage[strings.ToLower(strings.TrimSpace(pkg))]
	return b, ok
}

// DetectBank looks for a bank name in the text itself.
func DetectBank(text string) (domain.BankType, bool) {
	lower := strings.ToLower(text)
	for _, b := range banks {
		for _, alias := range b.aliases {
			if strings.Contains(lower, strings.ToLower(alias)) {
				return b.bank, true
			}
		}
	}
	return "", false
}

// ExtractAmount returns the credited amount for bank. Bank specific patterns
// are tried first, then the generic credit patterns.
func ExtractAmount(bankType domain.BankType, text string) (decimal.Decimal, error) {
	var exprs []*regexp.Regexp
	if b, ok := byBank[bankType]; ok {
		exprs = append(exprs, b.amounts...)
	}
	exprs = append(exprs, generic...)

	for _, re := range exprs {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		v, err := ParseAmount(m[1])
		if err != nil || !v.IsPositive() {
			continue
		}
		return v, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrParseFailed, bankType)
}

// ParseAmount normalises a captured amount. Spaces group thousands; the last
// dot or comma is a decimal separator only when followed by one or two digits.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", domain.ErrParseFailed)
	}

	last := strings.LastIndexAny(s, ".,")
	if last >= 0 {
		intPart, frac := s[:last], s[last+1:]
		intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
		if len(frac) == 1 || len(frac) == 2 {
			s = intPart + "." + frac
		} else {
			s = intPart + frac
		}
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrParseFailed, raw)
	}
	return v, nil
}

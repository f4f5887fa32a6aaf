package domain

import (
	"fmt"
	"strings"
)

// Direction of a transaction relative to the trader's requisite.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// MethodType is the payment rail a requisite serves.
type MethodType string

const (
	MethodTypeCard MethodType = "card"
	MethodTypeSBP  MethodType = "sbp"
)

func ParseMethodType(s string) (MethodType, error) {
	switch MethodType(strings.ToLower(strings.TrimSpace(s))) {
	case MethodTypeCard:
		return MethodTypeCard, nil
	case MethodTypeSBP:
		return MethodTypeSBP, nil
	}
	return "", fmt.Errorf("%w: unknown method type %q", ErrInvalidInput, s)
}

// KKKOperation selects whether the KKK percent lowers or raises the base rate.
type KKKOperation string

const (
	KKKMinus KKKOperation = "MINUS"
	KKKPlus  KKKOperation = "PLUS"
)

func ParseKKKOperation(s string) (KKKOperation, error) {
	switch KKKOperation(strings.ToUpper(strings.TrimSpace(s))) {
	case KKKMinus, "":
		return KKKMinus, nil
	case KKKPlus:
		return KKKPlus, nil
	}
	return "", fmt.Errorf("%w: unknown kkk operation %q", ErrInvalidInput, s)
}

// BankType identifies the issuing bank of a requisite or notification.
type BankType string

const (
	BankTBank      BankType = "TBANK"
	BankSberbank   BankType = "SBERBANK"
	BankVTB        BankType = "VTB"
	BankAlfa       BankType = "ALFABANK"
	BankGazprom    BankType = "GAZPROMBANK"
	BankRaiffeisen BankType = "RAIFFEISEN"
	BankPochta     BankType = "POCHTABANK"
	BankOzon       BankType = "OZONBANK"
	BankPSB        BankType = "PSB"
	BankMTS        BankType = "MTSBANK"
	BankOTP        BankType = "OTPBANK"
	BankHomeCredit BankType = "HOMECREDIT"
	BankRosselkhoz BankType = "ROSSELKHOZBANK"
	BankSovcombank BankType = "SOVCOMBANK"
)

var knownBanks = map[BankType]struct{}{
	BankTBank: {}, BankSberbank: {}, BankVTB: {}, BankAlfa: {}, BankGazprom: {},
	BankRaiffeisen: {}, BankPochta: {}, BankOzon: {}, BankPSB: {}, BankMTS: {},
	BankOTP: {}, BankHomeCredit: {}, BankRosselkhoz: {}, BankSovcombank: {},
}

func ParseBankType(s string) (BankType, error) {
	b := BankType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownBanks[b]; !ok {
		return "", fmt.Errorf("%w: unknown bank type %q", ErrInvalidInput, s)
	}
	return b, nil
}

// Reasons recorded on processed notifications.
const (
	ReasonMatched       = "MATCHED"
	ReasonNoDevice      = "NO_DEVICE"
	ReasonUnknownBank   = "UNKNOWN_BANK"
	ReasonParseFailed   = "PARSE_FAILED"
	ReasonNoMatchingTxn = "NO_MATCHING_TRANSACTION"
	ReasonError         = "ERROR"
)

// Audit entity types.
const (
	EntityTransaction = "transaction"
	EntityRequisite   = "requisite"
	EntityTrader      = "trader"
)

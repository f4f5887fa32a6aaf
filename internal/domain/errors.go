package domain

import "errors"

var (
	ErrNoRequisite         = errors.New("no requisite available")
	ErrInvalidInput        = errors.New("invalid input")
	ErrParseFailed         = errors.New("amount could not be parsed")
	ErrNoMatch             = errors.New("no matching transaction")
	ErrCallbackFailed      = errors.New("callback delivery failed")
	ErrStaleState          = errors.New("stale state")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateOrder      = errors.New("order id already used by merchant")
	ErrMerchantDisabled    = errors.New("merchant is disabled")
	ErrMethodUnavailable   = errors.New("method is not available for merchant")
	ErrInsufficientBalance = errors.New("insufficient trader balance")
)

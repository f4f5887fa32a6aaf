package models

import (
	"encoding/json"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/google/uuid"
)

// Money columns are BIGINT micros (10^-6); see domain.FromMicros.

type Merchant struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	APIKey         string    `json:"-"`
	CallbackSecret string    `json:"-"`
	Disabled       bool      `json:"disabled"`
	CreatedAt      time.Time `json:"created_at"`
}

type Method struct {
	ID           uuid.UUID           `json:"id"`
	Code         string              `json:"code"`
	Type         domain.MethodType   `json:"type"`
	KKKPercent   int64               `json:"kkk_percent_micros"`
	KKKOperation domain.KKKOperation `json:"kkk_operation"`
	Enabled      bool                `json:"enabled"`
}

type MerchantMethod struct {
	MerchantID uuid.UUID `json:"merchant_id"`
	MethodID   uuid.UUID `json:"method_id"`
	Enabled    bool      `json:"enabled"`
}

type Trader struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	TrustBalance          int64     `json:"trust_balance_micros"`
	FrozenUsdt            int64     `json:"frozen_usdt_micros"`
	ProfitFromDeals       int64     `json:"profit_from_deals_micros"`
	Deposit               int64     `json:"deposit_micros"`
	Banned                bool      `json:"banned"`
	TrafficEnabled        bool      `json:"traffic_enabled"`
	MinAmountPerRequisite int64     `json:"min_amount_per_requisite_micros"`
	MaxAmountPerRequisite int64     `json:"max_amount_per_requisite_micros"`
	DisputeLimit          int32     `json:"dispute_limit"`
}

// Available is the part of the trust balance not yet reserved.
func (t Trader) Available() int64 {
	return t.TrustBalance - t.FrozenUsdt
}

// TraderMerchant connects a trader to a merchant for a method.
type TraderMerchant struct {
	TraderID          uuid.UUID `json:"trader_id"`
	MerchantID        uuid.UUID `json:"merchant_id"`
	MethodID          uuid.UUID `json:"method_id"`
	IsMerchantEnabled bool      `json:"is_merchant_enabled"`
	IsFeeInEnabled    bool      `json:"is_fee_in_enabled"`
	IsFeeOutEnabled   bool      `json:"is_fee_out_enabled"`
	FeeIn             int64     `json:"fee_in_micros"`
	FeeOut            int64     `json:"fee_out_micros"`
}

type Device struct {
	ID           uuid.UUID  `json:"id"`
	TraderID     uuid.UUID  `json:"trader_id"`
	Token        string     `json:"-"`
	Name         string     `json:"name"`
	IsOnline     bool       `json:"is_online"`
	IsWorking    bool       `json:"is_working"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

// Ready reports whether the device can confirm incoming payments.
func (d Device) Ready() bool {
	return d.IsOnline && d.IsWorking
}

type BankRequisite struct {
	ID              uuid.UUID         `json:"id"`
	TraderID        uuid.UUID         `json:"trader_id"`
	MethodType      domain.MethodType `json:"method_type"`
	BankType        domain.BankType   `json:"bank_type"`
	CardNumber      string            `json:"card_number"`
	RecipientName   string            `json:"recipient_name"`
	MinAmount       int64             `json:"min_amount_micros"`
	MaxAmount       int64             `json:"max_amount_micros"`
	DailyLimit      int64             `json:"daily_limit_micros"`
	MonthlyLimit    int64             `json:"monthly_limit_micros"`
	MaxTransactions int32             `json:"max_transactions"`
	IsArchived      bool              `json:"is_archived"`
	IsActive        bool              `json:"is_active"`
	DeviceID        *uuid.UUID        `json:"device_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// RequisiteCandidate is a requisite joined with everything the allocator
// filters on. Device and Connection are nil when no row exists.
type RequisiteCandidate struct {
	Requisite        BankRequisite
	Trader           Trader
	Device           *Device
	Connection       *TraderMerchant
	OpenDisputes     int64
	DailyCount       int64
	DailyTurnover    int64
	MonthlyTurnover  int64
	SameAmountActive bool
}

type Transaction struct {
	ID                    uuid.UUID           `json:"id"`
	Number                int64               `json:"number"`
	Direction             domain.Direction    `json:"direction"`
	MerchantID            uuid.UUID           `json:"merchant_id"`
	MethodID              uuid.UUID           `json:"method_id"`
	OrderID               string              `json:"order_id"`
	Amount                int64               `json:"amount_micros"`
	RequisiteID           *uuid.UUID          `json:"requisite_id,omitempty"`
	TraderID              *uuid.UUID          `json:"trader_id,omitempty"`
	BankType              domain.BankType     `json:"bank_type,omitempty"`
	BaseRate              int64               `json:"base_rate_micros"`
	AdjustedRate          int64               `json:"adjusted_rate_micros"`
	KKKPercent            int64               `json:"kkk_percent_micros"`
	KKKOperation          domain.KKKOperation `json:"kkk_operation"`
	FeePercent            int64               `json:"fee_percent_micros"`
	FrozenUsdt            int64               `json:"frozen_usdt_micros"`
	Commission            int64               `json:"commission_micros"`
	TraderProfit          int64               `json:"trader_profit_micros"`
	Status                domain.Status       `json:"status"`
	MatchedNotificationID *uuid.UUID          `json:"matched_notification_id,omitempty"`
	CallbackURL           string              `json:"callback_url"`
	SuccessURL            string              `json:"success_url,omitempty"`
	FailURL               string              `json:"fail_url,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
	AcceptedAt            *time.Time          `json:"accepted_at,omitempty"`
	SettledAt             *time.Time          `json:"settled_at,omitempty"`
	ExpiresAt             time.Time           `json:"expires_at"`
}

// Reserved is the total amount held on the trader for this transaction.
func (t Transaction) Reserved() int64 {
	return t.FrozenUsdt + t.Commission
}

// Settled reports whether the reservation was already converted into a debit.
func (t Transaction) Settled() bool {
	return t.SettledAt != nil
}

type Notification struct {
	ID              uuid.UUID       `json:"id"`
	DeviceID        *uuid.UUID      `json:"device_id,omitempty"`
	PackageName     string          `json:"package_name"`
	Message         string          `json:"message"`
	Timestamp       time.Time       `json:"timestamp"`
	IsProcessed     bool            `json:"is_processed"`
	ProcessedReason string          `json:"processed_reason,omitempty"`
	ParsedAmount    *int64          `json:"parsed_amount_micros,omitempty"`
	BankType        domain.BankType `json:"bank_type,omitempty"`
	TransactionID   *uuid.UUID      `json:"transaction_id,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type CallbackHistory struct {
	ID            int64           `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	URL           string          `json:"url"`
	Payload       json.RawMessage `json:"payload"`
	StatusCode    *int32          `json:"status_code,omitempty"`
	Response      string          `json:"response,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempt       int32           `json:"attempt"`
	CreatedAt     time.Time       `json:"created_at"`
}

package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/google/uuid"
)

// Querier is the data access contract of the settlement services. Lookups
// return domain.ErrNotFound when no row exists; guarded updates return the
// number of affected rows so callers can detect lost races.
type Querier interface {
	CreateMerchant(ctx context.Context, m models.Merchant) (models.Merchant, error)
	GetMerchant(ctx context.Context, id uuid.UUID) (models.Merchant, error)
	GetMerchantByAPIKey(ctx context.Context, apiKey string) (models.Merchant, error)
	CreateMethod(ctx context.Context, m models.Method) (models.Method, error)
	GetMethod(ctx context.Context, id uuid.UUID) (models.Method, error)
	GetMethodByCode(ctx context.Context, code string) (models.Method, error)
	UpsertMerchantMethod(ctx context.Context, mm models.MerchantMethod) error
	GetMerchantMethod(ctx context.Context, merchantID, methodID uuid.UUID) (models.MerchantMethod, error)

	CreateTrader(ctx context.Context, t models.Trader) (models.Trader, error)
	GetTrader(ctx context.Context, id uuid.UUID) (models.Trader, error)
	UpsertTraderMerchant(ctx context.Context, tm models.TraderMerchant) error
	CreditTraderTrust(ctx context.Context, traderID uuid.UUID, amount int64) (int64, error)
	FreezeTraderFunds(ctx context.Context, traderID uuid.UUID, amount int64) (int64, error)
	ReleaseTraderFunds(ctx context.Context, traderID uuid.UUID, amount int64) (int64, error)
	SettleTraderFunds(ctx context.Context, arg SettleTraderFundsParams) (int64, error)
	ListFrozenImbalances(ctx context.Context) ([]FrozenImbalance, error)

	CreateDevice(ctx context.Context, d models.Device) (models.Device, error)
	GetDevice(ctx context.Context, id uuid.UUID) (models.Device, error)
	GetDeviceByToken(ctx context.Context, token string) (models.Device, error)
	TouchDevice(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	MarkStaleDevicesOffline(ctx context.Context, before time.Time) (int64, error)

	CreateRequisite(ctx context.Context, r models.BankRequisite) (models.BankRequisite, error)
	GetRequisite(ctx context.Context, id uuid.UUID) (models.BankRequisite, error)
	ListDeviceRequisites(ctx context.Context, deviceID uuid.UUID) ([]models.BankRequisite, error)
	FindRequisiteCandidates(ctx context.Context, arg RequisiteCandidateParams) ([]models.RequisiteCandidate, error)
	TouchRequisite(ctx context.Context, id uuid.UUID, prevUpdatedAt, now time.Time) (int64, error)
	ArchiveRequisite(ctx context.Context, id uuid.UUID, now time.Time) (int64, error)

	CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionByOrderID(ctx context.Context, merchantID uuid.UUID, orderID string) (models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error)
	MarkTransactionSettled(ctx context.Context, arg MarkTransactionSettledParams) (int64, error)
	LinkTransactionNotification(ctx context.Context, transactionID, notificationID uuid.UUID) (int64, error)
	ListExpiredTransactions(ctx context.Context, now time.Time, limit int32) ([]models.Transaction, error)
	FindMatchCandidates(ctx context.Context, arg MatchCandidateParams) ([]models.Transaction, error)

	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (models.Notification, error)
	ListUnprocessedNotifications(ctx context.Context, limit int32) ([]models.Notification, error)
	MarkNotificationProcessed(ctx context.Context, arg MarkNotificationProcessedParams) (int64, error)

	InsertCallbackHistory(ctx context.Context, h models.CallbackHistory) (models.CallbackHistory, error)
	ListCallbackHistory(ctx context.Context, transactionID uuid.UUID) ([]models.CallbackHistory, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error)
}

type SettleTraderFundsParams struct {
	TraderID uuid.UUID
	Reserved int64
	Profit   int64
}

// FrozenImbalance is a trader whose frozen balance does not equal the sum
// held by its unsettled transactions.
type FrozenImbalance struct {
	TraderID uuid.UUID
	Frozen   int64
	Held     int64
}

type RequisiteCandidateParams struct {
	MethodType domain.MethodType
	MerchantID uuid.UUID
	MethodID   uuid.UUID
	Amount     int64
	DayStart   time.Time
	MonthStart time.Time
}

type UpdateTransactionStatusParams struct {
	ID         uuid.UUID
	From       domain.Status
	To         domain.Status
	UpdatedAt  time.Time
	AcceptedAt *time.Time
}

type MarkTransactionSettledParams struct {
	ID           uuid.UUID
	TraderProfit int64
	SettledAt    time.Time
}

type MatchCandidateParams struct {
	TraderID  uuid.UUID
	BankType  domain.BankType
	MinAmount int64
	MaxAmount int64
	From      time.Time
	To        time.Time
}

type MarkNotificationProcessedParams struct {
	ID            uuid.UUID
	Reason        string
	ParsedAmount  *int64
	BankType      domain.BankType
	TransactionID *uuid.UUID
	ProcessedAt   time.Time
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   json.RawMessage
}

var _ Querier = (*Queries)(nil)

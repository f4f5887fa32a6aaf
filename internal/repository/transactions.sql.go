package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const transactionColumns = `id, number, direction, merchant_id, method_id, order_id, amount, requisite_id, trader_id,
	bank_type, base_rate, adjusted_rate, kkk_percent, kkk_operation, fee_percent, frozen_usdt, commission, trader_profit,
	status, matched_notification_id, callback_url, success_url, fail_url, created_at, updated_at, accepted_at, settled_at, expires_at`

const createTransaction = `-- name: CreateTransaction :one
INSERT INTO transactions (id, direction, merchant_id, method_id, order_id, amount, requisite_id, trader_id,
	bank_type, base_rate, adjusted_rate, kkk_percent, kkk_operation, fee_percent, frozen_usdt, commission,
	status, callback_url, success_url, fail_url, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21, $22)
RETURNING ` + transactionColumns

func (q *Queries) CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	row := q.db.QueryRow(ctx, createTransaction,
		ToPgUUID(t.ID), string(t.Direction), ToPgUUID(t.MerchantID), ToPgUUID(t.MethodID), t.OrderID, t.Amount,
		toPgUUIDPtr(t.RequisiteID), toPgUUIDPtr(t.TraderID), string(t.BankType), t.BaseRate, t.AdjustedRate,
		t.KKKPercent, string(t.KKKOperation), t.FeePercent, t.FrozenUsdt, t.Commission,
		t.Status.String(), t.CallbackURL, t.SuccessURL, t.FailURL, t.CreatedAt, t.ExpiresAt,
	)
	return scanTransaction(row)
}

const getTransaction = `-- name: GetTransaction :one
SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1
`

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransaction, ToPgUUID(id)))
}

const getTransactionForUpdate = `-- name: GetTransactionForUpdate :one
SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionForUpdate, ToPgUUID(id)))
}

const getTransactionByOrderID = `-- name: GetTransactionByOrderID :one
SELECT ` + transactionColumns + ` FROM transactions WHERE merchant_id = $1 AND order_id = $2
`

func (q *Queries) GetTransactionByOrderID(ctx context.Context, merchantID uuid.UUID, orderID string) (models.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByOrderID, ToPgUUID(merchantID), orderID))
}

const updateTransactionStatus = `-- name: UpdateTransactionStatus :execrows
UPDATE transactions
SET status = $3, updated_at = $4, accepted_at = COALESCE($5, accepted_at)
WHERE id = $1 AND status = $2
`

// UpdateTransactionStatus only applies when the row is still in From.
func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTransactionStatus,
		ToPgUUID(arg.ID), arg.From.String(), arg.To.String(), arg.UpdatedAt, toPgTime(arg.AcceptedAt),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markTransactionSettled = `-- name: MarkTransactionSettled :execrows
UPDATE transactions
SET trader_profit = $2, settled_at = $3
WHERE id = $1 AND settled_at IS NULL
`

func (q *Queries) MarkTransactionSettled(ctx context.Context, arg MarkTransactionSettledParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markTransactionSettled, ToPgUUID(arg.ID), arg.TraderProfit, arg.SettledAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const linkTransactionNotification = `-- name: LinkTransactionNotification :execrows
UPDATE transactions
SET matched_notification_id = $2
WHERE id = $1 AND matched_notification_id IS NULL
`

func (q *Queries) LinkTransactionNotification(ctx context.Context, transactionID, notificationID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, linkTransactionNotification, ToPgUUID(transactionID), ToPgUUID(notificationID))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listExpiredTransactions = `-- name: ListExpiredTransactions :many
SELECT ` + transactionColumns + `
FROM transactions
WHERE status = 'IN_PROGRESS' AND expires_at < $1
ORDER BY expires_at ASC
LIMIT $2
`

func (q *Queries) ListExpiredTransactions(ctx context.Context, now time.Time, limit int32) ([]models.Transaction, error) {
	return q.listTransactions(ctx, listExpiredTransactions, now, limit)
}

const findMatchCandidates = `-- name: FindMatchCandidates :many
SELECT ` + transactionColumns + `
FROM transactions
WHERE trader_id = $1
  AND direction = 'IN'
  AND status = 'IN_PROGRESS'
  AND bank_type = $2
  AND amount BETWEEN $3 AND $4
  AND created_at BETWEEN $5 AND $6
ORDER BY created_at ASC, number ASC
`

// FindMatchCandidates returns pending incoming transactions of a trader that
// a notification could confirm, oldest first.
func (q *Queries) FindMatchCandidates(ctx context.Context, arg MatchCandidateParams) ([]models.Transaction, error) {
	return q.listTransactions(ctx, findMatchCandidates,
		ToPgUUID(arg.TraderID), string(arg.BankType), arg.MinAmount, arg.MaxAmount, arg.From, arg.To,
	)
}

func (q *Queries) listTransactions(ctx context.Context, query string, args ...interface{}) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		t                                  models.Transaction
		id, merchant, method               pgtype.UUID
		requisite, trader, notification    pgtype.UUID
		direction, bankType, kkkOp, status string
		acceptedAt, settledAt              pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &t.Number, &direction, &merchant, &method, &t.OrderID, &t.Amount, &requisite, &trader,
		&bankType, &t.BaseRate, &t.AdjustedRate, &t.KKKPercent, &kkkOp, &t.FeePercent, &t.FrozenUsdt, &t.Commission, &t.TraderProfit,
		&status, &notification, &t.CallbackURL, &t.SuccessURL, &t.FailURL, &t.CreatedAt, &t.UpdatedAt, &acceptedAt, &settledAt, &t.ExpiresAt,
	)
	if err != nil {
		return models.Transaction{}, notFound(err)
	}

	st, err := domain.ParseStatus(status)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", FromPgUUID(id), err)
	}
	t.ID = FromPgUUID(id)
	t.Direction = domain.Direction(direction)
	t.MerchantID = FromPgUUID(merchant)
	t.MethodID = FromPgUUID(method)
	t.RequisiteID = fromPgUUIDPtr(requisite)
	t.TraderID = fromPgUUIDPtr(trader)
	t.BankType = domain.BankType(bankType)
	t.KKKOperation = domain.KKKOperation(kkkOp)
	t.Status = st
	t.MatchedNotificationID = fromPgUUIDPtr(notification)
	t.AcceptedAt = fromPgTime(acceptedAt)
	t.SettledAt = fromPgTime(settledAt)
	return t, nil
}

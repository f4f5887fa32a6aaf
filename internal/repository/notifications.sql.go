package repository

import (
	"context"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const notificationColumns = `id, device_id, package_name, message, timestamp, is_processed, processed_reason,
	parsed_amount, bank_type, transaction_id, processed_at, created_at`

const createNotification = `-- name: CreateNotification :one
INSERT INTO notifications (id, device_id, package_name, message, timestamp, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + notificationColumns

func (q *Queries) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	row := q.db.QueryRow(ctx, createNotification,
		ToPgUUID(n.ID), toPgUUIDPtr(n.DeviceID), n.PackageName, n.Message, n.Timestamp, n.CreatedAt,
	)
	return scanNotification(row)
}

const getNotification = `-- name: GetNotification :one
SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1
`

func (q *Queries) GetNotification(ctx context.Context, id uuid.UUID) (models.Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, getNotification, ToPgUUID(id)))
}

const listUnprocessedNotifications = `-- name: ListUnprocessedNotifications :many
SELECT ` + notificationColumns + `
FROM notifications
WHERE is_processed = FALSE
ORDER BY created_at ASC
LIMIT $1
`

func (q *Queries) ListUnprocessedNotifications(ctx context.Context, limit int32) ([]models.Notification, error) {
	rows, err := q.db.Query(ctx, listUnprocessedNotifications, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

const markNotificationProcessed = `-- name: MarkNotificationProcessed :execrows
UPDATE notifications
SET is_processed = TRUE,
    processed_reason = $2,
    parsed_amount = $3,
    bank_type = $4,
    transaction_id = $5,
    processed_at = $6
WHERE id = $1 AND is_processed = FALSE
`

// MarkNotificationProcessed flips the processed flag once. Zero rows means
// another worker got there first.
func (q *Queries) MarkNotificationProcessed(ctx context.Context, arg MarkNotificationProcessedParams) (int64, error) {
	var amount pgtype.Int8
	if arg.ParsedAmount != nil {
		amount = pgtype.Int8{Int64: *arg.ParsedAmount, Valid: true}
	}
	tag, err := q.db.Exec(ctx, markNotificationProcessed,
		ToPgUUID(arg.ID), arg.Reason, amount, toPgText(string(arg.BankType)), toPgUUIDPtr(arg.TransactionID), arg.ProcessedAt,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row rowScanner) (models.Notification, error) {
	var (
		n                models.Notification
		id, device, txID pgtype.UUID
		reason, bankType pgtype.Text
		amount           pgtype.Int8
		processedAt      pgtype.Timestamptz
	)
	err := row.Scan(&id, &device, &n.PackageName, &n.Message, &n.Timestamp, &n.IsProcessed, &reason,
		&amount, &bankType, &txID, &processedAt, &n.CreatedAt)
	if err != nil {
		return models.Notification{}, notFound(err)
	}
	n.ID = FromPgUUID(id)
	n.DeviceID = fromPgUUIDPtr(device)
	n.ProcessedReason = textPtr(reason)
	n.BankType = domain.BankType(textPtr(bankType))
	if amount.Valid {
		v := amount.Int64
		n.ParsedAmount = &v
	}
	n.TransactionID = fromPgUUIDPtr(txID)
	n.ProcessedAt = fromPgTime(processedAt)
	return n, nil
}

package repository

import (
	"context"

	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const insertCallbackHistory = `-- name: InsertCallbackHistory :one
INSERT INTO callback_history (transaction_id, url, payload, status_code, response, error, attempt, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, transaction_id, url, payload, status_code, response, error, attempt, created_at
`

func (q *Queries) InsertCallbackHistory(ctx context.Context, h models.CallbackHistory) (models.CallbackHistory, error) {
	var status pgtype.Int4
	if h.StatusCode != nil {
		status = pgtype.Int4{Int32: *h.StatusCode, Valid: true}
	}
	row := q.db.QueryRow(ctx, insertCallbackHistory,
		ToPgUUID(h.TransactionID), h.URL, h.Payload, status, toPgText(h.Response), toPgText(h.Error), h.Attempt, h.CreatedAt,
	)
	return scanCallbackHistory(row)
}

const listCallbackHistory = `-- name: ListCallbackHistory :many
SELECT id, transaction_id, url, payload, status_code, response, error, attempt, created_at
FROM callback_history
WHERE transaction_id = $1
ORDER BY id ASC
`

func (q *Queries) ListCallbackHistory(ctx context.Context, transactionID uuid.UUID) ([]models.CallbackHistory, error) {
	rows, err := q.db.Query(ctx, listCallbackHistory, ToPgUUID(transactionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.CallbackHistory
	for rows.Next() {
		h, err := scanCallbackHistory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

func scanCallbackHistory(row rowScanner) (models.CallbackHistory, error) {
	var (
		h                models.CallbackHistory
		txID             pgtype.UUID
		status           pgtype.Int4
		response, errMsg pgtype.Text
	)
	if err := row.Scan(&h.ID, &txID, &h.URL, &h.Payload, &status, &response, &errMsg, &h.Attempt, &h.CreatedAt); err != nil {
		return models.CallbackHistory{}, notFound(err)
	}
	h.TransactionID = FromPgUUID(txID)
	if status.Valid {
		v := status.Int32
		h.StatusCode = &v
	}
	h.Response = textPtr(response)
	h.Error = textPtr(errMsg)
	return h, nil
}

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

const requisiteColumns = `id, trader_id, method_type, bank_type, card_number, recipient_name, min_amount, max_amount,
	daily_limit, monthly_limit, max_transactions, is_archived, is_active, device_id, created_at, updated_at`

const createRequisite = `-- name: CreateRequisite :one
INSERT INTO bank_requisites (id, trader_id, method_type, bank_type, card_number, recipient_name,
	min_amount, max_amount, daily_limit, monthly_limit, max_transactions, is_active, device_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
RETURNING ` + requisiteColumns

func (q *Queries) CreateRequisite(ctx context.Context, r models.BankRequisite) (models.BankRequisite, error) {
	row := q.db.QueryRow(ctx, createRequisite,
		ToPgUUID(r.ID), ToPgUUID(r.TraderID), string(r.MethodType), string(r.BankType), r.CardNumber, r.RecipientName,
		r.MinAmount, r.MaxAmount, r.DailyLimit, r.MonthlyLimit, r.MaxTransactions, r.IsActive, toPgUUIDPtr(r.DeviceID), r.CreatedAt,
	)
	return scanRequisite(row)
}

const getRequisite = `-- name: GetRequisite :one
SELECT ` + requisiteColumns + ` FROM bank_requisites WHERE id = $1
`

func (q *Queries) GetRequisite(ctx context.Context, id uuid.UUID) (models.BankRequisite, error) {
	return scanRequisite(q.db.QueryRow(ctx, getRequisite, ToPgUUID(id)))
}

const listDeviceRequisites = `-- name: ListDeviceRequisites :many
SELECT ` + requisiteColumns + `
FROM bank_requisites
WHERE device_id = $1 AND is_archived = FALSE
ORDER BY created_at
`

func (q *Queries) ListDeviceRequisites(ctx context.Context, deviceID uuid.UUID) ([]models.BankRequisite, error) {
	rows, err := q.db.Query(ctx, listDeviceRequisites, ToPgUUID(deviceID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.BankRequisite
	for rows.Next() {
		r, err := scanRequisite(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

type requisiteDest struct {
	r               models.BankRequisite
	id, trader, dev pgtype.UUID
	methodType      string
	bankType        string
}

func (d *requisiteDest) fields() []interface{} {
	return []interface{}{
		&d.id, &d.trader, &d.methodType, &d.bankType, &d.r.CardNumber, &d.r.RecipientName, &d.r.MinAmount, &d.r.MaxAmount,
		&d.r.DailyLimit, &d.r.MonthlyLimit, &d.r.MaxTransactions, &d.r.IsArchived, &d.r.IsActive, &d.dev, &d.r.CreatedAt, &d.r.UpdatedAt,
	}
}

func (d *requisiteDest) value() models.BankRequisite {
	d.r.ID = FromPgUUID(d.id)
	d.r.TraderID = FromPgUUID(d.trader)
	d.r.DeviceID = fromPgUUIDPtr(d.dev)
	d.r.MethodType = domain.MethodType(d.methodType)
	d.r.BankType = domain.BankType(d.bankType)
	return d.r
}

func scanRequisite(row rowScanner) (models.BankRequisite, error) {
	var d requisiteDest
	if err := row.Scan(d.fields()...); err != nil {
		return models.BankRequisite{}, notFound(err)
	}
	return d.value(), nil
}

const findRequisiteCandidates = `-- name: FindRequisiteCandidates :many
SELECT
	r.id, r.trader_id, r.method_type, r.bank_type, r.card_number, r.recipient_name, r.min_amount, r.max_amount,
	r.daily_limit, r.monthly_limit, r.max_transactions, r.is_archived, r.is_active, r.device_id, r.created_at, r.updated_at,
	t.id, t.name, t.trust_balance, t.frozen_usdt, t.profit_from_deals, t.deposit, t.banned,
	t.traffic_enabled, t.min_amount_per_requisite, t.max_amount_per_requisite, t.dispute_limit,
	d.id, d.is_online, d.is_working, d.last_active_at,
	tm.trader_id, tm.is_merchant_enabled, tm.is_fee_in_enabled, tm.is_fee_out_enabled, tm.fee_in, tm.fee_out,
	(SELECT COUNT(*) FROM transactions x
		WHERE x.trader_id = r.trader_id AND x.status = 'DISPUTE') AS open_disputes,
	(SELECT COUNT(*) FROM transactions x
		WHERE x.requisite_id = r.id AND x.status <> 'CANCELED' AND x.created_at >= $5) AS daily_count,
	(SELECT COALESCE(SUM(x.amount), 0)::BIGINT FROM transactions x
		WHERE x.requisite_id = r.id AND x.status IN ('IN_PROGRESS', 'READY') AND x.created_at >= $5) AS daily_turnover,
	(SELECT COALESCE(SUM(x.amount), 0)::BIGINT FROM transactions x
		WHERE x.requisite_id = r.id AND x.status IN ('IN_PROGRESS', 'READY') AND x.created_at >= $6) AS monthly_turnover,
	EXISTS (SELECT 1 FROM transactions x
		WHERE x.requisite_id = r.id AND x.direction = 'IN'
		  AND x.status IN ('CREATED', 'IN_PROGRESS') AND x.amount = $4) AS same_amount_active
FROM bank_requisites r
JOIN traders t ON t.id = r.trader_id
LEFT JOIN devices d ON d.id = r.device_id
LEFT JOIN trader_merchants tm
	ON tm.trader_id = r.trader_id AND tm.merchant_id = $2 AND tm.method_id = $3
WHERE r.method_type = $1
  AND r.is_archived = FALSE
  AND r.is_active = TRUE
ORDER BY r.updated_at ASC, r.id
FOR UPDATE OF r SKIP LOCKED
`

// FindRequisiteCandidates returns the active pool for a method type, least
// recently used first, with the per-requisite statistics the allocator needs.
func (q *Queries) FindRequisiteCandidates(ctx context.Context, arg RequisiteCandidateParams) ([]models.RequisiteCandidate, error) {
	rows, err := q.db.Query(ctx, findRequisiteCandidates,
		string(arg.MethodType), ToPgUUID(arg.MerchantID), ToPgUUID(arg.MethodID), arg.Amount, arg.DayStart, arg.MonthStart,
	)
	if err != nil {
		return nil, fmt.Errorf("query requisite candidates: %w", err)
	}
	defer rows.Close()

	var items []models.RequisiteCandidate
	for rows.Next() {
		var (
			req                                 requisiteDest
			c                                   models.RequisiteCandidate
			traderID                            pgtype.UUID
			deviceID                            pgtype.UUID
			deviceOnline, deviceWorking         pgtype.Bool
			deviceLastActive                    pgtype.Timestamptz
			tmTrader                            pgtype.UUID
			tmMerchantOn, tmFeeInOn, tmFeeOutOn pgtype.Bool
			tmFeeIn, tmFeeOut                   pgtype.Int8
		)
		dest := append(req.fields(),
			&traderID, &c.Trader.Name, &c.Trader.TrustBalance, &c.Trader.FrozenUsdt, &c.Trader.ProfitFromDeals, &c.Trader.Deposit, &c.Trader.Banned,
			&c.Trader.TrafficEnabled, &c.Trader.MinAmountPerRequisite, &c.Trader.MaxAmountPerRequisite, &c.Trader.DisputeLimit,
			&deviceID, &deviceOnline, &deviceWorking, &deviceLastActive,
			&tmTrader, &tmMerchantOn, &tmFeeInOn, &tmFeeOutOn, &tmFeeIn, &tmFeeOut,
			&c.OpenDisputes, &c.DailyCount, &c.DailyTurnover, &c.MonthlyTurnover, &c.SameAmountActive,
		)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan requisite candidate: %w", err)
		}

		c.Requisite = req.value()
		c.Trader.ID = FromPgUUID(traderID)
		if deviceID.Valid {
			c.Device = &models.Device{
				ID:           FromPgUUID(deviceID),
				TraderID:     c.Trader.ID,
				IsOnline:     deviceOnline.Bool,
				IsWorking:    deviceWorking.Bool,
				LastActiveAt: fromPgTime(deviceLastActive),
			}
		}
		if tmTrader.Valid {
			c.Connection = &models.TraderMerchant{
				TraderID:          c.Trader.ID,
				MerchantID:        arg.MerchantID,
				MethodID:          arg.MethodID,
				IsMerchantEnabled: tmMerchantOn.Bool,
				IsFeeInEnabled:    tmFeeInOn.Bool,
				IsFeeOutEnabled:   tmFeeOutOn.Bool,
				FeeIn:             tmFeeIn.Int64,
				FeeOut:            tmFeeOut.Int64,
			}
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const touchRequisite = `-- name: TouchRequisite :execrows
UPDATE bank_requisites
SET updated_at = $3
WHERE id = $1 AND updated_at = $2
`

// TouchRequisite moves the requisite to the back of the rotation. It only
// succeeds if nobody touched it since prevUpdatedAt was read.
func (q *Queries) TouchRequisite(ctx context.Context, id uuid.UUID, prevUpdatedAt, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, touchRequisite, ToPgUUID(id), prevUpdatedAt, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const archiveRequisite = `-- name: ArchiveRequisite :execrows
UPDATE bank_requisites
SET is_archived = TRUE, is_active = FALSE, updated_at = $2
WHERE id = $1 AND is_archived = FALSE
`

func (q *Queries) ArchiveRequisite(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, archiveRequisite, ToPgUUID(id), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

package repository

import (
	"context"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const createMerchant = `-- name: CreateMerchant :one
INSERT INTO merchants (id, name, api_key, callback_secret, disabled)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, name, api_key, callback_secret, disabled, created_at
`

func (q *Queries) CreateMerchant(ctx context.Context, m models.Merchant) (models.Merchant, error) {
	row := q.db.QueryRow(ctx, createMerchant, ToPgUUID(m.ID), m.Name, m.APIKey, m.CallbackSecret, m.Disabled)
	return scanMerchant(row)
}

const getMerchant = `-- name: GetMerchant :one
SELECT id, name, api_key, callback_secret, disabled, created_at
FROM merchants
WHERE id = $1
`

func (q *Queries) GetMerchant(ctx context.Context, id uuid.UUID) (models.Merchant, error) {
	return scanMerchant(q.db.QueryRow(ctx, getMerchant, ToPgUUID(id)))
}

const getMerchantByAPIKey = `-- name: GetMerchantByAPIKey :one
SELECT id, name, api_key, callback_secret, disabled, created_at
FROM merchants
WHERE api_key = $1
`

func (q *Queries) GetMerchantByAPIKey(ctx context.Context, apiKey string) (models.Merchant, error) {
	return scanMerchant(q.db.QueryRow(ctx, getMerchantByAPIKey, apiKey))
}

func scanMerchant(row rowScanner) (models.Merchant, error) {
	var (
		m  models.Merchant
		id pgtype.UUID
	)
	if err := row.Scan(&id, &m.Name, &m.APIKey, &m.CallbackSecret, &m.Disabled, &m.CreatedAt); err != nil {
		return models.Merchant{}, notFound(err)
	}
	m.ID = FromPgUUID(id)
	return m, nil
}

const createMethod = `-- name: CreateMethod :one
INSERT INTO methods (id, code, type, kkk_percent, kkk_operation, enabled)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, code, type, kkk_percent, kkk_operation, enabled
`

func (q *Queries) CreateMethod(ctx context.Context, m models.Method) (models.Method, error) {
	row := q.db.QueryRow(ctx, createMethod, ToPgUUID(m.ID), m.Code, string(m.Type), m.KKKPercent, string(m.KKKOperation), m.Enabled)
	return scanMethod(row)
}

const getMethod = `-- name: GetMethod :one
SELECT id, code, type, kkk_percent, kkk_operation, enabled
FROM methods
WHERE id = $1
`

func (q *Queries) GetMethod(ctx context.Context, id uuid.UUID) (models.Method, error) {
	return scanMethod(q.db.QueryRow(ctx, getMethod, ToPgUUID(id)))
}

const getMethodByCode = `-- name: GetMethodByCode :one
SELECT id, code, type, kkk_percent, kkk_operation, enabled
FROM methods
WHERE code = $1
`

func (q *Queries) GetMethodByCode(ctx context.Context, code string) (models.Method, error) {
	return scanMethod(q.db.QueryRow(ctx, getMethodByCode, code))
}

func scanMethod(row rowScanner) (models.Method, error) {
	var (
		m            models.Method
		id           pgtype.UUID
		methodType   string
		kkkOperation string
	)
	if err := row.Scan(&id, &m.Code, &methodType, &m.KKKPercent, &kkkOperation, &m.Enabled); err != nil {
		return models.Method{}, notFound(err)
	}
	m.ID = FromPgUUID(id)
	m.Type = domain.MethodType(methodType)
	m.KKKOperation = domain.KKKOperation(kkkOperation)
	return m, nil
}

const upsertMerchantMethod = `-- name: UpsertMerchantMethod :exec
INSERT INTO merchant_methods (merchant_id, method_id, enabled)
VALUES ($1, $2, $3)
ON CONFLICT (merchant_id, method_id) DO UPDATE SET enabled = EXCLUDED.enabled
`

func (q *Queries) UpsertMerchantMethod(ctx context.Context, mm models.MerchantMethod) error {
	_, err := q.db.Exec(ctx, upsertMerchantMethod, ToPgUUID(mm.MerchantID), ToPgUUID(mm.MethodID), mm.Enabled)
	return err
}

const getMerchantMethod = `-- name: GetMerchantMethod :one
SELECT merchant_id, method_id, enabled
FROM merchant_methods
WHERE merchant_id = $1 AND method_id = $2
`

func (q *Queries) GetMerchantMethod(ctx context.Context, merchantID, methodID uuid.UUID) (models.MerchantMethod, error) {
	var (
		mm               models.MerchantMethod
		merchant, method pgtype.UUID
	)
	err := q.db.QueryRow(ctx, getMerchantMethod, ToPgUUID(merchantID), ToPgUUID(methodID)).Scan(&merchant, &method, &mm.Enabled)
	if err != nil {
		return models.MerchantMethod{}, notFound(err)
	}
	mm.MerchantID = FromPgUUID(merchant)
	mm.MethodID = FromPgUUID(method)
	return mm, nil
}

const traderColumns = `id, name, trust_balance, frozen_usdt, profit_from_deals, deposit, banned,
	traffic_enabled, min_amount_per_requisite, max_amount_per_requisite, dispute_limit`

const createTrader = `-- name: CreateTrader :one
INSERT INTO traders (id, name, trust_balance, deposit, banned, traffic_enabled,
	min_amount_per_requisite, max_amount_per_requisite, dispute_limit)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + traderColumns

func (q *Queries) CreateTrader(ctx context.Context, t models.Trader) (models.Trader, error) {
	row := q.db.QueryRow(ctx, createTrader,
		ToPgUUID(t.ID), t.Name, t.TrustBalance, t.Deposit, t.Banned, t.TrafficEnabled,
		t.MinAmountPerRequisite, t.MaxAmountPerRequisite, t.DisputeLimit,
	)
	return scanTrader(row)
}

const getTrader = `-- name: GetTrader :one
SELECT ` + traderColumns + `
FROM traders
WHERE id = $1
`

func (q *Queries) GetTrader(ctx context.Context, id uuid.UUID) (models.Trader, error) {
	return scanTrader(q.db.QueryRow(ctx, getTrader, ToPgUUID(id)))
}

func scanTrader(row rowScanner) (models.Trader, error) {
	var (
		t  models.Trader
		id pgtype.UUID
	)
	err := row.Scan(&id, &t.Name, &t.TrustBalance, &t.FrozenUsdt, &t.ProfitFromDeals, &t.Deposit, &t.Banned,
		&t.TrafficEnabled, &t.MinAmountPerRequisite, &t.MaxAmountPerRequisite, &t.DisputeLimit)
	if err != nil {
		return models.Trader{}, notFound(err)
	}
	t.ID = FromPgUUID(id)
	return t, nil
}

const upsertTraderMerchant = `-- name: UpsertTraderMerchant :exec
INSERT INTO trader_merchants (trader_id, merchant_id, method_id, is_merchant_enabled,
	is_fee_in_enabled, is_fee_out_enabled, fee_in, fee_out)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (trader_id, merchant_id, method_id) DO UPDATE SET
	is_merchant_enabled = EXCLUDED.is_merchant_enabled,
	is_fee_in_enabled = EXCLUDED.is_fee_in_enabled,
	is_fee_out_enabled = EXCLUDED.is_fee_out_enabled,
	fee_in = EXCLUDED.fee_in,
	fee_out = EXCLUDED.fee_out
`

func (q *Queries) UpsertTraderMerchant(ctx context.Context, tm models.TraderMerchant) error {
	_, err := q.db.Exec(ctx, upsertTraderMerchant,
		ToPgUUID(tm.TraderID), ToPgUUID(tm.MerchantID), ToPgUUID(tm.MethodID), tm.IsMerchantEnabled,
		tm.IsFeeInEnabled, tm.IsFeeOutEnabled, tm.FeeIn, tm.FeeOut,
	)
	return err
}

const deviceColumns = `id, trader_id, token, name, is_online, is_working, last_active_at`

const createDevice = `-- name: CreateDevice :one
INSERT INTO devices (id, trader_id, token, name, is_online, is_working, last_active_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + deviceColumns

func (q *Queries) CreateDevice(ctx context.Context, d models.Device) (models.Device, error) {
	row := q.db.QueryRow(ctx, createDevice,
		ToPgUUID(d.ID), ToPgUUID(d.TraderID), d.Token, d.Name, d.IsOnline, d.IsWorking, toPgTime(d.LastActiveAt),
	)
	return scanDevice(row)
}

const getDevice = `-- name: GetDevice :one
SELECT ` + deviceColumns + ` FROM devices WHERE id = $1
`

func (q *Queries) GetDevice(ctx context.Context, id uuid.UUID) (models.Device, error) {
	return scanDevice(q.db.QueryRow(ctx, getDevice, ToPgUUID(id)))
}

const getDeviceByToken = `-- name: GetDeviceByToken :one
SELECT ` + deviceColumns + ` FROM devices WHERE token = $1
`

func (q *Queries) GetDeviceByToken(ctx context.Context, token string) (models.Device, error) {
	return scanDevice(q.db.QueryRow(ctx, getDeviceByToken, token))
}

func scanDevice(row rowScanner) (models.Device, error) {
	var (
		d            models.Device
		id, trader   pgtype.UUID
		lastActiveAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &trader, &d.Token, &d.Name, &d.IsOnline, &d.IsWorking, &lastActiveAt); err != nil {
		return models.Device{}, notFound(err)
	}
	d.ID = FromPgUUID(id)
	d.TraderID = FromPgUUID(trader)
	d.LastActiveAt = fromPgTime(lastActiveAt)
	return d, nil
}

const touchDevice = `-- name: TouchDevice :execrows
UPDATE devices
SET is_online = TRUE, last_active_at = $2
WHERE id = $1
`

func (q *Queries) TouchDevice(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, touchDevice, ToPgUUID(id), at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markStaleDevicesOffline = `-- name: MarkStaleDevicesOffline :execrows
UPDATE devices
SET is_online = FALSE
WHERE is_online = TRUE
  AND (last_active_at IS NULL OR last_active_at < $1)
`

func (q *Queries) MarkStaleDevicesOffline(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, markStaleDevicesOffline, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

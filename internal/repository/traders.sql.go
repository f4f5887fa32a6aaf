package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const creditTraderTrust = `-- name: CreditTraderTrust :execrows
UPDATE traders
SET trust_balance = trust_balance + $2
WHERE id = $1 AND trust_balance + $2 >= frozen_usdt
`

func (q *Queries) CreditTraderTrust(ctx context.Context, traderID uuid.UUID, amount int64) (int64, error) {
	tag, err := q.db.Exec(ctx, creditTraderTrust, ToPgUUID(traderID), amount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const freezeTraderFunds = `-- name: FreezeTraderFunds :execrows
UPDATE traders
SET frozen_usdt = frozen_usdt + $2
WHERE id = $1 AND trust_balance - frozen_usdt >= $2
`

// FreezeTraderFunds reserves amount; zero rows means the available balance
// is insufficient.
func (q *Queries) FreezeTraderFunds(ctx context.Context, traderID uuid.UUID, amount int64) (int64, error) {
	tag, err := q.db.Exec(ctx, freezeTraderFunds, ToPgUUID(traderID), amount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const releaseTraderFunds = `-- name: ReleaseTraderFunds :execrows
UPDATE traders
SET frozen_usdt = frozen_usdt - $2
WHERE id = $1 AND frozen_usdt >= $2
`

func (q *Queries) ReleaseTraderFunds(ctx context.Context, traderID uuid.UUID, amount int64) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseTraderFunds, ToPgUUID(traderID), amount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const settleTraderFunds = `-- name: SettleTraderFunds :execrows
UPDATE traders
SET frozen_usdt = frozen_usdt - $2,
    trust_balance = trust_balance - $2,
    profit_from_deals = profit_from_deals + $3
WHERE id = $1 AND frozen_usdt >= $2 AND trust_balance >= $2
`

// SettleTraderFunds converts a reservation into a debit and credits profit in
// a single statement.
func (q *Queries) SettleTraderFunds(ctx context.Context, arg SettleTraderFundsParams) (int64, error) {
	tag, err := q.db.Exec(ctx, settleTraderFunds, ToPgUUID(arg.TraderID), arg.Reserved, arg.Profit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listFrozenImbalances = `-- name: ListFrozenImbalances :many
SELECT t.id, t.frozen_usdt, COALESCE(SUM(x.frozen_usdt + x.commission), 0)::BIGINT AS held
FROM traders t
LEFT JOIN transactions x
	ON x.trader_id = t.id AND x.settled_at IS NULL AND x.status IN ('IN_PROGRESS', 'DISPUTE')
GROUP BY t.id, t.frozen_usdt
HAVING t.frozen_usdt <> COALESCE(SUM(x.frozen_usdt + x.commission), 0)
ORDER BY t.id
`

// ListFrozenImbalances returns traders whose frozen balance differs from the
// reservations of their unsettled transactions.
func (q *Queries) ListFrozenImbalances(ctx context.Context) ([]FrozenImbalance, error) {
	rows, err := q.db.Query(ctx, listFrozenImbalances)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []FrozenImbalance
	for rows.Next() {
		var (
			id pgtype.UUID
			i  FrozenImbalance
		)
		if err := rows.Scan(&id, &i.Frozen, &i.Held); err != nil {
			return nil, err
		}
		i.TraderID = FromPgUUID(id)
		items = append(items, i)
	}
	return items, rows.Err()
}

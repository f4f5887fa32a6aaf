package service

import (
	"context"
	"testing"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequisiteCreate(t *testing.T) {
	env := newTestEnv(t)
	svc := NewRequisiteService(env.store).WithClock(env.clock.Now)
	ctx := context.Background()

	r, err := svc.Create(ctx, RequisiteInput{
		TraderID:      env.trader.ID,
		MethodType:    domain.MethodTypeCard,
		BankType:      domain.BankSberbank,
		Number:        "4111 1111 1111 1111",
		RecipientName: " Anna A. ",
		MinAmount:     decimal.NewFromInt(500),
		MaxAmount:     decimal.NewFromInt(20000),
		DeviceID:      &env.device.ID,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "4111111111111111", r.CardNumber)
	assert.Equal(t, "Anna A.", r.RecipientName)
	assert.True(t, r.IsActive)
	assert.Equal(t, micros("500"), r.MinAmount)

	audit := env.store.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, domain.EntityRequisite, audit[0].EntityType)
	assert.Equal(t, r.ID, audit[0].EntityID)

	sbp, err := svc.Create(ctx, RequisiteInput{
		TraderID:   env.trader.ID,
		MethodType: domain.MethodTypeSBP,
		BankType:   domain.BankTBank,
		Number:     "+7 (912) 345-67-89",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "79123456789", sbp.CardNumber)
}

func TestRequisiteCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	svc := NewRequisiteService(env.store)
	ctx := context.Background()
	stranger := env.addTrader(t, "10")
	foreignDevice := env.addDevice(t, stranger.ID, "foreign")

	valid := func() RequisiteInput {
		return RequisiteInput{
			TraderID:   env.trader.ID,
			MethodType: domain.MethodTypeCard,
			BankType:   domain.BankVTB,
			Number:     "4111111111111111",
		}
	}
	cases := map[string]func(in *RequisiteInput){
		"checksum":         func(in *RequisiteInput) { in.Number = "4111111111111112" },
		"letters":          func(in *RequisiteInput) { in.Number = "4111-abcd-1111-1111" },
		"short card":       func(in *RequisiteInput) { in.Number = "411111" },
		"short phone":      func(in *RequisiteInput) { in.MethodType = domain.MethodTypeSBP; in.Number = "912345" },
		"unknown method":   func(in *RequisiteInput) { in.MethodType = "crypto" },
		"min above max":    func(in *RequisiteInput) { in.MinAmount = decimal.NewFromInt(10); in.MaxAmount = decimal.NewFromInt(5) },
		"negative limit":   func(in *RequisiteInput) { in.DailyLimit = decimal.NewFromInt(-1) },
		"foreign device":   func(in *RequisiteInput) { in.DeviceID = &foreignDevice.ID },
		"negative max txs": func(in *RequisiteInput) { in.MaxTransactions = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid()
			mutate(&in)
			_, err := svc.Create(ctx, in, nil)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestRequisiteArchive(t *testing.T) {
	env := newTestEnv(t)
	svc := NewRequisiteService(env.store)
	ctx := context.Background()

	other := uuid.New()
	err := svc.Archive(ctx, env.requisite.ID, &other, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.Archive(ctx, env.requisite.ID, &env.trader.ID, nil))
	require.NoError(t, svc.Archive(ctx, env.requisite.ID, &env.trader.ID, nil))

	r, err := env.store.Queries().GetRequisite(ctx, env.requisite.ID)
	require.NoError(t, err)
	assert.True(t, r.IsArchived)

	_, err = env.allocator.Allocate(ctx, env.request("1000"))
	assert.ErrorIs(t, err, domain.ErrNoRequisite)

	assert.ErrorIs(t, svc.Archive(ctx, uuid.New(), nil, nil), domain.ErrNotFound)
}

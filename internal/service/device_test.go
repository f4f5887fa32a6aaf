package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicePingAndWatchdog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.devices.Ping(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	env.clock.Advance(3 * time.Minute)
	n, err := env.devices.MarkStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	d, err := env.store.Queries().GetDevice(ctx, env.device.ID)
	require.NoError(t, err)
	assert.False(t, d.IsOnline)

	d, err = env.devices.Ping(ctx, " device-token ")
	require.NoError(t, err)
	assert.True(t, d.IsOnline)
	assert.Equal(t, env.clock.Now(), *d.LastActiveAt)

	n, err = env.devices.MarkStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.allocate(t, "1000")
}

func TestSubmitNotification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.devices.SubmitNotification(ctx, NotificationInput{DeviceToken: "device-token", Message: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	env.clock.Advance(time.Minute)
	n, err := env.devices.SubmitNotification(ctx, NotificationInput{
		DeviceToken: "device-token",
		Message:     "Пополнение 100 ₽",
		PackageName: " ru.tinkoff ",
	})
	require.NoError(t, err)
	require.NotNil(t, n.DeviceID)
	assert.Equal(t, env.device.ID, *n.DeviceID)
	assert.Equal(t, "ru.tinkoff", n.PackageName)
	assert.Equal(t, env.clock.Now(), n.Timestamp)
	assert.False(t, n.IsProcessed)

	d, err := env.store.Queries().GetDevice(ctx, env.device.ID)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), *d.LastActiveAt)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/config"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationInput is a bank push notification forwarded by a device.
type NotificationInput struct {
	DeviceToken string
	Message     string
	Timestamp   time.Time
	PackageName string
}

// DeviceService handles device heartbeats and notification intake.
type DeviceService struct {
	store    QueryStore
	settings *config.SettingsHolder
	now      func() time.Time
}

func NewDeviceService(store QueryStore, settings *config.SettingsHolder) *DeviceService {
	return &DeviceService{store: store, settings: settings, now: utcNow}
}

// WithClock replaces the time source.
func (s *DeviceService) WithClock(now func() time.Time) *DeviceService {
	s.now = now
	return s
}

// Ping marks the device online and refreshes its last activity.
func (s *DeviceService) Ping(ctx context.Context, token string) (models.Device, error) {
	queries := s.store.Queries()
	device, err := queries.GetDeviceByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return models.Device{}, err
	}
	now := s.now()
	rows, err := queries.TouchDevice(ctx, device.ID, now)
	if err != nil {
		return models.Device{}, fmt.Errorf("touch device: %w", err)
	}
	if err := requireExactlyOne(rows, "touch device"); err != nil {
		return models.Device{}, err
	}
	device.IsOnline = true
	device.LastActiveAt = &now
	return device, nil
}

// SubmitNotification stores a notification for the matcher. Unknown tokens
// are stored without a device and later closed as NO_DEVICE.
func (s *DeviceService) SubmitNotification(ctx context.Context, in NotificationInput) (models.Notification, error) {
	if strings.TrimSpace(in.Message) == "" {
		return models.Notification{}, fmt.Errorf("%w: message text is required", domain.ErrInvalidInput)
	}

	queries := s.store.Queries()
	now := s.now()
	n := models.Notification{
		ID:          uuid.New(),
		PackageName: strings.TrimSpace(in.PackageName),
		Message:     in.Message,
		Timestamp:   in.Timestamp.UTC(),
		CreatedAt:   now,
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}

	device, err := queries.GetDeviceByToken(ctx, strings.TrimSpace(in.DeviceToken))
	switch {
	case err == nil:
		n.DeviceID = &device.ID
		if _, err := queries.TouchDevice(ctx, device.ID, now); err != nil {
			zap.L().Warn("device activity update failed", zap.String("device_id", device.ID.String()), zap.Error(err))
		}
	case errors.Is(err, domain.ErrNotFound):
		zap.L().Warn("notification from unknown device token")
	default:
		return models.Notification{}, fmt.Errorf("load device: %w", err)
	}

	created, err := queries.CreateNotification(ctx, n)
	if err != nil {
		return models.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	return created, nil
}

// MarkStale takes devices offline once they have been silent for longer than
// the configured threshold. Their requisites stop receiving traffic.
func (s *DeviceService) MarkStale(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.settings.Load().DeviceOfflineAfter)
	n, err := s.store.Queries().MarkStaleDevicesOffline(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("mark stale devices offline: %w", err)
	}
	if n > 0 {
		zap.L().Info("devices marked offline", zap.Int64("count", n))
	}
	return n, nil
}

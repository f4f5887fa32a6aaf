package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/service"
)

// DeviceHandler receives heartbeats and bank notifications from trader phones.
type DeviceHandler struct {
	devices *service.DeviceService
}

func NewDeviceHandler(devices *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

type pingRequest struct {
	DeviceToken string `json:"deviceToken" validate:"required,max=256"`
}

type notificationRequest struct {
	DeviceToken string    `json:"deviceToken" validate:"required,max=256"`
	MessageText string    `json:"messageText" validate:"required,max=4096"`
	Timestamp   time.Time `json:"timestamp"`
	PackageName string    `json:"packageName" validate:"max=256"`
}

func (h *DeviceHandler) Ping(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.devices.Ping(r.Context(), req.DeviceToken); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			RespondError(w, r, http.StatusUnauthorized, "auth/unknown-device", "unknown device token")
			return
		}
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitNotification accepts a notification for asynchronous matching.
func (h *DeviceHandler) SubmitNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.devices.SubmitNotification(r.Context(), service.NotificationInput{
		DeviceToken: req.DeviceToken,
		Message:     req.MessageText,
		Timestamp:   req.Timestamp,
		PackageName: req.PackageName,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{"notificationId": n.ID.String()})
}

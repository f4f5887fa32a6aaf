package handler

import (
	"net/http"

	"github.com/ayo6706/p2p-settlement/internal/api/middleware"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountHandler exposes the admin catalogue: merchants, methods, traders,
// trader connections, devices and trust top-ups.
type AccountHandler struct {
	accounts  *service.AccountService
	reconcile *service.ReconciliationService
}

func NewAccountHandler(accounts *service.AccountService, reconcile *service.ReconciliationService) *AccountHandler {
	return &AccountHandler{accounts: accounts, reconcile: reconcile}
}

type createMerchantRequest struct {
	Name           string `json:"name" validate:"required,max=256"`
	CallbackSecret string `json:"callbackSecret" validate:"max=256"`
}

type createMethodRequest struct {
	Code         string          `json:"code" validate:"required,max=64"`
	Type         string          `json:"type" validate:"required,oneof=card sbp"`
	KKKPercent   decimal.Decimal `json:"kkkPercent"`
	KKKOperation string          `json:"kkkOperation" validate:"omitempty,oneof=MINUS PLUS"`
}

type merchantMethodRequest struct {
	Enabled bool `json:"enabled"`
}

type createTraderRequest struct {
	Name                  string          `json:"name" validate:"required,max=256"`
	Deposit               decimal.Decimal `json:"deposit"`
	MinAmountPerRequisite decimal.Decimal `json:"minAmountPerRequisite"`
	MaxAmountPerRequisite decimal.Decimal `json:"maxAmountPerRequisite"`
	DisputeLimit          *int32          `json:"disputeLimit" validate:"omitempty,gte=0"`
}

type connectTraderRequest struct {
	MerchantID    uuid.UUID       `json:"merchantId" validate:"required"`
	MethodID      uuid.UUID       `json:"methodId" validate:"required"`
	FeeIn         decimal.Decimal `json:"feeIn"`
	FeeOut        decimal.Decimal `json:"feeOut"`
	FeeInEnabled  bool            `json:"feeInEnabled"`
	FeeOutEnabled bool            `json:"feeOutEnabled"`
}

type registerDeviceRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *AccountHandler) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	var req createMerchantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.accounts.CreateMerchant(r.Context(), req.Name, req.CallbackSecret)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	// The API key is only ever returned here.
	RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     m.ID,
		"name":   m.Name,
		"apiKey": m.APIKey,
	})
}

func (h *AccountHandler) CreateMethod(w http.ResponseWriter, r *http.Request) {
	var req createMethodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.accounts.CreateMethod(r.Context(), service.MethodInput{
		Code:         req.Code,
		Type:         domain.MethodType(req.Type),
		KKKPercent:   req.KKKPercent,
		KKKOperation: domain.KKKOperation(req.KKKOperation),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, m)
}

func (h *AccountHandler) SetMerchantMethod(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	methodID, ok := pathUUID(w, r, "methodID")
	if !ok {
		return
	}
	var req merchantMethodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.EnableMerchantMethod(r.Context(), merchantID, methodID, req.Enabled); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) CreateTrader(w http.ResponseWriter, r *http.Request) {
	var req createTraderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.accounts.CreateTrader(r.Context(), service.TraderInput{
		Name:                  req.Name,
		Deposit:               req.Deposit,
		MinAmountPerRequisite: req.MinAmountPerRequisite,
		MaxAmountPerRequisite: req.MaxAmountPerRequisite,
		DisputeLimit:          req.DisputeLimit,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, t)
}

// GetTrader is open to admins and to the trader itself.
func (h *AccountHandler) GetTrader(w http.ResponseWriter, r *http.Request) {
	op, ok := requestOperator(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if !op.IsAdmin() && (op.TraderID == nil || *op.TraderID != id) {
		respondServiceError(w, r, domain.ErrNotFound)
		return
	}
	t, err := h.accounts.GetTrader(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

func (h *AccountHandler) ConnectTrader(w http.ResponseWriter, r *http.Request) {
	traderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req connectTraderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.accounts.ConnectTrader(r.Context(), service.ConnectionInput{
		TraderID:   traderID,
		MerchantID: req.MerchantID,
		MethodID:   req.MethodID,
		FeeIn:      req.FeeIn,
		FeeOut:     req.FeeOut,
		FeeInOn:    req.FeeInEnabled,
		FeeOutOn:   req.FeeOutEnabled,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	traderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req registerDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.accounts.RegisterDevice(r.Context(), traderID, req.Name)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    d.ID,
		"name":  d.Name,
		"token": d.Token,
	})
}

func (h *AccountHandler) TopUpTrust(w http.ResponseWriter, r *http.Request) {
	op, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/missing-operator", "missing operator in auth context")
		return
	}
	traderID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req topUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.accounts.TopUpTrust(r.Context(), traderID, req.Amount, &op.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

// Reconcile reports traders whose frozen balance disagrees with their open
// transactions. It never corrects balances.
func (h *AccountHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reconcile.Run(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	items := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		items = append(items, map[string]interface{}{
			"traderId": row.TraderID,
			"frozen":   domain.FromMicros(row.Frozen).StringFixed(2),
			"held":     domain.FromMicros(row.Held).StringFixed(2),
		})
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

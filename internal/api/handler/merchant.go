package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/api/middleware"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MerchantHandler serves the merchant-facing transaction API.
type MerchantHandler struct {
	allocator    *service.AllocatorService
	transactions *service.TransactionService
}

func NewMerchantHandler(allocator *service.AllocatorService, transactions *service.TransactionService) *MerchantHandler {
	return &MerchantHandler{allocator: allocator, transactions: transactions}
}

type createTransactionRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	MethodCode  string          `json:"methodCode" validate:"required,max=64"`
	Type        string          `json:"type" validate:"required,oneof=IN OUT"`
	OrderID     string          `json:"orderId" validate:"required,max=128"`
	CallbackURL string          `json:"callbackUrl" validate:"required,url"`
	SuccessURL  string          `json:"successUrl" validate:"omitempty,url"`
	FailURL     string          `json:"failUrl" validate:"omitempty,url"`
	ExpiresAt   *time.Time      `json:"expiresAt"`
}

type requisiteDetails struct {
	BankType      domain.BankType   `json:"bankType"`
	MethodType    domain.MethodType `json:"methodType"`
	Number        string            `json:"number"`
	RecipientName string            `json:"recipientName"`
}

type transactionResponse struct {
	TransactionID    uuid.UUID         `json:"transactionId"`
	Number           int64             `json:"number"`
	OrderID          string            `json:"orderId"`
	Status           domain.Status     `json:"status"`
	Amount           string            `json:"amount"`
	Rate             string            `json:"rate"`
	FrozenUsdt       string            `json:"frozenUsdt"`
	Commission       string            `json:"commission"`
	CreatedAt        time.Time         `json:"createdAt"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	AcceptedAt       *time.Time        `json:"acceptedAt,omitempty"`
	RequisiteDetails *requisiteDetails `json:"requisiteDetails,omitempty"`
}

func newTransactionResponse(tx models.Transaction, r *models.BankRequisite) transactionResponse {
	resp := transactionResponse{
		TransactionID: tx.ID,
		Number:        tx.Number,
		OrderID:       tx.OrderID,
		Status:        tx.Status,
		Amount:        domain.FromMicros(tx.Amount).StringFixed(2),
		Rate:          domain.FromMicros(tx.AdjustedRate).StringFixed(4),
		FrozenUsdt:    domain.FromMicros(tx.FrozenUsdt).StringFixed(2),
		Commission:    domain.FromMicros(tx.Commission).StringFixed(2),
		CreatedAt:     tx.CreatedAt,
		ExpiresAt:     tx.ExpiresAt,
		AcceptedAt:    tx.AcceptedAt,
	}
	if r != nil {
		resp.RequisiteDetails = &requisiteDetails{
			BankType:      r.BankType,
			MethodType:    r.MethodType,
			Number:        r.CardNumber,
			RecipientName: r.RecipientName,
		}
	}
	return resp
}

func (h *MerchantHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/missing-merchant", "missing merchant in auth context")
		return
	}

	var req createTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if domain.Direction(req.Type) == domain.DirectionOut {
		RespondError(w, r, http.StatusUnprocessableEntity, "allocation/direction-unsupported", "OUT transactions are served by the payout distributor")
		return
	}

	alloc, err := h.allocator.Allocate(r.Context(), service.AllocationRequest{
		MerchantID:  merchant.ID,
		MethodCode:  strings.TrimSpace(req.MethodCode),
		Direction:   domain.DirectionIn,
		Amount:      req.Amount,
		OrderID:     strings.TrimSpace(req.OrderID),
		CallbackURL: req.CallbackURL,
		SuccessURL:  req.SuccessURL,
		FailURL:     req.FailURL,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusCreated, newTransactionResponse(alloc.Transaction, &alloc.Requisite))
}

func (h *MerchantHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	merchant, _ := middleware.MerchantFromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	tx, err := h.transactions.GetForMerchant(r.Context(), merchant.ID, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var requisite *models.BankRequisite
	if tx.Status == domain.StatusInProgress {
		if requisite, err = h.transactions.Requisite(r.Context(), tx); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}
	RespondJSON(w, http.StatusOK, newTransactionResponse(tx, requisite))
}

func (h *MerchantHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	merchant, _ := middleware.MerchantFromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	tx, err := h.transactions.CancelForMerchant(r.Context(), merchant.ID, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, newTransactionResponse(tx, nil))
}

func (h *MerchantHandler) ListCallbacks(w http.ResponseWriter, r *http.Request) {
	merchant, _ := middleware.MerchantFromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	history, err := h.transactions.CallbackHistory(r.Context(), merchant.ID, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []models.CallbackHistory{}
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"items": history})
}

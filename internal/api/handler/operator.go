package handler

import (
	"net/http"

	"github.com/ayo6706/p2p-settlement/internal/api/middleware"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/ayo6706/p2p-settlement/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperatorHandler serves manual actions of admins and traders. Traders only
// see their own transactions and requisites.
type OperatorHandler struct {
	transactions *service.TransactionService
	requisites   *service.RequisiteService
}

func NewOperatorHandler(transactions *service.TransactionService, requisites *service.RequisiteService) *OperatorHandler {
	return &OperatorHandler{transactions: transactions, requisites: requisites}
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1024"`
}

type resolveRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=READY CANCELED"`
	Reason  string `json:"reason" validate:"max=1024"`
}

type createRequisiteRequest struct {
	TraderID        *uuid.UUID      `json:"traderId"`
	MethodType      string          `json:"methodType" validate:"required,oneof=card sbp"`
	BankType        string          `json:"bankType" validate:"required"`
	Number          string          `json:"number" validate:"required,max=32"`
	RecipientName   string          `json:"recipientName" validate:"max=256"`
	MinAmount       decimal.Decimal `json:"minAmount"`
	MaxAmount       decimal.Decimal `json:"maxAmount"`
	DailyLimit      decimal.Decimal `json:"dailyLimit"`
	MonthlyLimit    decimal.Decimal `json:"monthlyLimit"`
	MaxTransactions int32           `json:"maxTransactions" validate:"gte=0"`
	DeviceID        *uuid.UUID      `json:"deviceId"`
}

// ownedTransaction loads the path transaction and hides it from traders it
// does not belong to.
func (h *OperatorHandler) ownedTransaction(w http.ResponseWriter, r *http.Request) (middleware.Operator, uuid.UUID, bool) {
	op, ok := requestOperator(w, r)
	if !ok {
		return op, uuid.Nil, false
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return op, uuid.Nil, false
	}
	if op.IsAdmin() {
		return op, id, true
	}
	tx, err := h.transactions.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return op, uuid.Nil, false
	}
	if tx.TraderID == nil || op.TraderID == nil || *tx.TraderID != *op.TraderID {
		respondServiceError(w, r, domain.ErrNotFound)
		return op, uuid.Nil, false
	}
	return op, id, true
}

func (h *OperatorHandler) Accept(w http.ResponseWriter, r *http.Request) {
	op, id, ok := h.ownedTransaction(w, r)
	if !ok {
		return
	}
	tx, err := h.transactions.Accept(r.Context(), id, &op.ID)
	h.respondTransaction(w, r, tx, err)
}

func (h *OperatorHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	op, id, ok := h.ownedTransaction(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	tx, err := h.transactions.Cancel(r.Context(), id, &op.ID, req.Reason)
	h.respondTransaction(w, r, tx, err)
}

func (h *OperatorHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	op, id, ok := h.ownedTransaction(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	tx, err := h.transactions.OpenDispute(r.Context(), id, &op.ID, req.Reason)
	h.respondTransaction(w, r, tx, err)
}

// ResolveDispute is admin only, see the router.
func (h *OperatorHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	op, id, ok := h.ownedTransaction(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := domain.ParseStatus(req.Outcome)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	tx, err := h.transactions.ResolveDispute(r.Context(), id, &op.ID, outcome, req.Reason)
	h.respondTransaction(w, r, tx, err)
}

func (h *OperatorHandler) respondTransaction(w http.ResponseWriter, r *http.Request, tx models.Transaction, err error) {
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

func (h *OperatorHandler) CreateRequisite(w http.ResponseWriter, r *http.Request) {
	op, ok := requestOperator(w, r)
	if !ok {
		return
	}
	var req createRequisiteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var traderID uuid.UUID
	switch {
	case !op.IsAdmin():
		if req.TraderID != nil && *req.TraderID != *op.TraderID {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "traders manage their own requisites")
			return
		}
		traderID = *op.TraderID
	case req.TraderID == nil:
		RespondError(w, r, http.StatusBadRequest, "request/validation", "traderId is required")
		return
	default:
		traderID = *req.TraderID
	}

	bank, err := domain.ParseBankType(req.BankType)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	created, err := h.requisites.Create(r.Context(), service.RequisiteInput{
		TraderID:        traderID,
		MethodType:      domain.MethodType(req.MethodType),
		BankType:        bank,
		Number:          req.Number,
		RecipientName:   req.RecipientName,
		MinAmount:       req.MinAmount,
		MaxAmount:       req.MaxAmount,
		DailyLimit:      req.DailyLimit,
		MonthlyLimit:    req.MonthlyLimit,
		MaxTransactions: req.MaxTransactions,
		DeviceID:        req.DeviceID,
	}, &op.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, created)
}

func (h *OperatorHandler) ArchiveRequisite(w http.ResponseWriter, r *http.Request) {
	op, ok := requestOperator(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var owner *uuid.UUID
	if !op.IsAdmin() {
		owner = op.TraderID
	}
	if err := h.requisites.Archive(r.Context(), id, owner, &op.ID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

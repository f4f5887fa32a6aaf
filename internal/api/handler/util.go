package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/p2p-settlement/internal/api/middleware"
	"github.com/ayo6706/p2p-settlement/internal/api/problem"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// decodeJSON reads a bounded JSON body into dst and runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation", validationMessage(err))
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeJSON(w, r, dst)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func requestOperator(w http.ResponseWriter, r *http.Request) (middleware.Operator, bool) {
	op, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/missing-operator", "missing operator in auth context")
	}
	return op, ok
}

// respondServiceError maps domain errors onto problem documents.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if status, problemType, message, ok := mapDBError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}

	var (
		status int
		slug   string
		code   string
	)
	switch {
	case errors.Is(err, domain.ErrNoRequisite):
		status, slug, code = http.StatusConflict, "allocation/no-requisite", "NO_REQUISITE"
	case errors.Is(err, domain.ErrDuplicateOrder):
		status, slug, code = http.StatusConflict, "allocation/duplicate-order", "DUPLICATE_ORDER"
	case errors.Is(err, domain.ErrMethodUnavailable):
		status, slug, code = http.StatusUnprocessableEntity, "allocation/method-unavailable", "METHOD_UNAVAILABLE"
	case errors.Is(err, domain.ErrMerchantDisabled):
		status, slug, code = http.StatusForbidden, "auth/merchant-disabled", "MERCHANT_DISABLED"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrParseFailed):
		status, slug, code = http.StatusBadRequest, "request/invalid-input", "INVALID_INPUT"
	case errors.Is(err, domain.ErrNotFound):
		status, slug, code = http.StatusNotFound, "not-found", "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, slug, code = http.StatusConflict, "transaction/invalid-transition", "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrStaleState):
		status, slug, code = http.StatusConflict, "transaction/stale-state", "STALE_STATE"
	case errors.Is(err, domain.ErrInsufficientBalance):
		status, slug, code = http.StatusConflict, "trader/insufficient-balance", "INSUFFICIENT_BALANCE"
	default:
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
		return
	}
	problem.WriteCode(w, r, status, problem.Type(slug), code, http.StatusText(status), err.Error())
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

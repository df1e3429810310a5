package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/riscambio/riscambio/internal/api/middleware"
	"github.com/riscambio/riscambio/internal/api/problem"
	"github.com/riscambio/riscambio/internal/models"
)

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

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == "admin", nil
}

// mapServiceError translates well-known service errors to HTTP responses.
// It returns false when the error is unexpected and the caller should log
// and answer 500.
func mapServiceError(err error) (status int, problemType, message string, ok bool) {
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "request/validation", vErr.Error(), true
	case errors.Is(err, models.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction/not-found", "transaction not found", true
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusBadRequest, "ledger/insufficient-funds", "insufficient available balance", true
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "transaction/invalid-transition", err.Error(), true
	case errors.Is(err, models.ErrRateUnavailable):
		return http.StatusServiceUnavailable, "rates/unavailable", "exchange rates are not available", true
	case errors.Is(err, models.ErrGatewayReferenceMismatch):
		return http.StatusConflict, "gateway/reference-mismatch", "gateway reference does not match", true
	}
	return 0, "", "", false
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

package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/service"
	"github.com/riscambio/riscambio/internal/store"
)

// TransactionHandler serves the read side: transactions, history, balances.
type TransactionHandler struct {
	queries *service.QueryService
}

func NewTransactionHandler(queries *service.QueryService) *TransactionHandler {
	return &TransactionHandler{queries: queries}
}

// GetTransaction handles GET /v1/transactions/{id}.
// Admins can read any transaction; users only their own.
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	ownerScope := actorID
	if isAdmin {
		ownerScope = uuid.Nil
	}
	tx, err := h.queries.GetTransaction(r.Context(), txID, ownerScope)
	if err != nil {
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("get transaction failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		RespondError(w, r, http.StatusInternalServerError, "transaction/read-failed", "Failed to get transaction")
		return
	}

	RespondJSON(w, http.StatusOK, tx)
}

// ListTransactions handles GET /v1/transactions.
// Supports kind, status, limit and offset query parameters.
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	filter := store.ListFilter{Limit: 50}
	if v := strings.TrimSpace(r.URL.Query().Get("kind")); v != "" {
		if v != domain.KindRecharge && v != domain.KindWithdrawal {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-kind", "kind must be recharge or withdrawal")
			return
		}
		filter.Kind = v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		status := domain.ParseStatus(v)
		if !status.Valid() {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-status", "unknown status")
			return
		}
		filter.Status = status
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return
		}
		filter.Limit = int32(parsed)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return
		}
		filter.Offset = int32(parsed)
	}

	txs, err := h.queries.ListTransactions(r.Context(), actorID, filter)
	if err != nil {
		zap.L().Error("list transactions failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "transaction/list-failed", "Failed to list transactions")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  txs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"count":  len(txs),
	})
}

// GetHistory handles GET /v1/transactions/{id}/history.
func (h *TransactionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	ownerScope := actorID
	if isAdmin {
		ownerScope = uuid.Nil
	}
	history, err := h.queries.History(r.Context(), txID, ownerScope)
	if err != nil {
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("get history failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		RespondError(w, r, http.StatusInternalServerError, "transaction/history-failed", "Failed to get history")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"items": history})
}

// GetBalance handles GET /v1/balance.
func (h *TransactionHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	balance, err := h.queries.Balance(r.Context(), actorID)
	if err != nil {
		zap.L().Error("get balance failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "balance/read-failed", "Failed to get balance")
		return
	}

	RespondJSON(w, http.StatusOK, balance)
}

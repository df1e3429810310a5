package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/models"
	"github.com/riscambio/riscambio/internal/service"
)

// WithdrawalHandler handles HTTP requests for withdrawals.
type WithdrawalHandler struct {
	withdrawals *service.WithdrawalService
}

func NewWithdrawalHandler(withdrawals *service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

// CreateWithdrawalRequest represents the request body for creating a withdrawal.
type CreateWithdrawalRequest struct {
	AmountMicros int64              `json:"amount_micros"`
	Beneficiary  models.Beneficiary `json:"beneficiary"`
}

// CreateWithdrawal handles POST /v1/withdrawals.
// It reserves the RIS amount and returns 202 Accepted.
func (h *WithdrawalHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	tx, err := h.withdrawals.Create(r.Context(), service.CreateWithdrawalRequest{
		UserID:       actorID,
		AmountMicros: req.AmountMicros,
		Beneficiary:  req.Beneficiary,
	})
	if err != nil {
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("create withdrawal failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "withdrawal/create-failed", "Failed to create withdrawal")
		return
	}

	RespondJSON(w, http.StatusAccepted, tx)
}

type processWithdrawalRequest struct {
	PayoutProof string `json:"payout_proof"`
}

// ProcessWithdrawal handles POST /v1/admin/withdrawals/{id}/process (admin only).
// Confirms the bank transfer went out and commits the reservation.
func (h *WithdrawalHandler) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	var req processWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.PayoutProof = strings.TrimSpace(req.PayoutProof)

	tx, err := h.withdrawals.Process(r.Context(), txID, actorID.String(), req.PayoutProof)
	if err != nil {
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("process withdrawal failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		RespondError(w, r, http.StatusInternalServerError, "withdrawal/process-failed", "Failed to process withdrawal")
		return
	}

	RespondJSON(w, http.StatusOK, tx)
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

// RejectWithdrawal handles POST /v1/admin/withdrawals/{id}/reject (admin only).
// Releases the reserved funds back to the available balance.
func (h *WithdrawalHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	var req rejectWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)

	tx, err := h.withdrawals.Reject(r.Context(), txID, actorID.String(), req.Reason)
	if err != nil {
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("reject withdrawal failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		RespondError(w, r, http.StatusInternalServerError, "withdrawal/reject-failed", "Failed to reject withdrawal")
		return
	}

	RespondJSON(w, http.StatusOK, tx)
}

package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/service"
)

// RechargeHandler handles HTTP requests for recharges.
type RechargeHandler struct {
	recharges *service.RechargeService
}

func NewRechargeHandler(recharges *service.RechargeService) *RechargeHandler {
	return &RechargeHandler{recharges: recharges}
}

// CreateRechargeRequest represents the request body for creating a recharge.
type CreateRechargeRequest struct {
	AmountMicros int64  `json:"amount_micros"`
	Channel      string `json:"channel"`
}

// CreateRecharge handles POST /v1/recharges.
// It creates a pending recharge and returns 202 Accepted.
func (h *RechargeHandler) CreateRecharge(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateRechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	tx, err := h.recharges.Create(r.Context(), service.CreateRechargeRequest{
		UserID:       actorID,
		AmountMicros: req.AmountMicros,
		Channel:      req.Channel,
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
		zap.L().Error("create recharge failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "recharge/create-failed", "Failed to create recharge")
		return
	}

	RespondJSON(w, http.StatusAccepted, tx)
}

type attachProofRequest struct {
	ProofReference string `json:"proof_reference"`
}

// AttachProof handles POST /v1/recharges/{id}/proof.
// Moves a pending bank-transfer recharge into manual review.
func (h *RechargeHandler) AttachProof(w http.ResponseWriter, r *http.Request) {
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

	var req attachProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.ProofReference = strings.TrimSpace(req.ProofReference)

	tx, err := h.recharges.AttachProof(r.Context(), txID, actorID, req.ProofReference)
	if err != nil {
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("attach proof failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		RespondError(w, r, http.StatusInternalServerError, "recharge/proof-failed", "Failed to attach proof")
		return
	}

	RespondJSON(w, http.StatusOK, tx)
}

type decideRechargeRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// DecideRecharge handles POST /v1/admin/recharges/{id}/decision (admin only).
func (h *RechargeHandler) DecideRecharge(w http.ResponseWriter, r *http.Request) {
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

	var req decideRechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.Decision = strings.TrimSpace(strings.ToLower(req.Decision))
	req.Reason = strings.TrimSpace(req.Reason)

	var approved bool
	switch req.Decision {
	case "approve":
		approved = true
	case "reject":
		approved = false
	default:
		RespondError(w, r, http.StatusBadRequest, "request/invalid-decision", "decision must be approve or reject")
		return
	}

	tx, err := h.recharges.DecideManual(r.Context(), txID, approved, actorID.String(), req.Reason)
	if err != nil {
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("decide recharge failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		RespondError(w, r, http.StatusInternalServerError, "recharge/decision-failed", "Failed to decide recharge")
		return
	}

	RespondJSON(w, http.StatusOK, tx)
}
